package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", int64(42)},
		{"3.5", float64(3.5)},
		{"hello", "hello"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestParseOps(t *testing.T) {
	if ops := parseOps(""); ops != nil {
		t.Errorf("parseOps(\"\") = %v, want nil", ops)
	}
	ops := parseOps("mean, count")
	if len(ops) != 2 || ops[0]["kind"] != "mean" || ops[1]["kind"] != "count" {
		t.Errorf("parseOps = %+v, want [mean count]", ops)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestRunInsertAndQuery(t *testing.T) {
	var insertBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/insert":
			json.NewDecoder(r.Body).Decode(&insertBody)
			json.NewEncoder(w).Encode(map[string]interface{}{"written": 1})
		case "/query":
			json.NewEncoder(w).Encode(map[string]interface{}{"points": []map[string]interface{}{
				{"ts": 10, "value": 1},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	out := captureStdout(t, func() {
		runInsert(ts.URL, []string{"-series", "cpu.load", "-ts", "10", "-value", "7"})
	})
	if insertBody["series"] != "cpu.load" {
		t.Errorf("insert body series = %v, want cpu.load", insertBody["series"])
	}
	if out == "" {
		t.Error("expected insert output, got empty string")
	}

	out = captureStdout(t, func() {
		runQuery(ts.URL, []string{"-series", "cpu.load", "-ops", "mean"})
	})
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode query output: %v", err)
	}
	if _, ok := decoded["points"]; !ok {
		t.Errorf("query output missing points: %v", decoded)
	}
}

func TestRunHealthInfoServers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/info":
			json.NewEncoder(w).Encode(map[string]interface{}{"id": "srv-1"})
		case "/cluster/servers":
			json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "srv-1"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	out := captureStdout(t, func() { runHealth(ts.URL, nil) })
	if out == "" {
		t.Error("expected health output")
	}

	out = captureStdout(t, func() { runInfo(ts.URL, nil) })
	var info map[string]interface{}
	if err := json.Unmarshal([]byte(out), &info); err != nil || info["id"] != "srv-1" {
		t.Errorf("runInfo output = %q, want id=srv-1", out)
	}

	out = captureStdout(t, func() { runServers(ts.URL, nil) })
	var servers []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &servers); err != nil || len(servers) != 1 {
		t.Errorf("runServers output = %q, want one server", out)
	}
}
