package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dreamware/siridb/internal/codec"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("SIRIDB_BUFFER_SIZE", "4096")
	t.Cleanup(func() { os.Unsetenv("SIRIDB_BUFFER_SIZE") })

	srv, err := newServer(dir, "test-server", 0, 0, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(srv.close)
	return srv
}

func TestHandleInsertAndQuerySmoke(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	body, _ := json.Marshal(insertRequest{Series: "cpu.load", TS: 10, Value: float64(42)})
	resp, err := http.Post(ts.URL+"/insert", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /insert: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /insert status = %d, want 200", resp.StatusCode)
	}

	qbody, _ := json.Marshal(queryRequest{Series: "cpu.load"})
	qresp, err := http.Post(ts.URL+"/query", "application/json", bytes.NewReader(qbody))
	if err != nil {
		t.Fatalf("POST /query: %v", err)
	}
	defer qresp.Body.Close()
	if qresp.StatusCode != http.StatusOK {
		t.Fatalf("POST /query status = %d, want 200", qresp.StatusCode)
	}

	var out struct {
		Points []wirePoint `json:"points"`
	}
	if err := json.NewDecoder(qresp.Body).Decode(&out); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(out.Points) != 1 {
		t.Fatalf("got %d points, want 1", len(out.Points))
	}
	if out.Points[0].TS != 10 {
		t.Errorf("point.TS = %d, want 10", out.Points[0].TS)
	}
}

func TestHandleInsertBatch(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	body, _ := json.Marshal(insertRequest{Points: []insertPoint{
		{Series: "cpu.load", TS: 1, Value: float64(1)},
		{Series: "cpu.load", TS: 2, Value: float64(2)},
	}})
	resp, err := http.Post(ts.URL+"/insert", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /insert: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["written"] != float64(2) {
		t.Errorf("written = %v, want 2", out["written"])
	}
}

func TestHandleHealthAndInfo(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}

	infoResp, err := http.Get(ts.URL + "/info")
	if err != nil {
		t.Fatalf("GET /info: %v", err)
	}
	defer infoResp.Body.Close()
	var info map[string]interface{}
	if err := json.NewDecoder(infoResp.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info["id"] != "test-server" {
		t.Errorf("info.id = %v, want test-server", info["id"])
	}
}

func TestHandleClusterRegisterAndServers(t *testing.T) {
	srv := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	body, _ := json.Marshal(map[string]interface{}{
		"server": map[string]interface{}{"id": "peer-1", "addr": "http://peer:9010", "pool": 0, "server_of_pool": 1},
	})
	resp, err := http.Post(ts.URL+"/cluster/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /cluster/register: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /cluster/register status = %d, want 200", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/cluster/servers")
	if err != nil {
		t.Fatalf("GET /cluster/servers: %v", err)
	}
	defer listResp.Body.Close()
	var servers []map[string]interface{}
	if err := json.NewDecoder(listResp.Body).Decode(&servers); err != nil {
		t.Fatalf("decode servers: %v", err)
	}
	if len(servers) != 1 || servers[0]["id"] != "peer-1" {
		t.Errorf("servers = %+v, want one entry for peer-1", servers)
	}
}

func TestNormalizeJSONValue(t *testing.T) {
	if v := normalizeJSONValue(float64(5)); v != int64(5) {
		t.Errorf("normalizeJSONValue(5.0) = %v (%T), want int64(5)", v, v)
	}
	if v := normalizeJSONValue(float64(5.5)); v != float64(5.5) {
		t.Errorf("normalizeJSONValue(5.5) = %v, want 5.5", v)
	}
	if v := normalizeJSONValue("hi"); v != "hi" {
		t.Errorf("normalizeJSONValue(string) = %v, want unchanged", v)
	}
}

func TestBuildOpsUnknownKind(t *testing.T) {
	if _, err := buildOps([]opRequest{{Kind: "not-a-real-op"}}); err == nil {
		t.Error("expected an error for an unknown op kind")
	}
}

func TestPersistAndRecoverAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("SIRIDB_BUFFER_SIZE", "4096")
	defer os.Unsetenv("SIRIDB_BUFFER_SIZE")

	srv1, err := newServer(dir, "srv-1", 0, 0, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if err := srv1.eng.Insert("cpu.load", 10, int64(7)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := srv1.persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	srv1.close()

	if _, err := os.Stat(filepath.Join(dir, "series.dat")); err != nil {
		t.Fatalf("series.dat missing after persist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, recoveryFileName)); err != nil {
		t.Fatalf("recovery sidecar missing after persist: %v", err)
	}

	srv2, err := newServer(dir, "srv-1", 0, 0, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("newServer (reload): %v", err)
	}
	defer srv2.close()

	pts, err := srv2.eng.Query("cpu.load", codec.RangeFilter{}, nil)
	if err != nil {
		t.Fatalf("Query after reload: %v", err)
	}
	if len(pts) != 1 || pts[0].Int() != 7 {
		t.Fatalf("Query after reload = %+v, want one point with value 7", pts)
	}
}
