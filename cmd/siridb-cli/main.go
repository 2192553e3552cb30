// Command siridb-cli is a thin command-line client for talking to a
// siridbd server over its HTTP API: insert points, run a query, or check
// a server's health.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/siridb/internal/cluster"
)

var logFatal = log.Fatalf

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	addr := os.Getenv("SIRIDB_ADDR")
	if addr == "" {
		addr = "http://127.0.0.1:9020"
	}

	switch os.Args[1] {
	case "insert":
		runInsert(addr, os.Args[2:])
	case "query":
		runQuery(addr, os.Args[2:])
	case "health":
		runHealth(addr, os.Args[2:])
	case "info":
		runInfo(addr, os.Args[2:])
	case "servers":
		runServers(addr, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: siridb-cli <command> [flags]

commands:
  insert   write one point to a series
  query    run a query against a series
  health   check a server's /health endpoint
  info     print a server's /info endpoint
  servers  list the servers a server knows about

set SIRIDB_ADDR to override the default target (http://127.0.0.1:9020).`)
}

func runInsert(addr string, args []string) {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	series := fs.String("series", "", "series name (required)")
	ts := fs.Int64("ts", time.Now().UnixNano(), "timestamp in nanoseconds")
	value := fs.String("value", "", "value to insert (required)")
	fs.Parse(args)

	if *series == "" || *value == "" {
		fmt.Fprintln(os.Stderr, "insert: -series and -value are required")
		os.Exit(2)
	}

	body := map[string]interface{}{
		"series": *series,
		"ts":     *ts,
		"value":  parseValue(*value),
	}
	var out map[string]interface{}
	if err := cluster.PostJSON(context.Background(), addr+"/insert", body, &out); err != nil {
		fail("insert", err)
	}
	printJSON(out)
}

// parseValue guesses the intended series type from the string a user typed
// on the command line: an int literal stays an int, a float literal becomes
// a float, anything else is sent as a string.
func parseValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func runQuery(addr string, args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	series := fs.String("series", "", "series name (required)")
	start := fs.Int64("start", 0, "range start (nanoseconds)")
	end := fs.Int64("end", 0, "range end (nanoseconds)")
	ranged := fs.Bool("ranged", false, "restrict the query to [-start, -end] (inclusive)")
	ops := fs.String("ops", "", "comma-separated aggregate ops, e.g. mean,count")
	fs.Parse(args)

	if *series == "" {
		fmt.Fprintln(os.Stderr, "query: -series is required")
		os.Exit(2)
	}

	body := map[string]interface{}{
		"series": *series,
		"start":  *start,
		"end":    *end,
		"ranged": *ranged,
		"ops":    parseOps(*ops),
	}
	var out map[string]interface{}
	if err := cluster.PostJSON(context.Background(), addr+"/query", body, &out); err != nil {
		fail("query", err)
	}
	printJSON(out)
}

func parseOps(s string) []map[string]interface{} {
	if s == "" {
		return nil
	}
	kinds := strings.Split(s, ",")
	ops := make([]map[string]interface{}, 0, len(kinds))
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		ops = append(ops, map[string]interface{}{"kind": k})
	}
	return ops
}

func runHealth(addr string, args []string) {
	var out map[string]interface{}
	if err := cluster.GetJSON(context.Background(), addr+"/health", &out); err != nil {
		fail("health", err)
	}
	printJSON(out)
}

func runInfo(addr string, args []string) {
	var out map[string]interface{}
	if err := cluster.GetJSON(context.Background(), addr+"/info", &out); err != nil {
		fail("info", err)
	}
	printJSON(out)
}

func runServers(addr string, args []string) {
	var out []map[string]interface{}
	if err := cluster.GetJSON(context.Background(), addr+"/cluster/servers", &out); err != nil {
		fail("servers", err)
	}
	printJSON(out)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logFatal("siridb-cli: %v", err)
	}
}

func fail(cmd string, err error) {
	fmt.Fprintf(os.Stderr, "siridb-cli %s: %v\n", cmd, err)
	os.Exit(1)
}
