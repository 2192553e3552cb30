package main

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/dreamware/siridb/internal/aggregate"
	"github.com/dreamware/siridb/internal/cluster"
	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/reindex"
	"github.com/dreamware/siridb/internal/telemetry"
	"go.uber.org/zap"
)

func compileRegex(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}

// routes mounts every HTTP endpoint this daemon serves.
func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/insert", s.handleInsert)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/cluster/register", s.handleClusterRegister)
	mux.HandleFunc("/cluster/servers", s.handleClusterServers)
	mux.HandleFunc("/reindex/batch", s.handleReindexBatch)
	mux.Handle("/metrics", telemetry.Handler(s.reg))
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             s.id,
		"pool":           s.pool,
		"server_of_pool": s.serverOf,
		"active_writes":  s.eng.ActiveWrites(),
	})
}

// insertPoint is one (timestamp, value) pair targeting a named series;
// Value is decoded loosely (json.Number-free) since int/float/string all
// arrive as plain JSON scalars and engine.Insert dispatches on Go type.
type insertPoint struct {
	Series string      `json:"series"`
	TS     int64       `json:"ts"`
	Value  interface{} `json:"value"`
}

// insertRequest accepts either a single point or a batch, mirroring
// spec.md §4.4's "single insert or a batch of inserts" distinction.
type insertRequest struct {
	Series string        `json:"series"`
	TS     int64         `json:"ts"`
	Value  interface{}   `json:"value"`
	Points []insertPoint `json:"points"`
}

func (s *server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pts := req.Points
	if req.Series != "" {
		pts = append(pts, insertPoint{Series: req.Series, TS: req.TS, Value: req.Value})
	}
	if len(pts) == 0 {
		http.Error(w, "no points given", http.StatusBadRequest)
		return
	}

	var firstErr error
	written := 0
	for _, p := range pts {
		value := normalizeJSONValue(p.Value)
		if err := s.eng.Insert(p.Series, p.TS, value); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	if firstErr != nil && written == 0 {
		http.Error(w, firstErr.Error(), http.StatusBadRequest)
		return
	}

	resp := map[string]interface{}{"written": written}
	if firstErr != nil {
		resp["error"] = firstErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// normalizeJSONValue narrows a whole-valued JSON number back to int64, since
// encoding/json always decodes numbers as float64 but Insert dispatches on
// the Go type of value.
func normalizeJSONValue(v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}

// queryRequest names a series, an optional time range, and an ordered list
// of aggregation operators to apply (spec.md §4.6).
type queryRequest struct {
	Series string      `json:"series"`
	Start  int64       `json:"start"`
	End    int64       `json:"end"`
	Ranged bool        `json:"ranged"`
	Ops    []opRequest `json:"ops"`
}

type opRequest struct {
	Kind       string  `json:"kind"`
	GroupBy    int64   `json:"group_by"`
	Offset     int64   `json:"offset"`
	Limit      int     `json:"limit"`
	Timespan   int64   `json:"timespan"`
	Factor     float64 `json:"factor"`
	Comparator string  `json:"comparator"`
	ConstInt   int64   `json:"const_int"`
	ConstFloat float64 `json:"const_float"`
	ConstStr   string  `json:"const_str"`
	Regex      string  `json:"regex"`
}

var opKinds = map[string]aggregate.Kind{
	"count": aggregate.Count, "first": aggregate.First, "last": aggregate.Last,
	"min": aggregate.Min, "max": aggregate.Max, "mean": aggregate.Mean,
	"sum": aggregate.Sum, "median": aggregate.Median, "median_low": aggregate.MedianLow,
	"median_high": aggregate.MedianHigh, "variance": aggregate.Variance,
	"pvariance": aggregate.PVariance, "stddev": aggregate.StdDev,
	"difference": aggregate.Difference, "derivative": aggregate.Derivative,
	"filter": aggregate.Filter, "interval": aggregate.Interval,
	"timeval": aggregate.Timeval, "limit": aggregate.Limit, "all": aggregate.All,
}

var opComparators = map[string]aggregate.Comparator{
	"eq": aggregate.Eq, "ne": aggregate.Ne, "lt": aggregate.Lt,
	"le": aggregate.Le, "gt": aggregate.Gt, "ge": aggregate.Ge,
}

func buildOps(reqs []opRequest) ([]aggregate.Op, error) {
	ops := make([]aggregate.Op, 0, len(reqs))
	for _, r := range reqs {
		kind, ok := opKinds[r.Kind]
		if !ok {
			return nil, errUnknownOp(r.Kind)
		}
		op := aggregate.Op{
			Kind: kind, GroupBy: r.GroupBy, Offset: r.Offset, Limit: r.Limit,
			Timespan: r.Timespan, Factor: r.Factor,
			ConstInt: r.ConstInt, ConstFloat: r.ConstFloat, ConstStr: r.ConstStr,
		}
		if r.Comparator != "" {
			cmp, ok := opComparators[r.Comparator]
			if !ok {
				return nil, errUnknownComparator(r.Comparator)
			}
			op.Comparator = cmp
		}
		if r.Regex != "" {
			re, err := compileRegex(r.Regex)
			if err != nil {
				return nil, err
			}
			op.Regex = re
		}
		ops = append(ops, op)
	}
	return ops, nil
}

type unknownOpError string

func (e unknownOpError) Error() string { return "siridbd: unknown aggregate op " + string(e) }
func errUnknownOp(kind string) error   { return unknownOpError(kind) }

type unknownComparatorError string

func (e unknownComparatorError) Error() string {
	return "siridbd: unknown comparator " + string(e)
}
func errUnknownComparator(c string) error { return unknownComparatorError(c) }

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ops, err := buildOps(req.Ops)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := codec.RangeFilter{Enabled: req.Ranged, Start: req.Start, End: req.End}
	pts, err := s.eng.Query(req.Series, filter, ops)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"points": pointsToWire(pts)})
}

type wirePoint struct {
	TS    int64       `json:"ts"`
	Value interface{} `json:"value"`
}

func pointsToWire(pts point.List) []wirePoint {
	out := make([]wirePoint, len(pts))
	for i, p := range pts {
		out[i] = wirePoint{TS: p.TS, Value: p.Value}
	}
	return out
}

func (s *server) handleClusterRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.cluster.Upsert(req.Server)
	s.logger.Info("server registered", zap.String("id", req.Server.ID), zap.String("addr", req.Server.Addr))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleClusterServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cluster.All())
}

func (s *server) handleReindexBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var batch cluster.ReindexBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pts, typ, err := reindex.UnpackBatch(batch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var firstErr error
	for _, p := range pts {
		var value interface{}
		switch typ {
		case point.Integer:
			value = p.Int()
		case point.Float:
			value = p.Float()
		case point.String:
			value = p.Str()
		}
		if err := s.eng.Insert(batch.SeriesName, p.TS, value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		http.Error(w, firstErr.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": len(pts)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
