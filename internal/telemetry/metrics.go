package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric this package registers, so siridbd's
// exported series never collide with another exporter sharing a process.
const namespace = "siridb"

// Metrics bundles every counter/histogram/gauge the write, flush,
// compaction and query paths report against (SPEC_FULL.md §B: "write/flush/
// compaction/query counters & histograms exposed by cmd/siridbd's
// /metrics").
type Metrics struct {
	WritesTotal   *prometheus.CounterVec
	WriteErrors   *prometheus.CounterVec
	ActiveWrites  prometheus.Gauge

	FlushesTotal    prometheus.Counter
	FlushDuration   prometheus.Histogram
	FlushedPoints   prometheus.Counter

	CompactionsTotal  prometheus.Counter
	CompactionErrors  prometheus.Counter
	CompactionSeconds prometheus.Histogram

	QueriesTotal   prometheus.Counter
	QueryErrors    prometheus.Counter
	QuerySeconds   prometheus.Histogram
}

// NewMetrics constructs a Metrics and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Total number of Insert calls, labeled by point type.",
		}, []string{"type"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Total number of Insert calls that returned an error, labeled by reason.",
		}, []string{"reason"}),
		ActiveWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_writes",
			Help:      "In-flight Insert calls (spec.md §5 active_tasks), read by the compactor's backpressure yield.",
		}),
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total number of buffer-to-shard flushes.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Wall time spent flushing a series' ring to its shard(s).",
			Buckets:   prometheus.DefBuckets,
		}),
		FlushedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_points_total",
			Help:      "Total number of points written out of buffers into shards.",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Total number of shard compaction passes completed.",
		}),
		CompactionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_errors_total",
			Help:      "Total number of shard compaction passes that failed.",
		}),
		CompactionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Wall time spent compacting one shard.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of Query calls.",
		}),
		QueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Total number of Query calls that returned an error.",
		}),
		QuerySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time spent merging and aggregating a single series query.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.WritesTotal,
		m.WriteErrors,
		m.ActiveWrites,
		m.FlushesTotal,
		m.FlushDuration,
		m.FlushedPoints,
		m.CompactionsTotal,
		m.CompactionErrors,
		m.CompactionSeconds,
		m.QueriesTotal,
		m.QueryErrors,
		m.QuerySeconds,
	)
	return m
}

// Handler returns the HTTP handler cmd/siridbd mounts at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
