// Package engine wires the storage primitives together into the write and
// query pipelines described in spec.md §4.4 and §4.6: buffered inserts that
// flush into shards once a series' ring fills, and queries that merge a
// series' buffer with its shard-resident chunks before running the
// aggregation pipeline. It is the concrete implementation the
// internal/reindex.Controller and internal/compactor.Compactor are driven
// against in a running server.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/siridb/internal/buffer"
	"github.com/dreamware/siridb/internal/compactor"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/sharding"
	"github.com/dreamware/siridb/internal/shardfile"
	"github.com/dreamware/siridb/internal/telemetry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config bundles the per-database constants the engine needs: shard
// geometry, buffer sizing and the sharding parameters used to route series
// to pools (spec.md §3, §4.1, §4.7).
type Config struct {
	Duration     uint64 // shard duration, same time unit as Precision
	MaxChunkSize uint16
	BufferSize   int // bytes; buffer_len = BufferSize/16 (spec.md §4.1)
	Precision    precision.Precision
	Compressed   bool // shard-wide is-compressed flag
	HasIndex     bool // whether new shards get a sidecar .idx file
	Params       sharding.Params
	LocalPool    uint16 // this server's pool, for Resolver.Resolve
}

// Engine owns one database's series registry, shard set and buffer file.
type Engine struct {
	cfg Config

	series *series.Registry
	shards *compactor.Manager
	bufF   *buffer.File

	bufMu         sync.Mutex
	nextBufOffset int64
	bufCapacity   int // ring.Len(cfg.BufferSize), same for every numeric series

	activeWrites int64 // spec.md §5 "active_tasks", read by the compactor's yield

	logger  *zap.Logger
	metrics *telemetry.Metrics // nil unless SetMetrics is called
}

// New constructs an Engine. shardDir is the directory shard files live in;
// bufPath is the shared sector buffer file's path.
func New(cfg Config, shardDir, bufPath string, maxSeriesID uint32) (*Engine, error) {
	bufF, err := buffer.Open(bufPath, cfg.Precision)
	if err != nil {
		return nil, errors.Wrap(err, "engine: open buffer file")
	}
	return &Engine{
		cfg:         cfg,
		series:      series.NewRegistry(maxSeriesID),
		shards:      compactor.NewManager(shardDir),
		bufF:        bufF,
		bufCapacity: buffer.Len(cfg.BufferSize),
		logger:      zap.NewNop(),
	}, nil
}

// SetLogger replaces the engine's logger, e.g. with the process-wide
// *zap.Logger cmd/siridbd constructs from internal/telemetry. Until called,
// the engine logs nothing.
func (e *Engine) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics attaches a telemetry.Metrics the write/flush/query paths
// report against. Until called, those paths skip metrics entirely, so
// Engine works without a registered Metrics (e.g. in tests).
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.metrics = m
}

// Close releases the engine's open file handles.
func (e *Engine) Close() error {
	return e.bufF.Close()
}

// Series exposes the underlying registry, e.g. for cmd/siridbd's catalog
// persistence on shutdown.
func (e *Engine) Series() *series.Registry { return e.series }

// Shards exposes the underlying shard manager, e.g. for wiring a
// *compactor.Compactor against the same live shard set.
func (e *Engine) Shards() *compactor.Manager { return e.shards }

// HasIndex reports whether shards created by this engine carry a sidecar
// .idx file, e.g. for cmd/siridbd's startup recovery to pass to
// Shards().OpenAndTrack.
func (e *Engine) HasIndex() bool { return e.cfg.HasIndex }

// ActiveWrites satisfies compactor.ActivityGauge.
func (e *Engine) ActiveWrites() int { return int(atomic.LoadInt64(&e.activeWrites)) }

func (e *Engine) beginWrite() { atomic.AddInt64(&e.activeWrites, 1) }
func (e *Engine) endWrite()   { atomic.AddInt64(&e.activeWrites, -1) }

// shardHeaderTemplate is the header a freshly created shard is stamped
// with, before any points are written (spec.md §4.3).
func (e *Engine) shardHeaderTemplate(typ point.Type) shardfile.Header {
	h := shardfile.Header{
		Duration:     e.cfg.Duration,
		MaxChunkSize: e.cfg.MaxChunkSize,
		Type:         typ,
		Precision:    e.cfg.Precision,
	}
	h = h.WithFlag(shardfile.FlagCompressed, e.cfg.Compressed)
	h = h.WithFlag(shardfile.FlagHasIndex, e.cfg.HasIndex)
	return h
}
