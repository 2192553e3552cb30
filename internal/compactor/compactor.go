package compactor

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/shardfile"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// yieldPerActiveWrite is the base per-write-task delay the compactor sleeps
// between series (spec.md §4.5: "yields between series proportional to the
// number of active write tasks, to bound latency impact").
const yieldPerActiveWrite = 2 * time.Millisecond

// maxCompactionFanout bounds how many series rewrite concurrently for a
// single shard, the same errgroup.SetLimit pattern internal/reindex uses to
// bound its per-series replica fan-out.
const maxCompactionFanout = 4

// SeriesLister snapshots the set of series currently registered, so the
// compactor can scan for index entries pointing at a shard being
// compacted without holding any registry lock while it reads and rewrites
// chunk data (spec.md §4.5 step 2).
type SeriesLister interface {
	All() []*series.Series
}

// ActivityGauge reports how many write tasks are presently in flight, used
// to scale the compactor's inter-series yield.
type ActivityGauge interface {
	ActiveWrites() int
}

// noActivity is the default gauge when none is supplied: the compactor
// still yields a minimal amount between series.
type noActivity struct{}

func (noActivity) ActiveWrites() int { return 0 }

// Compactor is the single per-database shard optimizer task (spec.md §4.5).
// Exactly one instance should run per database; internal/reindex.Controller
// pauses it for the duration of a re-index run via the CompactorControl
// interface satisfied by *Compactor.
type Compactor struct {
	manager  *Manager
	series   SeriesLister
	activity ActivityGauge
	logger   *zap.Logger

	mu      sync.Mutex
	paused  bool
	resumeC chan struct{}
}

// New builds a Compactor over manager's live shard set. activity may be
// nil, in which case the compactor always yields the minimum interval. The
// compactor logs through zap.NewNop() until SetLogger is called, so callers
// that don't care about compaction logging (most tests) need not set one.
func New(manager *Manager, lister SeriesLister, activity ActivityGauge) *Compactor {
	if activity == nil {
		activity = noActivity{}
	}
	return &Compactor{manager: manager, series: lister, activity: activity, logger: zap.NewNop(), resumeC: make(chan struct{})}
}

// SetLogger replaces the compactor's logger, e.g. with the process-wide
// *zap.Logger cmd/siridbd constructs from internal/telemetry.
func (c *Compactor) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Pause suspends Run before its next shard, and each series rewrite of the
// shard in progress that has not yet started waits too; a series rewrite
// already under way runs to completion. Satisfies
// internal/reindex.CompactorControl.
func (c *Compactor) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume lets a paused Run continue.
func (c *Compactor) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumeC)
		c.resumeC = make(chan struct{})
	}
}

func (c *Compactor) waitIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		paused, ch := c.paused, c.resumeC
		c.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Run compacts every currently-pending shard once, in whatever order
// Manager.Pending returns them. cmd/siridbd calls it from its periodic
// compaction loop; a single call does one full pass, not a loop.
func (c *Compactor) Run(ctx context.Context) error {
	for _, old := range c.manager.Pending() {
		if err := c.waitIfPaused(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.compactShard(ctx, old); err != nil {
			c.logger.Warn("compactor: shard compaction failed", zap.Uint64("shard_id", old.Header.ID), zap.Error(err))
		}
	}
	return nil
}

// compactShard implements spec.md §4.5 steps 1-5 for a single shard. Series
// rewrites fan out across up to maxCompactionFanout goroutines: each series'
// chunks in old are independent of every other series', and replacement's
// WriteChunk already serializes concurrent writers under its own mutex, so
// the only shared mutable state the fan-out touches is already safe for
// concurrent use.
func (c *Compactor) compactShard(ctx context.Context, old *shardfile.Shard) error {
	replacement, err := c.manager.NewReplacement(old)
	if err != nil {
		return errors.Wrap(err, "compactor: create replacement")
	}

	all := c.series.All()
	var aborted atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCompactionFanout)
	for _, s := range all {
		s := s
		g.Go(func() error {
			if err := c.waitIfPaused(gctx); err != nil {
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if old.IsRemoved() {
				aborted.Store(true)
				return nil
			}

			if s.HasFlag(series.FlagDropped) {
				s.ReplaceChunks(old, nil)
				c.yield(gctx)
				return nil
			}

			if err := c.compactSeries(s, old, replacement); err != nil {
				return errors.Wrapf(err, "compactor: series %q", s.Name)
			}
			c.yield(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if aborted.Load() {
		return nil
	}

	return c.manager.Finalize(old, replacement)
}

// compactSeries rewrites every chunk of s stored in old into replacement,
// merging them into as few equal-sized chunks as the shard's max-chunk-size
// allows (spec.md §4.5 step 3).
func (c *Compactor) compactSeries(s *series.Series, old, replacement *shardfile.Shard) error {
	idx := s.Index()
	var affected []series.ChunkDescriptor
	for _, cd := range idx {
		if cd.Shard == old {
			affected = append(affected, cd)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	var pts point.List
	for _, cd := range affected {
		var err error
		pts, err = decodeChunk(old, s.Type, cd, pts)
		if err != nil {
			return err
		}
	}
	sort.Stable(pts)

	newChunks, err := writeSplitChunks(replacement, s.ID, s.Type, pts)
	if err != nil {
		return err
	}
	s.ReplaceChunks(old, newChunks)
	return nil
}

// yield sleeps proportionally to the number of active write tasks, bounded
// by ctx cancellation.
func (c *Compactor) yield(ctx context.Context) {
	d := yieldPerActiveWrite * time.Duration(c.activity.ActiveWrites()+1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// decodeChunk reads and decodes one chunk, appending its points to dst. The
// encoding (raw, columnar or log) is derived the same way the writer chose
// it: string series always use the log codec, compressed whenever the chunk
// has at least codec.ZipThreshold points; numeric series use columnar
// only when the shard is flagged compressed and the chunk has at least
// codec.ZipThreshold points, matching the encode-side rule exactly so no
// extra tagging is needed per chunk.
func decodeChunk(s *shardfile.Shard, typ point.Type, cd series.ChunkDescriptor, dst point.List) (point.List, error) {
	data, err := s.ReadChunk(cd.Pos, cd.Size)
	if err != nil {
		return dst, errors.Wrap(err, "compactor: read chunk")
	}
	filter := codec.RangeFilter{}
	length := int(cd.Len)

	if typ == point.String {
		compressed := length >= codec.ZipThreshold
		return codec.DecodeLog(data, length, s.Header.Precision, compressed, dst, filter, false)
	}
	if s.Header.HasFlag(shardfile.FlagCompressed) && length >= codec.ZipThreshold {
		return codec.DecodeColumnar(data, length, cd.Cinfo, typ, dst, filter, false)
	}
	return codec.DecodeRaw(data, length, typ, s.Header.Precision, dst, filter, false)
}

// encodeChunk is the write-side mirror of decodeChunk's codec selection.
func encodeChunk(s *shardfile.Shard, typ point.Type, pts point.List) (codec.Encoded, error) {
	if typ == point.String {
		return codec.EncodeLog(pts, s.Header.Precision)
	}
	if s.Header.HasFlag(shardfile.FlagCompressed) && len(pts) >= codec.ZipThreshold {
		return codec.EncodeColumnar(pts, typ, s.Header.Precision)
	}
	return codec.EncodeRaw(pts, typ, s.Header.Precision)
}

// writeSplitChunks splits pts into ceil(len(pts)/MaxChunkSize) equal-sized
// runs (spec.md §4.5 step 3), writes each to replacement, and returns the
// resulting chunk descriptors in time order.
func writeSplitChunks(replacement *shardfile.Shard, seriesID uint32, typ point.Type, pts point.List) ([]series.ChunkDescriptor, error) {
	if len(pts) == 0 {
		return nil, nil
	}
	maxChunk := int(replacement.Header.MaxChunkSize)
	if maxChunk <= 0 {
		maxChunk = len(pts)
	}
	numChunks := int(math.Ceil(float64(len(pts)) / float64(maxChunk)))
	sizes := splitEqual(len(pts), numChunks)

	out := make([]series.ChunkDescriptor, 0, numChunks)
	offset := 0
	for _, n := range sizes {
		part := pts[offset : offset+n]
		offset += n

		enc, err := encodeChunk(replacement, typ, part)
		if err != nil {
			return nil, err
		}
		compressed := replacement.Header.HasFlag(shardfile.FlagCompressed) && len(part) >= codec.ZipThreshold
		entry := shardfile.IndexEntry{
			SeriesID: seriesID,
			StartTS:  part[0].TS,
			EndTS:    part[len(part)-1].TS,
			Len:      uint16(len(part)),
			Cinfo:    enc.Cinfo,
			HasCinfo: typ == point.String || compressed,
		}
		pos, err := replacement.WriteChunk(entry, enc.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, series.ChunkDescriptor{
			StartTS: entry.StartTS,
			EndTS:   entry.EndTS,
			Len:     entry.Len,
			Shard:   replacement,
			Pos:     pos,
			Size:    len(enc.Bytes),
			Cinfo:   enc.Cinfo,
		})
	}
	return out, nil
}

// splitEqual divides total into n parts whose sizes differ by at most one,
// summing to total.
func splitEqual(total, n int) []int {
	if n <= 0 {
		n = 1
	}
	base := total / n
	rem := total % n
	out := make([]int, n)
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}
