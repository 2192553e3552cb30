package engine

import (
	"sort"
	"time"

	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/shardfile"
	"go.uber.org/zap"
)

// flushToShards writes s's in-memory ring into the shard(s) covering its
// points' timestamps (spec.md §4.4). It reads the ring with Snapshot rather
// than Drain: the ring is only shrunk once every chunk write and the
// on-disk WriteEmpty have succeeded. If any step fails, the error
// propagates to the caller and the ring is left exactly as it was, so "the
// next attempt retries from the current in-memory state" (spec.md §4.4)
// rather than losing whatever had already been drained. Points come out of
// the ring already sorted, but a defensive sort.Stable costs nothing on an
// already-sorted slice and protects against a future Ring change. A single
// flush can span more than one shard boundary when the buffer covers more
// time than one shard's duration, so points are grouped into contiguous
// same-shard runs before writeChunk splits each run into MaxChunkSize
// chunks.
func (e *Engine) flushToShards(s *series.Series) error {
	started := time.Now()
	pts := s.Buffer.Snapshot()
	if len(pts) == 0 {
		return nil
	}
	sort.Stable(pts)

	start := 0
	for start < len(pts) {
		shardID := shardfile.ShardID(pts[start].TS, e.cfg.Duration, s.Mask)
		end := start + 1
		for end < len(pts) && shardfile.ShardID(pts[end].TS, e.cfg.Duration, s.Mask) == shardID {
			end++
		}
		if err := e.writeChunk(nil, s, pts[start:end]); err != nil {
			return err
		}
		start = end
	}

	if err := e.bufF.WriteEmpty(e.slotFor(s)); err != nil {
		return err
	}
	s.Buffer.Remove(pts)

	e.logger.Debug("flush", zap.String("series", s.Name), zap.Int("points", len(pts)))
	if e.metrics != nil {
		e.metrics.FlushesTotal.Inc()
		e.metrics.FlushedPoints.Add(float64(len(pts)))
		e.metrics.FlushDuration.Observe(time.Since(started).Seconds())
	}
	return nil
}
