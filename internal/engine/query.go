package engine

import (
	"sort"
	"time"

	"github.com/dreamware/siridb/internal/aggregate"
	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/shardfile"
)

// Query merges a series' shard-resident chunks with its in-memory buffer
// tail into one point stream restricted to filter, then runs ops over the
// result (spec.md §4.6: a query reads the union of a series' index and its
// buffer).
func (e *Engine) Query(name string, filter codec.RangeFilter, ops []aggregate.Op) (point.List, error) {
	started := time.Now()
	result, err := e.query(name, filter, ops)
	if e.metrics != nil {
		e.metrics.QueriesTotal.Inc()
		if err != nil {
			e.metrics.QueryErrors.Inc()
		}
		e.metrics.QuerySeconds.Observe(time.Since(started).Seconds())
	}
	return result, err
}

func (e *Engine) query(name string, filter codec.RangeFilter, ops []aggregate.Op) (point.List, error) {
	s, err := e.series.Get(name)
	if err != nil {
		return nil, err
	}

	overlap := s.HasFlag(series.FlagHasOverlap)
	var pts point.List
	for _, cd := range s.Index() {
		if filter.Enabled && (cd.EndTS < filter.Start || cd.StartTS > filter.End) {
			continue
		}
		pts, err = decodeChunk(cd.Shard, s.Type, cd, pts, filter, overlap)
		if err != nil {
			return nil, err
		}
	}

	if s.Buffer != nil {
		for _, p := range s.Buffer.Snapshot() {
			if filter.Includes(p.TS) {
				pts = append(pts, p)
			}
		}
		// The buffer's tail can carry timestamps at or before the newest
		// decoded chunk (e.g. a late point that overwrote one already
		// flushed); re-sort rather than assume append-order is timestamp
		// order.
		sort.Stable(pts)
	}

	return aggregate.Run(pts, s.Type, ops)
}

// decodeChunk is query's read-side mirror of internal/compactor's chunk
// dispatch: string series always decode via the log codec, whose string
// stream is compressed whenever the chunk has at least codec.ZipThreshold
// points, whatever the shard's flags; numeric chunks
// decode columnar only when the shard is flagged compressed and the chunk
// has at least codec.ZipThreshold points, exactly matching the predicate
// the writer used to choose an encoding for that chunk.
func decodeChunk(sh *shardfile.Shard, typ point.Type, cd series.ChunkDescriptor, dst point.List, filter codec.RangeFilter, overlap bool) (point.List, error) {
	data, err := sh.ReadChunk(cd.Pos, cd.Size)
	if err != nil {
		return dst, err
	}
	length := int(cd.Len)

	if typ == point.String {
		compressed := length >= codec.ZipThreshold
		return codec.DecodeLog(data, length, sh.Header.Precision, compressed, dst, filter, overlap)
	}
	if sh.Header.HasFlag(shardfile.FlagCompressed) && length >= codec.ZipThreshold {
		return codec.DecodeColumnar(data, length, cd.Cinfo, typ, dst, filter, overlap)
	}
	return codec.DecodeRaw(data, length, typ, sh.Header.Precision, dst, filter, overlap)
}
