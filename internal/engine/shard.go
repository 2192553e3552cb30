package engine

import (
	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/shardfile"
)

// shardFor locates or creates the shard covering ts for a series with the
// given mask and type (spec.md §4.4 step 1: "select the target shard by
// shard_id = floor(first_ts/duration)*duration + mask").
func (e *Engine) shardFor(ts int64, mask uint16, typ point.Type) (*shardfile.Shard, error) {
	id := shardfile.ShardID(ts, e.cfg.Duration, mask)
	return e.shards.GetOrCreate(id, e.shardHeaderTemplate(typ))
}

// encodeChunk picks the same codec internal/compactor's write-side dispatch
// does: log for string series, columnar for compressed numeric chunks at or
// above codec.ZipThreshold points, raw otherwise.
func encodeChunk(sh *shardfile.Shard, typ point.Type, pts point.List) (codec.Encoded, error) {
	if typ == point.String {
		return codec.EncodeLog(pts, sh.Header.Precision)
	}
	if sh.Header.HasFlag(shardfile.FlagCompressed) && len(pts) >= codec.ZipThreshold {
		return codec.EncodeColumnar(pts, typ, sh.Header.Precision)
	}
	return codec.EncodeRaw(pts, typ, sh.Header.Precision)
}

// writeChunk resolves (or creates) the shard covering pts' first timestamp
// when sh is nil, then writes pts into it as one or more MaxChunkSize-bounded
// chunks, recording each as a new index entry on s (spec.md §4.4 steps 1-3).
func (e *Engine) writeChunk(sh *shardfile.Shard, s *series.Series, pts point.List) error {
	if len(pts) == 0 {
		return nil
	}
	if sh == nil {
		var err error
		sh, err = e.shardFor(pts[0].TS, s.Mask, s.Type)
		if err != nil {
			return err
		}
	}

	maxChunk := int(sh.Header.MaxChunkSize)
	if maxChunk <= 0 {
		maxChunk = len(pts)
	}
	for offset := 0; offset < len(pts); {
		n := maxChunk
		if offset+n > len(pts) {
			n = len(pts) - offset
		}
		part := pts[offset : offset+n]
		offset += n

		enc, err := encodeChunk(sh, s.Type, part)
		if err != nil {
			return err
		}
		compressed := sh.Header.HasFlag(shardfile.FlagCompressed) && len(part) >= codec.ZipThreshold
		entry := shardfile.IndexEntry{
			SeriesID: s.ID,
			StartTS:  part[0].TS,
			EndTS:    part[len(part)-1].TS,
			Len:      uint16(len(part)),
			Cinfo:    enc.Cinfo,
			HasCinfo: s.Type == point.String || compressed,
		}
		pos, err := sh.WriteChunk(entry, enc.Bytes)
		if err != nil {
			return err
		}
		s.AddIndexEntry(series.ChunkDescriptor{
			StartTS: entry.StartTS,
			EndTS:   entry.EndTS,
			Len:     entry.Len,
			Shard:   sh,
			Pos:     pos,
			Size:    len(enc.Bytes),
			Cinfo:   enc.Cinfo,
		})
	}
	return nil
}
