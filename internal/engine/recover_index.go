package engine

import (
	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/series"
	"github.com/pkg/errors"
)

// ChunkRecord is one shard-resident chunk descriptor in shard-id form,
// persisted by cmd/siridbd alongside series.dat/.dropped/.max_series_id so
// a restarted server can find its series' historical data without
// rescanning every shard file (shard files have no on-disk field recording
// a chunk's byte position or encoded size, so those can only be recovered
// from the in-memory index that produced them in the first place).
type ChunkRecord struct {
	SeriesID uint32
	ShardID  uint64
	StartTS  int64
	EndTS    int64
	Len      uint16
	Pos      int64
	Size     int
	Cinfo    codec.Cinfo
}

// DumpChunkIndex snapshots every registered series' chunk descriptors in
// ChunkRecord form, for cmd/siridbd to persist at shutdown.
func (e *Engine) DumpChunkIndex() []ChunkRecord {
	var out []ChunkRecord
	for _, s := range e.series.All() {
		for _, cd := range s.Index() {
			out = append(out, ChunkRecord{
				SeriesID: s.ID,
				ShardID:  cd.Shard.Header.ID,
				StartTS:  cd.StartTS,
				EndTS:    cd.EndTS,
				Len:      cd.Len,
				Pos:      cd.Pos,
				Size:     cd.Size,
				Cinfo:    cd.Cinfo,
			})
		}
	}
	return out
}

// RestoreChunk re-attaches one persisted chunk descriptor to its series.
// The shard named by rec.ShardID must already be open and tracked by the
// engine's Manager (e.g. via Shards().OpenAndTrack during startup, before
// any RestoreChunk calls); Recover itself never opens shard files, since it
// only knows about series and buffer state.
func (e *Engine) RestoreChunk(rec ChunkRecord) error {
	s, ok := e.series.GetByID(rec.SeriesID)
	if !ok {
		return errors.Errorf("engine: restore chunk: unknown series id %d", rec.SeriesID)
	}
	sh, ok := e.shards.Get(rec.ShardID)
	if !ok {
		return errors.Errorf("engine: restore chunk: shard %d not open", rec.ShardID)
	}
	s.AddIndexEntry(series.ChunkDescriptor{
		StartTS: rec.StartTS,
		EndTS:   rec.EndTS,
		Len:     rec.Len,
		Shard:   sh,
		Pos:     rec.Pos,
		Size:    rec.Size,
		Cinfo:   rec.Cinfo,
	})
	return nil
}
