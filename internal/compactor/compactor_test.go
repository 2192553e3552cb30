package compactor

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/shardfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	all []*series.Series
}

func (f fakeLister) All() []*series.Series { return f.all }

// writeRawChunk writes pts to s raw-encoded and records the resulting
// ChunkDescriptor, mirroring what the engine's flush path would do.
func writeRawChunk(t *testing.T, s *shardfile.Shard, seriesID uint32, pts point.List) series.ChunkDescriptor {
	t.Helper()
	enc, err := codec.EncodeRaw(pts, s.Header.Type, s.Header.Precision)
	require.NoError(t, err)
	entry := shardfile.IndexEntry{
		SeriesID: seriesID,
		StartTS:  pts[0].TS,
		EndTS:    pts[len(pts)-1].TS,
		Len:      uint16(len(pts)),
	}
	pos, err := s.WriteChunk(entry, enc.Bytes)
	require.NoError(t, err)
	return series.ChunkDescriptor{
		StartTS: entry.StartTS,
		EndTS:   entry.EndTS,
		Len:     entry.Len,
		Shard:   s,
		Pos:     pos,
		Size:    len(enc.Bytes),
	}
}

func TestCompactShardMergesChunksAndPreservesPoints(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	h := shardfile.Header{ID: 1, Duration: 3600, MaxChunkSize: 10, Type: point.Integer, Precision: precision.Second}
	old, err := shardfile.Create(m.shardPath(1), "", h)
	require.NoError(t, err)
	m.Track(old, m.shardPath(1), "")
	old.Header = old.Header.WithFlag(shardfile.FlagHasNewValues, true)
	require.NoError(t, old.PersistHeader())

	s := series.New(1, "cpu.load", point.Integer, 0, 0, 0, nil)
	cd1 := writeRawChunk(t, old, s.ID, point.List{
		{TS: 0, Value: int64(1)},
		{TS: 10, Value: int64(2)},
	})
	cd2 := writeRawChunk(t, old, s.ID, point.List{
		{TS: 20, Value: int64(3)},
		{TS: 30, Value: int64(4)},
		{TS: 40, Value: int64(5)},
	})
	s.AddIndexEntry(cd1)
	s.AddIndexEntry(cd2)

	lister := fakeLister{all: []*series.Series{s}}
	c := New(m, lister, nil)

	require.NoError(t, c.Run(context.Background()))

	live, ok := m.Get(1)
	require.True(t, ok)
	assert.False(t, live.Header.HasFlag(shardfile.FlagHasNewValues))

	idx := s.Index()
	require.Len(t, idx, 1, "5 points under MaxChunkSize=10 should merge into a single chunk")
	assert.Equal(t, live, idx[0].Shard)
	assert.Equal(t, int64(0), idx[0].StartTS)
	assert.Equal(t, int64(40), idx[0].EndTS)
	assert.Equal(t, uint16(5), idx[0].Len)

	data, err := live.ReadChunk(idx[0].Pos, idx[0].Size)
	require.NoError(t, err)
	got, err := codec.DecodeRaw(data, int(idx[0].Len), point.Integer, precision.Second, nil, codec.RangeFilter{}, false)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, want := range []int64{1, 2, 3, 4, 5} {
		assert.Equal(t, want, got[i].Int())
	}

	assert.Empty(t, m.Pending())
}

func TestCompactShardSplitsAcrossMaxChunkSize(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	h := shardfile.Header{ID: 2, Duration: 3600, MaxChunkSize: 2, Type: point.Integer, Precision: precision.Second}
	old, err := shardfile.Create(m.shardPath(2), "", h)
	require.NoError(t, err)
	m.Track(old, m.shardPath(2), "")
	old.Header = old.Header.WithFlag(shardfile.FlagHasOverlap, true)
	require.NoError(t, old.PersistHeader())

	s := series.New(2, "cpu.load", point.Integer, 0, 0, 0, nil)
	cd := writeRawChunk(t, old, s.ID, point.List{
		{TS: 0, Value: int64(1)},
		{TS: 1, Value: int64(2)},
		{TS: 2, Value: int64(3)},
		{TS: 3, Value: int64(4)},
		{TS: 4, Value: int64(5)},
	})
	s.AddIndexEntry(cd)

	lister := fakeLister{all: []*series.Series{s}}
	c := New(m, lister, nil)
	require.NoError(t, c.Run(context.Background()))

	idx := s.Index()
	// ceil(5/2) = 3 chunks.
	require.Len(t, idx, 3)
	assert.False(t, s.HasFlag(series.FlagHasOverlap))

	var total int
	prevEnd := int64(-1)
	for _, cd := range idx {
		total += int(cd.Len)
		assert.True(t, cd.StartTS > prevEnd)
		prevEnd = cd.EndTS
	}
	assert.Equal(t, 5, total)
}

func TestCompactShardDropsChunksForDroppedSeries(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	h := shardfile.Header{ID: 3, Duration: 3600, MaxChunkSize: 10, Type: point.Integer, Precision: precision.Second}
	old, err := shardfile.Create(m.shardPath(3), "", h)
	require.NoError(t, err)
	m.Track(old, m.shardPath(3), "")
	old.Header = old.Header.WithFlag(shardfile.FlagHasDroppedSeries, true)
	require.NoError(t, old.PersistHeader())

	s := series.New(3, "gone", point.Integer, 0, 0, 0, nil)
	cd := writeRawChunk(t, old, s.ID, point.List{{TS: 0, Value: int64(1)}})
	s.AddIndexEntry(cd)
	s.Drop()

	lister := fakeLister{all: []*series.Series{s}}
	c := New(m, lister, nil)
	require.NoError(t, c.Run(context.Background()))

	assert.Empty(t, s.Index())
}

func TestPauseResumeBlocksRun(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	h := shardfile.Header{ID: 4, Duration: 3600, MaxChunkSize: 10, Type: point.Integer, Precision: precision.Second}
	old, err := shardfile.Create(m.shardPath(4), "", h)
	require.NoError(t, err)
	m.Track(old, m.shardPath(4), "")
	old.Header = old.Header.WithFlag(shardfile.FlagHasNewValues, true)
	require.NoError(t, old.PersistHeader())

	c := New(m, fakeLister{}, nil)
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Run returned while compactor was paused")
	default:
	}

	c.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after Resume")
	}
	assert.Empty(t, m.Pending())
}
