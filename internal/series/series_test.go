package series

import (
	"testing"

	"github.com/dreamware/siridb/internal/buffer"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/shardfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIndexEntrySortedAndBounds(t *testing.T) {
	s := New(1, "cpu.load", point.Integer, 0, 42, 0, buffer.NewRing(8))

	s.AddIndexEntry(ChunkDescriptor{StartTS: 200, EndTS: 300, Len: 10})
	s.AddIndexEntry(ChunkDescriptor{StartTS: 0, EndTS: 100, Len: 5})
	s.AddIndexEntry(ChunkDescriptor{StartTS: 400, EndTS: 500, Len: 7})

	idx := s.Index()
	require.Len(t, idx, 3)
	assert.Equal(t, int64(0), idx[0].StartTS)
	assert.Equal(t, int64(200), idx[1].StartTS)
	assert.Equal(t, int64(400), idx[2].StartTS)

	start, end, ok := s.Bounds()
	require.True(t, ok)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(500), end)
	assert.Equal(t, 22, s.Length())
}

func TestAddIndexEntryDetectsOverlap(t *testing.T) {
	s := New(1, "x", point.Integer, 0, 0, 0, nil)
	s.AddIndexEntry(ChunkDescriptor{StartTS: 0, EndTS: 100, Len: 1})
	assert.False(t, s.HasFlag(FlagHasOverlap))

	s.AddIndexEntry(ChunkDescriptor{StartTS: 50, EndTS: 150, Len: 1})
	assert.True(t, s.HasFlag(FlagHasOverlap))
}

func TestBoundsIncludesBufferTail(t *testing.T) {
	ring := buffer.NewRing(8)
	s := New(1, "x", point.Integer, 0, 0, 0, ring)
	s.AddIndexEntry(ChunkDescriptor{StartTS: 0, EndTS: 100, Len: 5})
	require.NoError(t, ring.Insert(point.New(150, int64(1))))

	start, end, ok := s.Bounds()
	require.True(t, ok)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(150), end)
}

func TestDropSetsFlag(t *testing.T) {
	s := New(1, "x", point.String, 0, 0, 0, nil)
	assert.False(t, s.HasFlag(FlagDropped))
	s.Drop()
	assert.True(t, s.HasFlag(FlagDropped))
}

func TestReplaceShardReferenceRelocatesAndKeepsNoOverlap(t *testing.T) {
	s := New(1, "x", point.Integer, 0, 0, 0, nil)
	oldShard := &shardfile.Shard{}
	newShard := &shardfile.Shard{}

	s.AddIndexEntry(ChunkDescriptor{StartTS: 0, EndTS: 50, Len: 1, Shard: oldShard, Pos: 100})
	s.AddIndexEntry(ChunkDescriptor{StartTS: 60, EndTS: 90, Len: 1, Shard: oldShard, Pos: 200})

	s.ReplaceShardReference(oldShard, map[int64]int64{100: 1000, 200: 2000}, newShard)

	idx := s.Index()
	assert.Equal(t, newShard, idx[0].Shard)
	assert.Equal(t, int64(1000), idx[0].Pos)
	assert.Equal(t, newShard, idx[1].Shard)
	assert.Equal(t, int64(2000), idx[1].Pos)
	assert.False(t, s.HasFlag(FlagHasOverlap))
}

func TestReplaceChunksSwapsOldShardEntriesAndKeepsOthers(t *testing.T) {
	s := New(1, "x", point.Integer, 0, 0, 0, nil)
	oldShard := &shardfile.Shard{}
	otherShard := &shardfile.Shard{}
	newShard := &shardfile.Shard{}

	s.AddIndexEntry(ChunkDescriptor{StartTS: 0, EndTS: 50, Len: 5, Shard: oldShard, Pos: 100})
	s.AddIndexEntry(ChunkDescriptor{StartTS: 60, EndTS: 90, Len: 3, Shard: oldShard, Pos: 200})
	s.AddIndexEntry(ChunkDescriptor{StartTS: 500, EndTS: 600, Len: 9, Shard: otherShard, Pos: 900})

	s.ReplaceChunks(oldShard, []ChunkDescriptor{
		{StartTS: 0, EndTS: 90, Len: 8, Shard: newShard, Pos: 10},
	})

	idx := s.Index()
	require.Len(t, idx, 2)
	assert.Equal(t, newShard, idx[0].Shard)
	assert.Equal(t, int64(0), idx[0].StartTS)
	assert.Equal(t, otherShard, idx[1].Shard)

	start, end, ok := s.Bounds()
	require.True(t, ok)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(600), end)
	assert.Equal(t, 17, s.Length())
	assert.False(t, s.HasFlag(FlagHasOverlap))
}
