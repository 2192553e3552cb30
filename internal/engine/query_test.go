package engine

import (
	"testing"

	"github.com/dreamware/siridb/internal/aggregate"
	"github.com/dreamware/siridb/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMergesShardAndBufferPoints(t *testing.T) {
	e := newTestEngine(t, 2, false) // ring capacity 2, forces an early flush

	require.NoError(t, e.Insert("cpu.load", 1, int64(10)))
	require.NoError(t, e.Insert("cpu.load", 2, int64(20)))
	require.NoError(t, e.Insert("cpu.load", 3, int64(30))) // flushes 1,2 to a shard

	pts, err := e.Query("cpu.load", codec.RangeFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{pts[0].TS, pts[1].TS, pts[2].TS})
	assert.Equal(t, int64(30), pts[2].Int())
}

func TestQueryAppliesAggregatePipeline(t *testing.T) {
	e := newTestEngine(t, 2, false)
	require.NoError(t, e.Insert("cpu.load", 1, int64(10)))
	require.NoError(t, e.Insert("cpu.load", 2, int64(20)))
	require.NoError(t, e.Insert("cpu.load", 3, int64(30)))

	pts, err := e.Query("cpu.load", codec.RangeFilter{}, []aggregate.Op{{Kind: aggregate.Sum}})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, int64(60), pts[0].Int())
}

func TestQueryHonorsRangeFilter(t *testing.T) {
	e := newTestEngine(t, 2, false)
	require.NoError(t, e.Insert("cpu.load", 1, int64(10)))
	require.NoError(t, e.Insert("cpu.load", 2, int64(20)))
	require.NoError(t, e.Insert("cpu.load", 3, int64(30)))

	pts, err := e.Query("cpu.load", codec.RangeFilter{Enabled: true, Start: 2, End: 3}, nil)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, int64(2), pts[0].TS)
	assert.Equal(t, int64(3), pts[1].TS)
}

func TestQueryUnknownSeriesReturnsError(t *testing.T) {
	e := newTestEngine(t, 2, false)
	_, err := e.Query("missing", codec.RangeFilter{}, nil)
	require.Error(t, err)
}

func TestQueryStringSeries(t *testing.T) {
	e := newTestEngine(t, 2, false)
	require.NoError(t, e.Insert("app.log", 1, "first"))
	require.NoError(t, e.Insert("app.log", 2, "second"))

	pts, err := e.Query("app.log", codec.RangeFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, "first", pts[0].Str())
	assert.Equal(t, "second", pts[1].Str())
}
