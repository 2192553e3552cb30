package engine

import (
	"testing"

	"github.com/dreamware/siridb/internal/precision"
	"github.com/dreamware/siridb/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCreatesSeriesOnFirstWrite(t *testing.T) {
	e := newTestEngine(t, 8, false)

	require.NoError(t, e.Insert("cpu.load", 10, int64(42)))

	s, err := e.Series().Get("cpu.load")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Buffer.Count())
	start, end, ok := s.Buffer.Bounds()
	require.True(t, ok)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(10), end)
}

func TestInsertStringSeriesHasNoBuffer(t *testing.T) {
	e := newTestEngine(t, 8, false)

	require.NoError(t, e.Insert("app.log", 5, "boot complete"))

	s, err := e.Series().Get("app.log")
	require.NoError(t, err)
	assert.Nil(t, s.Buffer)
	assert.Len(t, s.Index(), 1, "a string insert is written straight to its shard")
}

func TestInsertRejectsTypeMismatch(t *testing.T) {
	e := newTestEngine(t, 8, false)
	require.NoError(t, e.Insert("cpu.load", 1, int64(1)))

	err := e.Insert("cpu.load", 2, 3.14)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestInsertRejectsOutOfRangeTimestamp(t *testing.T) {
	e := newTestEngine(t, 8, false)
	err := e.Insert("cpu.load", -1, int64(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, precision.ErrOutOfRange)
}

func TestInsertFlushesOnceRingFills(t *testing.T) {
	e := newTestEngine(t, 2, false) // ring capacity 2

	require.NoError(t, e.Insert("cpu.load", 1, int64(1)))
	require.NoError(t, e.Insert("cpu.load", 2, int64(2)))
	// Third insert overflows the ring, forcing a flush of the first two
	// points into a shard before this point lands in the now-empty ring.
	require.NoError(t, e.Insert("cpu.load", 3, int64(3)))

	s, err := e.Series().Get("cpu.load")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Buffer.Count(), "only the third point should remain buffered")
	assert.Len(t, s.Index(), 1, "the flush should have written exactly one chunk")
	assert.Equal(t, uint16(2), s.Index()[0].Len)
}

func TestEnsureSeriesIsIdempotent(t *testing.T) {
	e := newTestEngine(t, 8, false)

	var s1, s2 *series.Series
	var err1, err2 error
	s1, err1 = e.ensureSeries("disk.io", 0)
	s2, err2 = e.ensureSeries("disk.io", 0)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Same(t, s1, s2)
}
