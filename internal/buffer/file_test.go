package buffer

import (
	"path/filepath"
	"testing"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer.dat")
	f, err := Open(path, precision.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFileWriteAndRecover(t *testing.T) {
	f := openTestFile(t)
	slot := Slot{SeriesID: 7, Offset: 0, Capacity: 4}
	require.NoError(t, f.InitSlot(slot))

	pts := []point.Point{
		point.New(10, int64(100)),
		point.New(20, int64(200)),
		point.New(30, int64(300)),
	}
	for i, p := range pts {
		require.NoError(t, f.WritePoint(slot, i, p, point.Integer))
	}

	got, err := f.Recover(slot, point.Integer)
	require.NoError(t, err)
	assert.Equal(t, point.List(pts), got)
}

func TestFileWriteEmptyResetsLength(t *testing.T) {
	f := openTestFile(t)
	slot := Slot{SeriesID: 1, Offset: 0, Capacity: 2}
	require.NoError(t, f.InitSlot(slot))
	require.NoError(t, f.WritePoint(slot, 0, point.New(1, int64(1)), point.Integer))

	require.NoError(t, f.WriteEmpty(slot))

	got, err := f.Recover(slot, point.Integer)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileMultipleSlotsAreIndependent(t *testing.T) {
	f := openTestFile(t)
	slotA := Slot{SeriesID: 1, Offset: 0, Capacity: 4}
	slotB := Slot{SeriesID: 2, Offset: slotA.size(), Capacity: 4}
	require.NoError(t, f.InitSlot(slotA))
	require.NoError(t, f.InitSlot(slotB))

	require.NoError(t, f.WritePoint(slotA, 0, point.New(1, int64(11)), point.Integer))
	require.NoError(t, f.WritePoint(slotB, 0, point.New(2, int64(22)), point.Integer))

	gotA, err := f.Recover(slotA, point.Integer)
	require.NoError(t, err)
	gotB, err := f.Recover(slotB, point.Integer)
	require.NoError(t, err)

	assert.Equal(t, point.List{point.New(1, int64(11))}, gotA)
	assert.Equal(t, point.List{point.New(2, int64(22))}, gotB)
}

func TestFileRecoverRejectsMismatchedSeriesID(t *testing.T) {
	f := openTestFile(t)
	slot := Slot{SeriesID: 5, Offset: 0, Capacity: 2}
	require.NoError(t, f.InitSlot(slot))

	wrong := slot
	wrong.SeriesID = 6
	_, err := f.Recover(wrong, point.Integer)
	assert.ErrorIs(t, err, ErrCorruptSlot)
}

func TestFileWritePointAtCapacityFails(t *testing.T) {
	f := openTestFile(t)
	slot := Slot{SeriesID: 1, Offset: 0, Capacity: 1}
	require.NoError(t, f.InitSlot(slot))
	require.NoError(t, f.WritePoint(slot, 0, point.New(1, int64(1)), point.Integer))

	err := f.WritePoint(slot, 1, point.New(2, int64(2)), point.Integer)
	assert.Error(t, err)
}
