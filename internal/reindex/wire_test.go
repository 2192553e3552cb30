package reindex

import (
	"testing"

	"github.com/dreamware/siridb/internal/point"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalIntegerPoints(t *testing.T) {
	pts := point.List{point.New(1, int64(10)), point.New(2, int64(-5))}
	raw, err := marshalPoints(pts, point.Integer)
	require.NoError(t, err)
	out, err := unmarshalPoints(raw, point.Integer)
	require.NoError(t, err)
	assert.Equal(t, pts, out)
}

func TestMarshalUnmarshalFloatPoints(t *testing.T) {
	pts := point.List{point.New(1, 3.25), point.New(2, -1.5)}
	raw, err := marshalPoints(pts, point.Float)
	require.NoError(t, err)
	out, err := unmarshalPoints(raw, point.Float)
	require.NoError(t, err)
	assert.Equal(t, pts, out)
}

func TestMarshalUnmarshalStringPoints(t *testing.T) {
	pts := point.List{point.New(1, "hello"), point.New(2, "")}
	raw, err := marshalPoints(pts, point.String)
	require.NoError(t, err)
	out, err := unmarshalPoints(raw, point.String)
	require.NoError(t, err)
	assert.Equal(t, pts, out)
}

func TestUnmarshalRejectsTruncatedNumericBatch(t *testing.T) {
	_, err := unmarshalPoints([]byte{1, 2, 3}, point.Integer)
	assert.ErrorIs(t, err, ErrShortBatch)
}

func TestUnmarshalRejectsTruncatedStringBatch(t *testing.T) {
	_, err := unmarshalPoints([]byte{1, 2, 3}, point.String)
	assert.ErrorIs(t, err, ErrShortBatch)
}

func TestPackUnpackBatchRoundTrip(t *testing.T) {
	pts := point.List{point.New(1, int64(100)), point.New(2, int64(200))}
	batch, err := packBatch("cpu.load", point.Integer, pts)
	require.NoError(t, err)
	assert.Equal(t, "cpu.load", batch.SeriesName)

	out, typ, err := UnpackBatch(batch)
	require.NoError(t, err)
	assert.Equal(t, point.Integer, typ)
	assert.Equal(t, pts, out)
}
