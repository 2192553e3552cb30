package aggregate

import (
	"testing"

	"github.com/dreamware/siridb/internal/point"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeHighestTailFewSeries(t *testing.T) {
	a := SeriesStream{Type: point.Integer, Points: point.List{point.New(1, int64(1)), point.New(5, int64(5))}}
	b := SeriesStream{Type: point.Integer, Points: point.List{point.New(2, int64(2)), point.New(4, int64(4))}}
	out, err := Merge([]SeriesStream{a, b})
	require.NoError(t, err)
	assert.Equal(t, point.List{
		point.New(1, int64(1)),
		point.New(2, int64(2)),
		point.New(4, int64(4)),
		point.New(5, int64(5)),
	}, out)
}

func TestMergePromotesIntToFloat(t *testing.T) {
	a := SeriesStream{Type: point.Integer, Points: point.List{point.New(1, int64(10))}}
	b := SeriesStream{Type: point.Float, Points: point.List{point.New(2, 2.5)}}
	out, err := Merge([]SeriesStream{a, b})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.IsType(t, float64(0), out[0].Value)
	assert.Equal(t, 10.0, out[0].Value)
}

func TestMergeRejectsStringAndNumeric(t *testing.T) {
	a := SeriesStream{Type: point.String, Points: point.List{point.New(1, "x")}}
	b := SeriesStream{Type: point.Integer, Points: point.List{point.New(2, int64(1))}}
	_, err := Merge([]SeriesStream{a, b})
	assert.ErrorIs(t, err, ErrStringNumericMerge)
}

func TestMergeConcatSortManySeriesSmallOutput(t *testing.T) {
	streams := make([]SeriesStream, 5)
	for i := range streams {
		streams[i] = SeriesStream{Type: point.Integer, Points: point.List{point.New(int64(5 - i), int64(i))}}
	}
	out, err := Merge(streams)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].TS, out[i].TS)
	}
}

func TestMergeHighestTailWithMarkerManySeriesManyPoints(t *testing.T) {
	streams := make([]SeriesStream, 10)
	for i := range streams {
		var pts point.List
		for j := 0; j < 10; j++ {
			pts = append(pts, point.New(int64(j*10+i), int64(j)))
		}
		streams[i] = SeriesStream{Type: point.Integer, Points: pts}
	}
	out, err := Merge(streams)
	require.NoError(t, err)
	require.Len(t, out, 100)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].TS, out[i].TS)
	}
}

func TestMergeEmpty(t *testing.T) {
	out, err := Merge(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
