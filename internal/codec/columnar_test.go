package codec

import (
	"testing"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestColumnarRoundTripS5 pins scenario S5 (spec.md §8): 6 integer points
// with strictly ascending timestamps and values {0,1,2,3,4,5}, through the
// compressed encoder then decoder, must come back out exactly equal.
func TestColumnarRoundTripS5(t *testing.T) {
	pts := make(point.List, 0, 6)
	for i := int64(0); i < 6; i++ {
		pts = append(pts, point.New(1000+i*10, i))
	}

	enc, err := EncodeColumnar(pts, point.Integer, precision.Millisecond)
	require.NoError(t, err)

	var dst point.List
	dst, err = DecodeColumnar(enc.Bytes, len(pts), enc.Cinfo, point.Integer, dst, RangeFilter{}, false)
	require.NoError(t, err)
	require.Equal(t, pts, dst)
}

func TestColumnarRoundTripFloat(t *testing.T) {
	pts := point.List{
		point.New(0, 1.5),
		point.New(10, 1.5),
		point.New(20, 2.75),
		point.New(30, -3.125),
		point.New(40, 100.0),
		point.New(50, 100.0),
	}
	enc, err := EncodeColumnar(pts, point.Float, precision.Second)
	require.NoError(t, err)

	var dst point.List
	dst, err = DecodeColumnar(enc.Bytes, len(pts), enc.Cinfo, point.Float, dst, RangeFilter{}, false)
	require.NoError(t, err)
	require.Equal(t, pts, dst)
}

func TestColumnarSinglePoint(t *testing.T) {
	pts := point.List{point.New(5, int64(77))}
	enc, err := EncodeColumnar(pts, point.Integer, precision.Second)
	require.NoError(t, err)

	var dst point.List
	dst, err = DecodeColumnar(enc.Bytes, len(pts), enc.Cinfo, point.Integer, dst, RangeFilter{}, false)
	require.NoError(t, err)
	require.Equal(t, pts, dst)
}

func TestColumnarRawFallthroughOnNoisyDeltas(t *testing.T) {
	// Large, highly irregular deltas defeat both the shift-packing and the
	// zig-zag width reduction, forcing the vcount==8 raw fall-through path.
	pts := point.List{
		point.New(0, int64(1)),
		point.New(1, int64(-4611686018427387903)),
		point.New(3, int64(4611686018427387903)),
		point.New(7, int64(-1)),
		point.New(15, int64(123456789)),
		point.New(31, int64(-987654321)),
	}
	enc, err := EncodeColumnar(pts, point.Integer, precision.Nanosecond)
	require.NoError(t, err)

	var dst point.List
	dst, err = DecodeColumnar(enc.Bytes, len(pts), enc.Cinfo, point.Integer, dst, RangeFilter{}, false)
	require.NoError(t, err)
	require.Equal(t, pts, dst)
}

func TestColumnarRangeFilterAndOverlap(t *testing.T) {
	pts := point.List{
		point.New(0, int64(0)),
		point.New(10, int64(1)),
		point.New(20, int64(2)),
	}
	enc, err := EncodeColumnar(pts, point.Integer, precision.Second)
	require.NoError(t, err)

	dst := point.List{point.New(5, int64(99))}
	dst, err = DecodeColumnar(enc.Bytes, len(pts), enc.Cinfo, point.Integer, dst, RangeFilter{Start: 10, End: 20, Enabled: true}, true)
	require.NoError(t, err)
	assert.Equal(t, point.List{
		point.New(5, int64(99)),
		point.New(10, int64(1)),
		point.New(20, int64(2)),
	}, dst)
}

func TestColumnarEmpty(t *testing.T) {
	enc, err := EncodeColumnar(nil, point.Integer, precision.Second)
	require.NoError(t, err)
	assert.Empty(t, enc.Bytes)

	var dst point.List
	dst, err = DecodeColumnar(enc.Bytes, 0, enc.Cinfo, point.Integer, dst, RangeFilter{}, false)
	require.NoError(t, err)
	assert.Empty(t, dst)
}

func TestPackUnpackCinfoRoundTrip(t *testing.T) {
	for _, tc := range []struct{ tcount, tshift, vcount int }{
		{1, 0, 0}, {8, 63, 8}, {3, 17, 5},
	} {
		c := packCinfo(tc.tcount, tc.tshift, tc.vcount)
		tcount, tshift, vcount := unpackCinfo(c)
		assert.Equal(t, tc.tcount, tcount)
		assert.Equal(t, tc.tshift, tshift)
		assert.Equal(t, tc.vcount, vcount)
	}
}
