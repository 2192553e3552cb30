package codec

import (
	"encoding/binary"
	"math"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
)

// EncodeRaw writes each point as a little-endian timestamp (4 or 8 bytes
// depending on prec) followed by an 8-byte value (spec.md §6.2). Used
// whenever the shard is uncompressed or a chunk has fewer than ZipThreshold
// points.
func EncodeRaw(points point.List, typ point.Type, prec precision.Precision) (Encoded, error) {
	tsw := prec.TimestampWidth()
	buf := make([]byte, 0, len(points)*(tsw+8))
	for _, p := range points {
		buf = appendTS(buf, p.TS, tsw)
		v, err := valueBits(p, typ)
		if err != nil {
			return Encoded{}, err
		}
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return Encoded{Bytes: buf, Cinfo: 0, Size: len(buf)}, nil
}

// DecodeRaw is the inverse of EncodeRaw.
func DecodeRaw(data []byte, length int, typ point.Type, prec precision.Precision, dst point.List, filter RangeFilter, overlap bool) (point.List, error) {
	tsw := prec.TimestampWidth()
	stride := tsw + 8
	if len(data) < length*stride {
		return dst, ErrCorrupt
	}
	for i := 0; i < length; i++ {
		off := i * stride
		ts := readTS(data[off:off+tsw], tsw)
		bits := binary.LittleEndian.Uint64(data[off+tsw : off+stride])
		if !filter.includes(ts) {
			continue
		}
		dst = insert(dst, point.Point{TS: ts, Value: bitsToValue(bits, typ)}, overlap)
	}
	return dst, nil
}

func appendTS(buf []byte, ts int64, width int) []byte {
	if width == 4 {
		return binary.LittleEndian.AppendUint32(buf, uint32(ts))
	}
	return binary.LittleEndian.AppendUint64(buf, uint64(ts))
}

func readTS(b []byte, width int) int64 {
	if width == 4 {
		return int64(binary.LittleEndian.Uint32(b))
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func valueBits(p point.Point, typ point.Type) (uint64, error) {
	switch typ {
	case point.Integer:
		return uint64(p.Int()), nil
	case point.Float:
		return math.Float64bits(p.Float()), nil
	default:
		return 0, errNotNumeric
	}
}

func bitsToValue(bits uint64, typ point.Type) interface{} {
	if typ == point.Float {
		return math.Float64frombits(bits)
	}
	return int64(bits)
}
