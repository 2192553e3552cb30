package reindex

import (
	"encoding/binary"
	"math"

	"github.com/dreamware/siridb/internal/point"
	"github.com/pkg/errors"
)

// wireRecSize is the fixed width of one point on the wire: an 8-byte
// timestamp plus an 8-byte value slot (int64 bits or float64 bits). String
// points use the variable-length encoding below instead: a 12-byte head of
// timestamp and 4-byte length, then the string bytes.
const wireRecSize = 16

// ErrShortBatch is returned when a received batch is truncated.
var ErrShortBatch = errors.New("reindex: truncated batch payload")

// marshalPoints encodes a point list for the re-index wire batch: fixed
// 16-byte records for numeric series, length-prefixed UTF-8 for string
// series. This is a transport framing distinct from internal/codec's
// on-disk chunk encodings — a re-index batch is sent once and never
// stored, so there is no benefit to columnar compression here.
func marshalPoints(pts point.List, typ point.Type) ([]byte, error) {
	if typ == point.String {
		return marshalStringPoints(pts)
	}
	buf := make([]byte, 0, wireRecSize*len(pts))
	for _, p := range pts {
		rec := make([]byte, wireRecSize)
		binary.LittleEndian.PutUint64(rec, uint64(p.TS))
		switch typ {
		case point.Integer:
			binary.LittleEndian.PutUint64(rec[8:], uint64(p.Int()))
		case point.Float:
			binary.LittleEndian.PutUint64(rec[8:], math.Float64bits(p.Float()))
		default:
			return nil, errors.Errorf("reindex: unsupported point type %v", typ)
		}
		buf = append(buf, rec...)
	}
	return buf, nil
}

func unmarshalPoints(data []byte, typ point.Type) (point.List, error) {
	if typ == point.String {
		return unmarshalStringPoints(data)
	}
	if len(data)%wireRecSize != 0 {
		return nil, ErrShortBatch
	}
	n := len(data) / wireRecSize
	out := make(point.List, n)
	for i := 0; i < n; i++ {
		rec := data[i*wireRecSize:]
		ts := int64(binary.LittleEndian.Uint64(rec))
		bits := binary.LittleEndian.Uint64(rec[8:])
		switch typ {
		case point.Integer:
			out[i] = point.New(ts, int64(bits))
		case point.Float:
			out[i] = point.New(ts, math.Float64frombits(bits))
		default:
			return nil, errors.Errorf("reindex: unsupported point type %v", typ)
		}
	}
	return out, nil
}

func marshalStringPoints(pts point.List) ([]byte, error) {
	var buf []byte
	for _, p := range pts {
		s := p.Str()
		head := make([]byte, 12)
		binary.LittleEndian.PutUint64(head, uint64(p.TS))
		binary.LittleEndian.PutUint32(head[8:], uint32(len(s)))
		buf = append(buf, head...)
		buf = append(buf, s...)
	}
	return buf, nil
}

func unmarshalStringPoints(data []byte) (point.List, error) {
	var out point.List
	for len(data) > 0 {
		if len(data) < 12 {
			return nil, ErrShortBatch
		}
		ts := int64(binary.LittleEndian.Uint64(data))
		n := binary.LittleEndian.Uint32(data[8:])
		data = data[12:]
		if uint32(len(data)) < n {
			return nil, ErrShortBatch
		}
		out = append(out, point.New(ts, string(data[:n])))
		data = data[n:]
	}
	return out, nil
}
