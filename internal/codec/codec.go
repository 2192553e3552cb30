// Package codec implements the three point encodings described in spec.md
// §4.2: raw numeric, columnar (compressed) numeric, and string ("log").
// Every encoder takes a point.List slice and returns a byte buffer plus a
// 16-bit Cinfo sidecar; every decoder is the strict inverse, appending
// decoded points to a destination slice and honoring an optional
// [start,end] (inclusive) range filter and an overlap-aware ordered insert.
package codec

import (
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/pkg/errors"
)

// ZipThreshold is POINTS_ZIP_THRESHOLD (spec.md §4.2, §9): chunks with fewer
// points than this are always stored raw, regardless of the shard's
// is-compressed flag, because the columnar/back-reference framing overhead
// is not worth paying for very small chunks.
const ZipThreshold = 6

// Cinfo is the codec-specific 16-bit sidecar stored alongside a chunk
// descriptor (spec.md §3, "Chunk descriptor"). Its bit layout is specific to
// the value type and compression mode; see columnar.go and log.go.
type Cinfo uint16

// ErrCorrupt is returned by decoders when the encoded bytes are structurally
// inconsistent (short buffer, width fields out of range). Callers (the
// engine and the compactor) return it as is; it does not set the shard's
// is-corrupt flag, which only shardfile's own read checks set (spec.md §4.3).
var ErrCorrupt = errors.New("codec: corrupt chunk")

// errNotNumeric is returned internally when a numeric encoder is handed a
// string-typed point; callers never see this because the engine routes by
// series type before reaching the codec.
var errNotNumeric = errors.New("codec: value is not numeric")

// Encoded is the result of encoding a chunk of points.
type Encoded struct {
	Bytes []byte
	Cinfo Cinfo
	Size  int
}

// RangeFilter optionally restricts decoded points to [Start, End] inclusive.
// A zero-value RangeFilter (Enabled=false) disables filtering.
type RangeFilter struct {
	Start, End int64
	Enabled    bool
}

func (f RangeFilter) includes(ts int64) bool {
	if !f.Enabled {
		return true
	}
	return ts >= f.Start && ts <= f.End
}

// Includes reports whether ts passes f, for callers outside this package
// that need to apply the same range test to points that never go through a
// decoder (e.g. internal/engine filtering a series' in-memory buffer tail).
func (f RangeFilter) Includes(ts int64) bool { return f.includes(ts) }

// insert appends p to dst, or, when overlap is true, inserts it in sorted
// order (later write wins on an exact timestamp match), mirroring the
// decoder contract in spec.md §4.2 ("honoring ... the target series has the
// has-overlap flag, inserting ordered rather than appending").
func insert(dst point.List, p point.Point, overlap bool) point.List {
	if !overlap || len(dst) == 0 || dst[len(dst)-1].TS <= p.TS {
		return append(dst, p)
	}
	i := 0
	for i < len(dst) && dst[i].TS < p.TS {
		i++
	}
	if i < len(dst) && dst[i].TS == p.TS {
		dst[i] = p // later write wins
		return dst
	}
	dst = append(dst, point.Point{})
	copy(dst[i+1:], dst[i:])
	dst[i] = p
	return dst
}

// Numeric is the shared encode/decode contract for integer and float chunks.
type Numeric interface {
	EncodeNumeric(points point.List, typ point.Type, prec precision.Precision) (Encoded, error)
	DecodeNumeric(data []byte, length int, cinfo Cinfo, typ point.Type, prec precision.Precision, dst point.List, filter RangeFilter, overlap bool) (point.List, error)
}
