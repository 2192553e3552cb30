// Package precision defines the time-precision widths a database may be
// configured with (spec.md §3: "Timestamp is an unsigned 32- or 64-bit
// integer depending on the database's configured precision") and the range
// validation siridb_int64_valid_ts performs at insert time (spec.md §7
// "Invalid range").
package precision

import "github.com/pkg/errors"

// Precision is one of the four supported timestamp granularities.
type Precision uint8

const (
	Second Precision = iota
	Millisecond
	Microsecond
	Nanosecond
)

// ErrOutOfRange is returned by Validate when a timestamp cannot be
// represented at the configured precision.
var ErrOutOfRange = errors.New("precision: timestamp out of representable range")

// Is32Bit reports whether points at this precision are stored with a 4-byte
// timestamp on disk. Only second precision uses the narrow form (spec.md §3).
func (p Precision) Is32Bit() bool { return p == Second }

// TimestampWidth returns the on-disk byte width of a timestamp at this
// precision: 4 for second precision, 8 otherwise.
func (p Precision) TimestampWidth() int {
	if p.Is32Bit() {
		return 4
	}
	return 8
}

// bounds per precision. Second precision is stored as an unsigned 32-bit
// integer on disk, so its representable range is [0, 2^32-1]; the other
// precisions use a signed 64-bit integer, so the practical validity window
// is bounded to keep derived values (group-by windows, shard ids) from
// overflowing rather than the full int64 range.
const (
	maxUint32 = int64(1<<32 - 1)
	// maxSafeWide bounds the wide precisions well under (1<<63)-1 so that
	// duration arithmetic (shard id = floor(ts/duration)*duration) never
	// overflows a signed 64-bit integer for any configured shard duration.
	maxSafeWide = int64(1) << 62
)

// Validate reports whether ts can be represented at this precision,
// returning ErrOutOfRange otherwise. Insert rejects such timestamps before
// they ever reach the buffer (spec.md §7).
func (p Precision) Validate(ts int64) error {
	if ts < 0 {
		return ErrOutOfRange
	}
	switch p {
	case Second:
		if ts > maxUint32 {
			return ErrOutOfRange
		}
	case Millisecond, Microsecond, Nanosecond:
		if ts > maxSafeWide {
			return ErrOutOfRange
		}
	default:
		return errors.Errorf("precision: unknown precision %d", p)
	}
	return nil
}

func (p Precision) String() string {
	switch p {
	case Second:
		return "s"
	case Millisecond:
		return "ms"
	case Microsecond:
		return "us"
	case Nanosecond:
		return "ns"
	default:
		return "unknown"
	}
}
