// Package point defines the Point and value types shared by every layer of
// the storage engine: the in-memory buffer, the shard codecs, the series
// index and the aggregation pipeline all operate on point.Point.
package point

import "fmt"

// Type identifies the value kind stored by a series. A series has exactly
// one Type for its lifetime (spec.md §3, "Series").
type Type uint8

const (
	// Integer series store signed 64-bit values.
	Integer Type = iota
	// Float series store IEEE-754 doubles.
	Float
	// String series store variable-length UTF-8 values ("log" series).
	String
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Point is a single (timestamp, value) sample. Timestamp is always carried
// as int64 in memory; on disk it may be narrowed to 32 bits at second
// precision (see internal/precision and internal/codec).
type Point struct {
	Value interface{} // int64, float64, or string, depending on the owning series' Type
	TS    int64
}

// New constructs a Point, panicking if value does not match one of the
// three supported Go types. Callers that accept externally supplied values
// should validate with MatchesType first.
func New(ts int64, value interface{}) Point {
	switch value.(type) {
	case int64, float64, string:
	default:
		panic(fmt.Sprintf("point: unsupported value type %T", value))
	}
	return Point{TS: ts, Value: value}
}

// MatchesType reports whether p.Value is the Go representation expected for t.
func (p Point) MatchesType(t Type) bool {
	switch t {
	case Integer:
		_, ok := p.Value.(int64)
		return ok
	case Float:
		_, ok := p.Value.(float64)
		return ok
	case String:
		_, ok := p.Value.(string)
		return ok
	default:
		return false
	}
}

// Int returns the value as int64, panicking if the point is not integer-typed.
func (p Point) Int() int64 { return p.Value.(int64) }

// Float returns the value as float64, panicking if the point is not float-typed.
func (p Point) Float() float64 { return p.Value.(float64) }

// Str returns the value as string, panicking if the point is not string-typed.
func (p Point) Str() string { return p.Value.(string) }

// List is an ordered sequence of points. Most of the engine works on List
// rather than channels: shard chunks and buffer slots are small and bounded,
// so batch processing keeps the code simple and allocation-light.
type List []Point

// Len, Less and Swap implement sort.Interface, ordering by timestamp
// ascending. Equal timestamps are considered equal for ordering purposes;
// later-write-wins tie-breaking is handled explicitly by callers that need
// it (buffer.Ring, codec decoders with has-overlap set).
func (l List) Len() int           { return len(l) }
func (l List) Less(i, j int) bool { return l[i].TS < l[j].TS }
func (l List) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// Bounds returns the minimum and maximum timestamp in the list. ok is false
// for an empty list.
func (l List) Bounds() (start, end int64, ok bool) {
	if len(l) == 0 {
		return 0, 0, false
	}
	start, end = l[0].TS, l[0].TS
	for _, p := range l[1:] {
		if p.TS < start {
			start = p.TS
		}
		if p.TS > end {
			end = p.TS
		}
	}
	return start, end, true
}
