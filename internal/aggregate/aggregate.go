// Package aggregate implements the query aggregation engine (spec.md §4.6):
// a pipeline of typed point-stream operators, group-by-time semantics, and
// cross-series merge strategies.
package aggregate

import (
	"math"
	"regexp"
	"sort"

	"github.com/dreamware/siridb/internal/point"
	"github.com/pkg/errors"
)

// Kind identifies one aggregation operator (spec.md §4.6).
type Kind int

const (
	Count Kind = iota
	First
	Last
	Min
	Max
	Mean
	Sum
	Median
	MedianLow
	MedianHigh
	Variance
	PVariance
	StdDev
	Difference
	Derivative
	Filter
	Interval
	Timeval
	Limit
	All
)

// Comparator is a filter operator's comparison kind.
type Comparator int

const (
	Eq Comparator = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// Op is one aggregation operator and its parameters.
type Op struct {
	Kind     Kind
	GroupBy  int64 // 0 means collapse-to-one
	Offset   int64
	Limit    int
	Timespan int64 // limit's range to divide (last-first ts when <= 0); derivative does not read it
	Factor   float64

	// Filter parameters.
	Comparator Comparator
	ConstInt   int64
	ConstFloat float64
	ConstStr   string
	Regex      *regexp.Regexp
}

// ErrOverflow is returned by difference/sum when two's-complement overflow
// is detected (spec.md §7 "Overflow").
var ErrOverflow = errors.New("aggregate: integer overflow")

// ErrTypeMismatch is returned when a numeric aggregate is applied to a
// string-typed series (spec.md §7 "Type mismatch").
var ErrTypeMismatch = errors.New("aggregate: function not valid on string series")

// groupTS computes the group-by timestamp for ts at width w with the given
// offset (spec.md §4.6: "⌈ts / group_by⌉ · group_by + offset").
func groupTS(ts, w, offset int64) int64 {
	if w <= 0 {
		return offset
	}
	q := ts / w
	if ts%w != 0 {
		q++
	}
	return q*w + offset
}

// groupPoints partitions pts into ordered groups keyed by groupTS, returning
// group timestamps in ascending order alongside each group's member points.
func groupPoints(pts point.List, w, offset int64) ([]int64, map[int64]point.List) {
	if w <= 0 {
		all := make(point.List, len(pts))
		copy(all, pts)
		return []int64{offset}, map[int64]point.List{offset: all}
	}
	order := make([]int64, 0)
	groups := make(map[int64]point.List)
	for _, p := range pts {
		g := groupTS(p.TS, w, offset)
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return order, groups
}

// Run applies ops in order to pts (already merged for one series) and
// returns the resulting point stream.
func Run(pts point.List, typ point.Type, ops []Op) (point.List, error) {
	cur := pts
	for _, op := range ops {
		var err error
		cur, typ, err = apply(cur, typ, op)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func apply(pts point.List, typ point.Type, op Op) (point.List, point.Type, error) {
	switch op.Kind {
	case Filter:
		out, err := runFilter(pts, typ, op)
		return out, typ, err
	case Limit:
		// limit N computes group_by = timespan/N + 1 and dispatches to
		// group-by (spec.md §4.6), so the result is N representative points
		// spanning the input range rather than its first N. op.Timespan
		// carries the query's full time range; when the caller leaves it
		// unset it falls back to the input's own [first,last] span. Each
		// group reduces via mean for numeric series (a representative
		// downsample), or last for string series since mean isn't valid on
		// them (spec.md §7 "Type mismatch").
		n := op.Limit
		if n <= 0 || len(pts) <= n {
			out := make(point.List, len(pts))
			copy(out, pts)
			return out, typ, nil
		}
		timespan := op.Timespan
		if timespan <= 0 {
			timespan = pts[len(pts)-1].TS - pts[0].TS
		}
		groupBy := timespan/int64(n) + 1
		offset := (pts[0].TS - 1) % groupBy

		reduceKind := Mean
		if typ == point.String {
			reduceKind = Last
		}
		return runGrouped(pts, typ, reduceKind, groupBy, offset)
	case Difference:
		out, err := runDifference(pts, typ)
		return out, typ, err
	case Derivative:
		out, err := runDerivative(pts, typ, op)
		return out, point.Float, err
	default:
		if op.GroupBy > 0 {
			return runGrouped(pts, typ, op.Kind, op.GroupBy, op.Offset)
		}
		out, rtyp, err := runUngrouped(pts, typ, op.Kind)
		return out, rtyp, err
	}
}

// runGrouped applies a reducing aggregate per group-by-time window
// (spec.md §4.6).
func runGrouped(pts point.List, typ point.Type, kind Kind, w, offset int64) (point.List, point.Type, error) {
	order, groups := groupPoints(pts, w, offset)
	out := make(point.List, 0, len(order))
	rtyp := typ
	for _, g := range order {
		v, vtyp, err := reduce(groups[g], typ, kind)
		if err != nil {
			return nil, typ, err
		}
		rtyp = vtyp
		out = append(out, point.Point{TS: g, Value: v})
	}
	return out, rtyp, nil
}

func runUngrouped(pts point.List, typ point.Type, kind Kind) (point.List, point.Type, error) {
	if kind == All {
		out := make(point.List, len(pts))
		copy(out, pts)
		return out, typ, nil
	}
	v, rtyp, err := reduce(pts, typ, kind)
	if err != nil {
		return nil, typ, err
	}
	if len(pts) == 0 {
		return point.List{}, rtyp, nil
	}
	ts := pts[len(pts)-1].TS
	if kind == First {
		ts = pts[0].TS
	}
	return point.List{{TS: ts, Value: v}}, rtyp, nil
}

// reduce computes a single aggregate value over one group of points.
func reduce(pts point.List, typ point.Type, kind Kind) (interface{}, point.Type, error) {
	switch kind {
	case Count:
		return int64(len(pts)), point.Integer, nil
	case First:
		if len(pts) == 0 {
			return nil, typ, errors.New("aggregate: first on empty group")
		}
		return pts[0].Value, typ, nil
	case Last:
		if len(pts) == 0 {
			return nil, typ, errors.New("aggregate: last on empty group")
		}
		return pts[len(pts)-1].Value, typ, nil
	}

	if typ == point.String {
		return nil, typ, ErrTypeMismatch
	}

	vals := floats(pts, typ)
	switch kind {
	case Min:
		return reduceFloatOrInt(pts, typ, minOf(vals)), typ, nil
	case Max:
		return reduceFloatOrInt(pts, typ, maxOf(vals)), typ, nil
	case Sum:
		s, err := sumChecked(pts, typ)
		return s, typ, err
	case Mean:
		return meanOf(vals), point.Float, nil
	case Median:
		return medianOf(vals, 0), point.Float, nil
	case MedianLow:
		return medianOf(vals, -1), point.Float, nil
	case MedianHigh:
		return medianOf(vals, 1), point.Float, nil
	case Variance:
		return varianceOf(vals, true), point.Float, nil
	case PVariance:
		return varianceOf(vals, false), point.Float, nil
	case StdDev:
		return math.Sqrt(varianceOf(vals, true)), point.Float, nil
	default:
		return nil, typ, errors.Errorf("aggregate: unsupported operator kind %d", kind)
	}
}

func floats(pts point.List, typ point.Type) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		if typ == point.Integer {
			out[i] = float64(p.Int())
		} else {
			out[i] = p.Float()
		}
	}
	return out
}

func reduceFloatOrInt(pts point.List, typ point.Type, v float64) interface{} {
	if typ == point.Integer {
		return int64(v)
	}
	return v
}

func minOf(vals []float64) float64 {
	m := math.Inf(1)
	for _, v := range vals {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// medianOf sorts vals and returns the median. On an even-length slice, bias
// selects which of the two middles to prefer: 0 averages them (median),
// -1 the lower (median_low), 1 the upper (median_high) — spec.md §4.6.
func medianOf(vals []float64, bias int) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	lo, hi := sorted[n/2-1], sorted[n/2]
	switch {
	case bias < 0:
		return lo
	case bias > 0:
		return hi
	default:
		return (lo + hi) / 2
	}
}

func varianceOf(vals []float64, sample bool) float64 {
	n := len(vals)
	if n == 0 || (sample && n < 2) {
		return 0
	}
	mean := meanOf(vals)
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	denom := float64(n)
	if sample {
		denom = float64(n - 1)
	}
	return ss / denom
}

// sumChecked sums integer series with two's-complement overflow detection
// (spec.md §7 "Overflow").
func sumChecked(pts point.List, typ point.Type) (interface{}, error) {
	if typ == point.Float {
		var s float64
		for _, p := range pts {
			s += p.Float()
		}
		return s, nil
	}
	var s int64
	for _, p := range pts {
		v := p.Int()
		next := s + v
		if (v > 0 && next < s) || (v < 0 && next > s) {
			return nil, ErrOverflow
		}
		s = next
	}
	return s, nil
}

// runDifference computes consecutive differences, preserving the series'
// integer type and checking for overflow (spec.md §4.6, §7, S4).
func runDifference(pts point.List, typ point.Type) (point.List, error) {
	if typ == point.String {
		return nil, ErrTypeMismatch
	}
	if len(pts) < 2 {
		return point.List{}, nil
	}
	out := make(point.List, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		if typ == point.Integer {
			a, b := pts[i].Int(), pts[i-1].Int()
			d := a - b
			// A difference of exactly MinInt64 is reported as overflow too,
			// since its magnitude has no int64 representation.
			if (b < 0 && a > 0 && d < 0) || (b > 0 && a < 0 && (d > 0 || d == math.MinInt64)) {
				return nil, ErrOverflow
			}
			out = append(out, point.Point{TS: pts[i].TS, Value: d})
		} else {
			out = append(out, point.Point{TS: pts[i].TS, Value: pts[i].Float() - pts[i-1].Float()})
		}
	}
	return out, nil
}

// runDerivative computes rate-of-change (value delta over timestamp delta)
// multiplied by op.Factor, 1 when unset, always producing a float-valued
// series (spec.md §4.6). op.Timespan is not read here.
func runDerivative(pts point.List, typ point.Type, op Op) (point.List, error) {
	if typ == point.String {
		return nil, ErrTypeMismatch
	}
	if len(pts) < 2 {
		return point.List{}, nil
	}
	factor := op.Factor
	if factor == 0 {
		factor = 1
	}
	out := make(point.List, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		dt := pts[i].TS - pts[i-1].TS
		if dt == 0 {
			continue
		}
		var dv float64
		if typ == point.Integer {
			dv = float64(pts[i].Int() - pts[i-1].Int())
		} else {
			dv = pts[i].Float() - pts[i-1].Float()
		}
		rate := dv / float64(dt) * factor
		out = append(out, point.Point{TS: pts[i].TS, Value: rate})
	}
	return out, nil
}

// runFilter applies a comparator/constant or regex predicate, shrinking the
// output at the end (spec.md §4.6: "allocates an output the same size as
// input and shrinks it at the end").
func runFilter(pts point.List, typ point.Type, op Op) (point.List, error) {
	out := make(point.List, 0, len(pts))
	for _, p := range pts {
		ok, err := matchesFilter(p, typ, op)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func matchesFilter(p point.Point, typ point.Type, op Op) (bool, error) {
	if typ == point.String {
		if op.Regex != nil {
			matched := op.Regex.MatchString(p.Str())
			if op.Comparator == Ne {
				return !matched, nil
			}
			return matched, nil
		}
		return compareStr(p.Str(), op.ConstStr, op.Comparator), nil
	}
	var v float64
	if typ == point.Integer {
		v = float64(p.Int())
	} else {
		v = p.Float()
	}
	var c float64
	if typ == point.Integer {
		c = float64(op.ConstInt)
	} else {
		c = op.ConstFloat
	}
	return compareFloat(v, c, op.Comparator), nil
}

func compareFloat(a, b float64, cmp Comparator) bool {
	switch cmp {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	default:
		return false
	}
}

func compareStr(a, b string, cmp Comparator) bool {
	switch cmp {
	case Eq:
		return a == b
	case Ne:
		return a != b
	default:
		return false
	}
}
