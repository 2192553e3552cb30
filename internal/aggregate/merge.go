package aggregate

import (
	"sort"

	"github.com/dreamware/siridb/internal/point"
	"github.com/pkg/errors"
)

// ErrStringNumericMerge is returned when a merge mixes a string series with
// a numeric one (spec.md §4.6: "String + numeric is an error").
var ErrStringNumericMerge = errors.New("aggregate: cannot merge string and numeric series")

// SeriesStream is one series' per-series-aggregated point stream plus its
// value type, the merge input unit (spec.md §4.6 "Merge (cross-series)").
type SeriesStream struct {
	Points point.List
	Type   point.Type
}

// Merge combines up to K series streams into one ordered sequence,
// selecting a strategy by (len(streams), total points) per spec.md §4.6.
// Int and float streams promote to float on the fly; mixing string with
// numeric is rejected.
func Merge(streams []SeriesStream) (point.List, error) {
	total := 0
	allString := true
	anyString := false
	for _, s := range streams {
		total += len(s.Points)
		if s.Type != point.String {
			allString = false
		} else {
			anyString = true
		}
	}
	if anyString && !allString {
		return nil, ErrStringNumericMerge
	}

	switch {
	case len(streams) <= 3:
		return mergeHighestTail(streams), nil
	case total <= len(streams)*4:
		return mergeConcatSort(streams), nil
	default:
		return mergeHighestTailWithMarker(streams), nil
	}
}

// promote converts an integer point's value to float64 when any stream in
// the merge is float-typed (spec.md §4.6: "Int + float series merge to
// float").
func promote(p point.Point, typ point.Type, anyFloat bool) point.Point {
	if anyFloat && typ == point.Integer {
		return point.Point{TS: p.TS, Value: float64(p.Int())}
	}
	return p
}

func hasFloat(streams []SeriesStream) bool {
	for _, s := range streams {
		if s.Type == point.Float {
			return true
		}
	}
	return false
}

// mergeConcatSort concatenates every stream then sorts by timestamp — used
// when the output size is comparable to the series count (spec.md §4.6).
func mergeConcatSort(streams []SeriesStream) point.List {
	anyFloat := hasFloat(streams)
	var out point.List
	for _, s := range streams {
		for _, p := range s.Points {
			out = append(out, promote(p, s.Type, anyFloat))
		}
	}
	sort.Stable(out)
	return out
}

// mergeHighestTail repeatedly picks the series whose next unconsumed point
// has the lowest timestamp among all heads, a simple K-way merge suited to
// a small number of input series (spec.md §4.6: "≤3 input series → repeated
// 'pick the highest tail' selection").
func mergeHighestTail(streams []SeriesStream) point.List {
	anyFloat := hasFloat(streams)
	idx := make([]int, len(streams))
	total := 0
	for _, s := range streams {
		total += len(s.Points)
	}
	out := make(point.List, 0, total)
	for {
		best := -1
		var bestTS int64
		for i, s := range streams {
			if idx[i] >= len(s.Points) {
				continue
			}
			ts := s.Points[idx[i]].TS
			if best == -1 || ts < bestTS {
				best = i
				bestTS = ts
			}
		}
		if best == -1 {
			break
		}
		out = append(out, promote(streams[best].Points[idx[best]], streams[best].Type, anyFloat))
		idx[best]++
	}
	return out
}

// mergeHighestTailWithMarker merges by smallest head timestamp and
// remembers the series chosen last round (spec.md §4.6). That series is
// the starting candidate of each step, so on equal timestamps it keeps
// being chosen; every other series' head is still compared on every step.
func mergeHighestTailWithMarker(streams []SeriesStream) point.List {
	anyFloat := hasFloat(streams)
	idx := make([]int, len(streams))
	total := 0
	for _, s := range streams {
		total += len(s.Points)
	}
	out := make(point.List, 0, total)
	marker := 0
	for {
		best := -1
		var bestTS int64
		// Start from the previously chosen series; the scan below replaces
		// it only with a strictly smaller head.
		if idx[marker] < len(streams[marker].Points) {
			best = marker
			bestTS = streams[marker].Points[idx[marker]].TS
		}
		for i, s := range streams {
			if idx[i] >= len(s.Points) || i == marker {
				continue
			}
			ts := s.Points[idx[i]].TS
			if best == -1 || ts < bestTS {
				best = i
				bestTS = ts
			}
		}
		if best == -1 {
			break
		}
		out = append(out, promote(streams[best].Points[idx[best]], streams[best].Type, anyFloat))
		idx[best]++
		marker = best
	}
	return out
}
