// Package buffer implements the two layers of point buffering described in
// spec.md §4.1: an in-memory ordered ring per series, and a sector-aligned
// on-disk buffer file that makes recent writes durable across a crash before
// they are flushed into shards.
package buffer

import (
	"sync"

	"github.com/dreamware/siridb/internal/point"
	"github.com/pkg/errors"
)

// ErrFull is returned by Ring.Insert when the ring has reached its
// configured capacity and must be flushed before accepting more points.
var ErrFull = errors.New("buffer: ring is full, flush required")

// Ring is a bounded, timestamp-ordered in-memory point buffer for a single
// series (spec.md §4.1: "an in-memory point buffer ... bounded by
// buffer_len = buffer_size/16"). Writes are inserted in sorted position
// rather than simply appended, so a Ring's contents can always be read back
// in timestamp order without a separate sort pass.
type Ring struct {
	mu       sync.Mutex
	points   point.List
	capacity int
}

// NewRing constructs a Ring with the given capacity. capacity must be the
// database's configured buffer_len (BufferSize / 16, see Len).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{capacity: capacity, points: make(point.List, 0, capacity)}
}

// Len returns buffer_len for a given on-disk buffer_size: each slot holds
// 16 bytes per point at minimum (8-byte timestamp + 8-byte value), so the
// ring never holds more points than fit in one buffer_size slot.
func Len(bufferSize int) int {
	return bufferSize / 16
}

// Insert adds p to the ring in sorted position, overwriting any existing
// point at the same timestamp (later write wins, spec.md §4.1). Returns
// ErrFull once the ring has reached capacity and the caller must flush to
// shards before inserting further points.
func (r *Ring) Insert(p point.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := 0
	for i < len(r.points) && r.points[i].TS < p.TS {
		i++
	}
	if i < len(r.points) && r.points[i].TS == p.TS {
		r.points[i] = p
		return nil
	}
	if len(r.points) >= r.capacity {
		return ErrFull
	}
	r.points = append(r.points, point.Point{})
	copy(r.points[i+1:], r.points[i:])
	r.points[i] = p
	return nil
}

// Snapshot returns a copy of the ring's current contents, in timestamp order.
func (r *Ring) Snapshot() point.List {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(point.List, len(r.points))
	copy(out, r.points)
	return out
}

// Remove deletes every point in pts from the ring by timestamp, once those
// points have been durably written to shards. Points inserted after the
// snapshot that produced pts are untouched, so a concurrent write arriving
// mid-flush is never lost.
func (r *Ring) Remove(pts point.List) {
	if len(pts) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[int64]struct{}, len(pts))
	for _, p := range pts {
		drop[p.TS] = struct{}{}
	}
	out := r.points[:0]
	for _, p := range r.points {
		if _, ok := drop[p.TS]; ok {
			continue
		}
		out = append(out, p)
	}
	r.points = out
}

// len returns the number of points currently buffered.
func (r *Ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// Count reports how many points are currently buffered.
func (r *Ring) Count() int { return r.len() }

// Bounds reports the timestamp range currently buffered, if any.
func (r *Ring) Bounds() (start, end int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.points.Bounds()
}
