// Package series implements the per-series catalog and index described in
// spec.md §3: a Series with its point-range bookkeeping, flags and ordered
// chunk descriptor list, and a Registry mapping series names to Series
// (allocating ids, tracking drops).
package series

import (
	"sync"

	"github.com/dreamware/siridb/internal/buffer"
	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/shardfile"
)

// Flags packed into Series.Flags (spec.md §3: "{dropped, has-overlap,
// is-32-bit-ts, is-server-one, init-replica}").
const (
	FlagDropped byte = 1 << iota
	FlagHasOverlap
	FlagIs32BitTS
	FlagIsServerOne
	FlagInitReplica
)

// ChunkDescriptor is one entry in a series' index (spec.md §3). Size is the
// exact encoded byte length returned by the codec at write time (see
// internal/codec/log.go's note on Encoded.Size); callers use it, not cinfo,
// to know how many bytes to read back from the shard at Pos.
type ChunkDescriptor struct {
	StartTS int64
	EndTS   int64
	Len     uint16
	Shard   *shardfile.Shard
	Pos     int64
	Size    int
	Cinfo   codec.Cinfo
}

// overlaps reports whether c and o's [StartTS,EndTS] ranges intersect.
func (c ChunkDescriptor) overlaps(o ChunkDescriptor) bool {
	return c.StartTS <= o.EndTS && o.StartTS <= c.EndTS
}

// Series is one named time series and its full bookkeeping state (spec.md
// §3). Index is kept sorted ascending by StartTS at all times; Insert
// maintains that invariant and recomputes HasOverlap opportunistically.
type Series struct {
	mu sync.RWMutex

	ID            uint32
	Name          string
	Type          point.Type
	Pool          uint16
	Mask          uint16
	ServerOfPool  uint8
	BufferOffset  int64
	Flags         byte

	Buffer *buffer.Ring // nil for string-typed series (spec.md §4.1)
	index  []ChunkDescriptor

	start, end int64
	length     int
	hasBounds  bool
}

// New constructs a Series. ring is nil for string-typed series.
func New(id uint32, name string, typ point.Type, pool, mask uint16, serverOfPool uint8, ring *buffer.Ring) *Series {
	return &Series{ID: id, Name: name, Type: typ, Pool: pool, Mask: mask, ServerOfPool: serverOfPool, Buffer: ring}
}

// HasFlag reports whether bit is set.
func (s *Series) HasFlag(bit byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Flags&bit != 0
}

func (s *Series) setFlag(bit byte, set bool) {
	if set {
		s.Flags |= bit
	} else {
		s.Flags &^= bit
	}
}

// AddIndexEntry inserts a chunk descriptor in sorted position
// (siridb_series_add_idx, spec.md §4.4), updating start/end/length and
// setting HasOverlap if the insertion creates a temporal overlap with a
// neighbouring entry.
func (s *Series) AddIndexEntry(cd ChunkDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := 0
	for i < len(s.index) && s.index[i].StartTS < cd.StartTS {
		i++
	}
	s.index = append(s.index, ChunkDescriptor{})
	copy(s.index[i+1:], s.index[i:])
	s.index[i] = cd

	if i > 0 && s.index[i-1].overlaps(cd) {
		s.setFlag(FlagHasOverlap, true)
	}
	if i+1 < len(s.index) && s.index[i+1].overlaps(cd) {
		s.setFlag(FlagHasOverlap, true)
	}

	if !s.hasBounds || cd.StartTS < s.start {
		s.start = cd.StartTS
	}
	if !s.hasBounds || cd.EndTS > s.end {
		s.end = cd.EndTS
	}
	s.hasBounds = true
	s.length += int(cd.Len)
}

// Index returns a copy of the series' chunk descriptor list, ordered by
// StartTS ascending.
func (s *Series) Index() []ChunkDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChunkDescriptor, len(s.index))
	copy(out, s.index)
	return out
}

// Bounds reports (start, end, ok) over both the index and, when present,
// the in-memory buffer's tail (spec.md §3 invariant:
// "start == min(buffer.start, index[0].start_ts)").
func (s *Series) Bounds() (start, end int64, ok bool) {
	s.mu.RLock()
	idxStart, idxEnd, idxOK := s.start, s.end, s.hasBounds
	ring := s.Buffer
	s.mu.RUnlock()

	start, end, ok = idxStart, idxEnd, idxOK
	if ring == nil {
		return
	}
	bStart, bEnd, bOK := ring.Bounds()
	if !bOK {
		return
	}
	if !ok || bStart < start {
		start = bStart
	}
	if !ok || bEnd > end {
		end = bEnd
	}
	return start, end, true
}

// Length returns the number of points recorded in the index plus the
// in-memory buffer (spec.md §3: "length ... count of stored points (incl.
// buffer)").
func (s *Series) Length() int {
	s.mu.RLock()
	n := s.length
	s.mu.RUnlock()
	if s.Buffer != nil {
		n += s.Buffer.Count()
	}
	return n
}

// Drop marks the series dropped (spec.md §3: "made inaccessible by drop").
// The caller is responsible for appending s.ID to the drop journal and
// removing it from the Registry.
func (s *Series) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFlag(FlagDropped, true)
}

// ReplaceShardReference swaps every index entry pointing at old to point at
// replacement instead, used when a shard is renamed over its own previous
// file without changing chunk layout (e.g. a compaction retry that found
// nothing left to rewrite). Callers also pass the chunk's new Pos for the
// rare case bytes shifted within the replacement shard.
func (s *Series) ReplaceShardReference(old *shardfile.Shard, relocate map[int64]int64, replacement *shardfile.Shard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.index {
		if s.index[i].Shard != old {
			continue
		}
		if newPos, ok := relocate[s.index[i].Pos]; ok {
			s.index[i].Pos = newPos
		}
		s.index[i].Shard = replacement
	}
	s.recomputeOverlap()
}

// ReplaceChunks discards every index entry pointing at old and inserts
// newChunks in its place, sorted by StartTS (spec.md §4.5 step 3: "swap
// the series' index entries for S (in order) with the freshly written
// entries pointing into S'"). Used by the compactor after it rewrites a
// series' chunks into the replacement shard S'.
func (s *Series) ReplaceChunks(old *shardfile.Shard, newChunks []ChunkDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.index[:0:0]
	for _, cd := range s.index {
		if cd.Shard != old {
			kept = append(kept, cd)
		}
	}
	kept = append(kept, newChunks...)
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j-1].StartTS > kept[j].StartTS; j-- {
			kept[j-1], kept[j] = kept[j], kept[j-1]
		}
	}
	s.index = kept
	s.recomputeBounds()
	s.recomputeOverlap()
}

func (s *Series) recomputeOverlap() {
	overlapping := false
	for i := 1; i < len(s.index); i++ {
		if s.index[i-1].overlaps(s.index[i]) {
			overlapping = true
			break
		}
	}
	s.setFlag(FlagHasOverlap, overlapping)
}

func (s *Series) recomputeBounds() {
	s.hasBounds = false
	s.length = 0
	for _, cd := range s.index {
		if !s.hasBounds || cd.StartTS < s.start {
			s.start = cd.StartTS
		}
		if !s.hasBounds || cd.EndTS > s.end {
			s.end = cd.EndTS
		}
		s.hasBounds = true
		s.length += int(cd.Len)
	}
}
