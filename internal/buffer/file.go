package buffer

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/pkg/errors"
)

// headerSize is the fixed, sector-aligned header written at the start of
// every series' slot: 8-byte series id, 4-byte point count, padded out to a
// full sector so point data always starts on a sector boundary (spec.md
// §4.1: "sector-aligned on-disk buffer file for crash durability").
const (
	sectorSize   = 512
	headerSize   = sectorSize
	pointRecSize = 16 // 8-byte timestamp + 8-byte value bits, always wide form on disk
)

// ErrCorruptSlot is returned when a slot's header is structurally invalid
// (an impossible point count for the slot's configured capacity).
var ErrCorruptSlot = errors.New("buffer: corrupt slot header")

// Slot is one series' fixed-size region within the shared buffer file.
// Layout: [headerSize header][capacity * pointRecSize point records].
type Slot struct {
	SeriesID uint64
	Offset   int64 // byte offset of this slot within the file
	Capacity int   // max points this slot can hold
}

func (s Slot) size() int64 { return int64(headerSize) + int64(s.Capacity)*pointRecSize }

// SlotSize returns the total byte size of a slot with the given capacity,
// for callers that lay out slots contiguously within the shared buffer
// file (internal/engine's buffer-offset allocator).
func SlotSize(capacity int) int64 {
	return Slot{Capacity: capacity}.size()
}

// File is the shared, append-free on-disk buffer: a fixed set of
// fixed-size per-series slots, each independently durable. Writers call
// WritePoint/WriteEmpty; every call fsyncs before returning, so a write
// that returned nil is guaranteed durable across a crash (spec.md §4.1).
type File struct {
	mu   sync.Mutex
	f    *os.File
	prec precision.Precision
}

// Open opens (creating if necessary) the buffer file at path.
func Open(path string, prec precision.Precision) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "buffer: open")
	}
	return &File{f: f, prec: prec}, nil
}

// Close closes the underlying file.
func (bf *File) Close() error { return bf.f.Close() }

// InitSlot writes a slot's header, zeroing its point region. Callers
// allocate slots contiguously; Offset/Capacity are fixed for the slot's
// lifetime (a series that outgrows its slot capacity is flushed to shards
// and the slot is reset, not resized).
func (bf *File) InitSlot(s Slot) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	buf := make([]byte, s.size())
	binary.LittleEndian.PutUint64(buf[0:8], s.SeriesID)
	binary.LittleEndian.PutUint32(buf[8:12], 0)
	if _, err := bf.f.WriteAt(buf, s.Offset); err != nil {
		return errors.Wrap(err, "buffer: init slot")
	}
	return bf.f.Sync()
}

// WritePoint appends p to the slot (it must already hold `existing` valid
// points) and fsyncs before returning. The caller is responsible for also
// inserting p into the corresponding in-memory Ring; this call exists only
// to make that insert crash-durable.
func (bf *File) WritePoint(s Slot, existing int, p point.Point, typ point.Type) error {
	if existing >= s.Capacity {
		return errors.New("buffer: slot at capacity")
	}
	bits, err := valueBits(p, typ)
	if err != nil {
		return err
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	rec := make([]byte, pointRecSize)
	binary.LittleEndian.PutUint64(rec[0:8], uint64(p.TS))
	binary.LittleEndian.PutUint64(rec[8:16], bits)
	recOff := s.Offset + int64(headerSize) + int64(existing)*pointRecSize
	if _, err := bf.f.WriteAt(rec, recOff); err != nil {
		return errors.Wrap(err, "buffer: write point")
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(existing+1))
	if _, err := bf.f.WriteAt(lenBuf[:], s.Offset+8); err != nil {
		return errors.Wrap(err, "buffer: update slot length")
	}
	return bf.f.Sync()
}

// WriteEmpty resets a slot to zero points without changing its series id,
// used once the series' buffered points have been flushed into shards
// (spec.md §4.4).
func (bf *File) WriteEmpty(s Slot) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	var lenBuf [4]byte
	if _, err := bf.f.WriteAt(lenBuf[:], s.Offset+8); err != nil {
		return errors.Wrap(err, "buffer: write empty")
	}
	return bf.f.Sync()
}

// Recover reads a slot's header and point records back, for reinsertion
// into a fresh in-memory Ring at startup. If the slot's series id does not
// match or its recorded length exceeds its capacity (a torn header write),
// Recover returns ErrCorruptSlot and leaves the slot on disk as it is,
// without trusting its contents; any bytes in the point region past
// the recorded length are a partial tail write from an interrupted append
// and are discarded, never reinserted.
func (bf *File) Recover(s Slot, typ point.Type) (point.List, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	buf := make([]byte, s.size())
	n, err := bf.f.ReadAt(buf, s.Offset)
	if err != nil && n < headerSize {
		return nil, errors.Wrap(err, "buffer: recover")
	}
	gotID := binary.LittleEndian.Uint64(buf[0:8])
	if gotID != s.SeriesID {
		return nil, ErrCorruptSlot
	}
	length := int(binary.LittleEndian.Uint32(buf[8:12]))
	if length < 0 || length > s.Capacity {
		return nil, ErrCorruptSlot
	}

	out := make(point.List, 0, length)
	for i := 0; i < length; i++ {
		off := headerSize + i*pointRecSize
		if off+pointRecSize > n {
			break // partial tail write: stop, discard the rest
		}
		ts := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		bits := binary.LittleEndian.Uint64(buf[off+8 : off+16])
		out = append(out, point.Point{TS: ts, Value: bitsToValue(bits, typ)})
	}
	return out, nil
}

func valueBits(p point.Point, typ point.Type) (uint64, error) {
	switch typ {
	case point.Integer:
		return uint64(p.Int()), nil
	case point.Float:
		return math.Float64bits(p.Float()), nil
	default:
		return 0, errors.New("buffer: string series are not buffered on disk")
	}
}

func bitsToValue(bits uint64, typ point.Type) interface{} {
	if typ == point.Float {
		return math.Float64frombits(bits)
	}
	return int64(bits)
}
