// Package shardfile implements the on-disk shard file format (spec.md §4.3):
// a 22-byte header, append-only chunks, and either an inline or sidecar
// (".idx") chunk index. It owns the write/read protocol, fixed-size growth,
// and shard lifecycle (created/referenced/dropped/replaced by compaction).
package shardfile

import (
	"encoding/binary"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/pkg/errors"
)

// HeaderSize is the fixed 22-byte shard header (spec.md §4.3).
const HeaderSize = 1 + 8 + 8 + 2 + 1 + 1 + 1

const headerSchema byte = 1

// Flag bits packed into the header's single flags byte.
const (
	FlagCompressed byte = 1 << iota
	FlagHasIndex
	FlagHasOverlap
	FlagHasNewValues
	FlagHasDroppedSeries
	FlagIsCorrupt
	FlagIsRemoved
	FlagReplacing
)

// ErrBadHeader is returned when a shard file's header fails to parse.
var ErrBadHeader = errors.New("shardfile: invalid header")

// Header is the fixed metadata block at the start of every shard file.
type Header struct {
	ID            uint64
	Duration      uint64
	MaxChunkSize  uint16
	Type          point.Type
	Precision     precision.Precision
	Flags         byte
}

// HasFlag reports whether bit is set in the header's flags byte.
func (h Header) HasFlag(bit byte) bool { return h.Flags&bit != 0 }

// WithFlag returns a copy of h with bit set or cleared.
func (h Header) WithFlag(bit byte, set bool) Header {
	if set {
		h.Flags |= bit
	} else {
		h.Flags &^= bit
	}
	return h
}

// Encode serializes the header to its fixed 22-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = headerSchema
	binary.LittleEndian.PutUint64(buf[1:9], h.ID)
	binary.LittleEndian.PutUint64(buf[9:17], h.Duration)
	binary.LittleEndian.PutUint16(buf[17:19], h.MaxChunkSize)
	buf[19] = byte(h.Type)
	buf[20] = byte(h.Precision)
	buf[21] = h.Flags
	return buf
}

// DecodeHeader is the inverse of Header.Encode.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrBadHeader
	}
	if buf[0] != headerSchema {
		return Header{}, ErrBadHeader
	}
	h := Header{
		ID:           binary.LittleEndian.Uint64(buf[1:9]),
		Duration:     binary.LittleEndian.Uint64(buf[9:17]),
		MaxChunkSize: binary.LittleEndian.Uint16(buf[17:19]),
		Type:         point.Type(buf[19]),
		Precision:    precision.Precision(buf[20]),
		Flags:        buf[21],
	}
	if h.Type > point.String {
		return Header{}, ErrBadHeader
	}
	return h, nil
}

// ShardID computes floor(ts/duration)*duration + mask, the partition a
// point at ts (for a series with the given sharding mask) belongs to
// (spec.md §4.4, "select the target shard").
func ShardID(ts int64, duration uint64, mask uint16) uint64 {
	d := int64(duration)
	base := (ts / d) * d
	if ts < 0 && ts%d != 0 {
		base -= d
	}
	return uint64(base) + uint64(mask)
}
