package shardfile

import (
	"encoding/binary"

	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/pkg/errors"
)

// ErrBadIndexEntry is returned when an index entry cannot be decoded.
var ErrBadIndexEntry = errors.New("shardfile: invalid index entry")

// IndexEntry is one chunk descriptor as recorded in a shard's index (inline
// or sidecar .idx file): series_id, [start_ts,end_ts], len, and an optional
// cinfo sidecar for compressed or log-typed shards (spec.md §4.3, §6.2).
type IndexEntry struct {
	SeriesID uint32
	StartTS  int64
	EndTS    int64
	Len      uint16
	Cinfo    codec.Cinfo
	HasCinfo bool
}

// EntrySize returns the on-disk size of an index entry for the given
// precision and cinfo presence: 14 bytes at 32-bit precision, 22 at wide
// precision, plus 2 more when hasCinfo (spec.md §4.3).
func EntrySize(prec precision.Precision, hasCinfo bool) int {
	n := 4 + 2 // series_id + len
	if prec.Is32Bit() {
		n += 4 + 4
	} else {
		n += 8 + 8
	}
	if hasCinfo {
		n += 2
	}
	return n
}

// Encode serializes e using the given precision's timestamp width.
func (e IndexEntry) Encode(prec precision.Precision) []byte {
	buf := make([]byte, 0, EntrySize(prec, e.HasCinfo))
	var sidBuf [4]byte
	binary.LittleEndian.PutUint32(sidBuf[:], e.SeriesID)
	buf = append(buf, sidBuf[:]...)

	if prec.Is32Bit() {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.StartTS))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.EndTS))
	} else {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.StartTS))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.EndTS))
	}
	buf = binary.LittleEndian.AppendUint16(buf, e.Len)
	if e.HasCinfo {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(e.Cinfo))
	}
	return buf
}

// DecodeIndexEntry is the inverse of IndexEntry.Encode.
func DecodeIndexEntry(buf []byte, prec precision.Precision, hasCinfo bool) (IndexEntry, error) {
	want := EntrySize(prec, hasCinfo)
	if len(buf) < want {
		return IndexEntry{}, ErrBadIndexEntry
	}
	e := IndexEntry{HasCinfo: hasCinfo}
	e.SeriesID = binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	if prec.Is32Bit() {
		e.StartTS = int64(binary.LittleEndian.Uint32(buf[off : off+4]))
		e.EndTS = int64(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		off += 8
	} else {
		e.StartTS = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		e.EndTS = int64(binary.LittleEndian.Uint64(buf[off+8 : off+16]))
		off += 16
	}
	e.Len = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2
	if hasCinfo {
		e.Cinfo = codec.Cinfo(binary.LittleEndian.Uint16(buf[off : off+2]))
	}
	return e, nil
}
