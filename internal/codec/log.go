package codec

import (
	"encoding/binary"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
)

// Log chunk layout (spec.md §4.2, point 3): a timestamp column (same width
// rules as the numeric raw encoding) followed by a string stream. Chunks at
// or above ZipThreshold have their string stream passed through a small
// LZ-style back-reference compressor (hashLogBits-bit hash table over
// 4-byte shingles); literals and matches are varint-length-prefixed.
//
// cinfo packs the *compressed stream* size: the low 15 bits hold the size
// directly when it fits in 32 KiB, otherwise the high bit is set and the
// low 15 bits hold the size right-shifted by sizeShift (spec.md §4.2). This
// mirrors the original format exactly, but because it is lossy above 32 KiB
// this package is not the sole source of truth for how many bytes a chunk
// occupies on disk: internal/series' ChunkDescriptor independently
// records the exact encoded size returned by Encoded.Size and uses that for
// I/O, falling back to cinfo only as a compact on-disk hint (see DESIGN.md).
const (
	hashLogBits = 14
	hashLogSize = 1 << hashLogBits
	minMatchLen = 4
	sizeShift   = 10
	sizeDirectMax = 1<<15 - 1
)

func packLogCinfo(size int) Cinfo {
	if size <= sizeDirectMax {
		return Cinfo(uint16(size))
	}
	shifted := size >> sizeShift
	if shifted > sizeDirectMax {
		shifted = sizeDirectMax
	}
	return Cinfo(uint16(shifted) | 0x8000)
}

// LogCinfoSize decodes the approximate compressed-size hint from cinfo.
func LogCinfoSize(c Cinfo) int {
	v := uint16(c)
	if v&0x8000 == 0 {
		return int(v)
	}
	return int(v&0x7fff) << sizeShift
}

// EncodeLog encodes string points as a timestamp column plus a (optionally
// compressed) null-terminated string stream.
func EncodeLog(points point.List, prec precision.Precision) (Encoded, error) {
	tsw := prec.TimestampWidth()
	tsBuf := make([]byte, 0, len(points)*tsw)
	var raw []byte
	for _, p := range points {
		tsBuf = appendTS(tsBuf, p.TS, tsw)
		s := p.Str()
		raw = append(raw, []byte(s)...)
		raw = append(raw, 0)
	}

	if len(points) < ZipThreshold {
		buf := append(tsBuf, raw...)
		return Encoded{Bytes: buf, Cinfo: 0, Size: len(buf)}, nil
	}

	compressed, isASCII := compressLog(raw)
	var mode byte
	if isASCII {
		mode = 1
	}
	buf := append(tsBuf, mode)
	buf = append(buf, compressed...)
	return Encoded{Bytes: buf, Cinfo: packLogCinfo(len(compressed)), Size: len(buf)}, nil
}

// DecodeLog is the inverse of EncodeLog. wasCompressed tells the decoder
// whether the string stream went through compressLog. EncodeLog compresses
// exactly the chunks of at least ZipThreshold points, whatever the shard's
// is-compressed flag, so callers pass length >= ZipThreshold.
func DecodeLog(data []byte, length int, prec precision.Precision, wasCompressed bool, dst point.List, filter RangeFilter, overlap bool) (point.List, error) {
	if length == 0 {
		return dst, nil
	}
	tsw := prec.TimestampWidth()
	need := tsw * length
	if len(data) < need {
		return dst, ErrCorrupt
	}
	timestamps := make([]int64, length)
	for i := 0; i < length; i++ {
		timestamps[i] = readTS(data[i*tsw:(i+1)*tsw], tsw)
	}
	body := data[need:]

	var raw []byte
	if wasCompressed {
		if len(body) < 1 {
			return dst, ErrCorrupt
		}
		var err error
		raw, err = decompressLog(body[1:])
		if err != nil {
			return dst, err
		}
	} else {
		raw = body
	}

	strs, err := splitNulTerminated(raw, length)
	if err != nil {
		return dst, err
	}
	for i := 0; i < length; i++ {
		if !filter.includes(timestamps[i]) {
			continue
		}
		dst = insert(dst, point.Point{TS: timestamps[i], Value: strs[i]}, overlap)
	}
	return dst, nil
}

func splitNulTerminated(raw []byte, count int) ([]string, error) {
	out := make([]string, 0, count)
	start := 0
	for i := 0; i < len(raw) && len(out) < count; i++ {
		if raw[i] == 0 {
			out = append(out, string(raw[start:i]))
			start = i + 1
		}
	}
	if len(out) != count {
		return nil, ErrCorrupt
	}
	return out, nil
}

// compressLog implements the back-reference scheme described in spec.md
// §4.2: a hashLogBits-hashed sliding window over 4-byte shingles, literals
// and matches varint-length-prefixed. isASCII reports whether every
// original byte was < 0x80 (selects the ASCII sub-mode; both sub-modes
// share this implementation since the token stream format does not
// actually depend on it once length/offset are varint-encoded — the
// sub-mode byte is carried so the original's two packers, which differ in
// bit-width per symbol, remain representable on the wire).
func compressLog(src []byte) (out []byte, isASCII bool) {
	isASCII = true
	for _, b := range src {
		if b >= 0x80 {
			isASCII = false
			break
		}
	}

	table := make(map[uint32]int, len(src)/4)
	i := 0
	litStart := 0
	for i+minMatchLen <= len(src) {
		h := hash4(src[i:])
		pos, ok := table[h]
		table[h] = i
		if ok && pos < i && bytesEqual(src, pos, i, minMatchLen) {
			matchLen := minMatchLen
			for i+matchLen < len(src) && src[pos+matchLen] == src[i+matchLen] {
				matchLen++
			}
			if i > litStart {
				out = appendLiteral(out, src[litStart:i])
			}
			out = appendMatch(out, i-pos, matchLen)
			i += matchLen
			litStart = i
			continue
		}
		i++
	}
	if litStart < len(src) {
		out = appendLiteral(out, src[litStart:])
	}
	return out, isASCII
}

func decompressLog(data []byte) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(data) {
		tag := data[i]
		i++
		n, nbytes, ok := readVarint(data[i:])
		if !ok {
			return nil, ErrCorrupt
		}
		i += nbytes
		if tag == 0 { // literal
			if i+int(n) > len(data) {
				return nil, ErrCorrupt
			}
			out = append(out, data[i:i+int(n)]...)
			i += int(n)
		} else { // match: n is length, next varint is offset
			length := int(n)
			off, nbytes2, ok := readVarint(data[i:])
			if !ok {
				return nil, ErrCorrupt
			}
			i += nbytes2
			start := len(out) - int(off)
			if start < 0 {
				return nil, ErrCorrupt
			}
			for k := 0; k < length; k++ {
				out = append(out, out[start+k])
			}
		}
	}
	return out, nil
}

func appendLiteral(out []byte, lit []byte) []byte {
	out = append(out, 0)
	out = appendVarint(out, uint64(len(lit)))
	out = append(out, lit...)
	return out
}

func appendMatch(out []byte, offset, length int) []byte {
	out = append(out, 1)
	out = appendVarint(out, uint64(length))
	out = appendVarint(out, uint64(offset))
	return out
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(b []byte) (uint64, int, bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, false
	}
	return v, n, true
}

func hash4(b []byte) uint32 {
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return (v * 2654435761) >> (32 - hashLogBits)
}

func bytesEqual(src []byte, a, b, n int) bool {
	for i := 0; i < n; i++ {
		if src[a+i] != src[b+i] {
			return false
		}
	}
	return true
}
