package codec

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/precision"
)

// Columnar numeric chunk layout (spec.md §4.2, point 2):
//
//	[0:16)  header: first point verbatim, 8-byte ts + 8-byte value bits
//	[16:16+n1*tcount) timestamp deltas, each right-shifted by tshift and
//	                  packed into tcount bytes little-endian
//	[...)             value block: zig-zag delta-packed (integer) or
//	                  changed-byte-column packed (float); falls through to
//	                  raw when the packed width buys nothing (vcount==8)
//
// cinfo bit layout (13 of 16 bits used, 3 reserved):
//
//	bits[0:3)  tcount-1   (tcount in [1,8])
//	bits[3:9)  tshift     (0..63)
//	bits[9:13) vcount     (0..8; 8 means the value block fell through to raw)
const (
	cinfoTCountBits = 3
	cinfoTShiftBits = 6
	cinfoVCountBits = 4

	cinfoTCountShift = 0
	cinfoTShiftShift = cinfoTCountShift + cinfoTCountBits
	cinfoVCountShift = cinfoTShiftShift + cinfoTShiftBits
)

func packCinfo(tcount int, tshift int, vcount int) Cinfo {
	return Cinfo(uint16(tcount-1)<<cinfoTCountShift |
		uint16(tshift)<<cinfoTShiftShift |
		uint16(vcount)<<cinfoVCountShift)
}

func unpackCinfo(c Cinfo) (tcount, tshift, vcount int) {
	v := uint16(c)
	tcount = int((v>>cinfoTCountShift)&(1<<cinfoTCountBits-1)) + 1
	tshift = int((v >> cinfoTShiftShift) & (1<<cinfoTShiftBits - 1))
	vcount = int((v >> cinfoVCountShift) & (1<<cinfoVCountBits - 1))
	return
}

// EncodeColumnar compresses points using the bit-packed columnar scheme.
// Callers are expected to have already filtered out chunks smaller than
// ZipThreshold (the shard writer picks the encoding; see encodeChunk in
// internal/engine and internal/compactor).
func EncodeColumnar(points point.List, typ point.Type, prec precision.Precision) (Encoded, error) {
	if typ == point.String {
		return Encoded{}, errNotNumeric
	}
	if len(points) == 0 {
		return Encoded{Bytes: nil, Cinfo: 0, Size: 0}, nil
	}

	buf := make([]byte, 16)
	first := points[0]
	binary.LittleEndian.PutUint64(buf[0:8], uint64(first.TS))
	firstBits, err := valueBits(first, typ)
	if err != nil {
		return Encoded{}, err
	}
	binary.LittleEndian.PutUint64(buf[8:16], firstBits)

	tshift, tcount, shiftedDeltas := packTimestamps(points)
	for _, sd := range shiftedDeltas {
		buf = appendUintN(buf, sd, tcount)
	}

	var vcount int
	switch typ {
	case point.Integer:
		vcount, buf = encodeIntValues(buf, points, firstBits)
	case point.Float:
		vcount, buf = encodeFloatValues(buf, points, firstBits)
	}

	return Encoded{Bytes: buf, Cinfo: packCinfo(tcount, tshift, vcount), Size: len(buf)}, nil
}

// DecodeColumnar is the strict inverse of EncodeColumnar.
func DecodeColumnar(data []byte, length int, cinfo Cinfo, typ point.Type, dst point.List, filter RangeFilter, overlap bool) (point.List, error) {
	if length == 0 {
		return dst, nil
	}
	if len(data) < 16 {
		return dst, ErrCorrupt
	}
	tcount, tshift, vcount := unpackCinfo(cinfo)

	firstTS := int64(binary.LittleEndian.Uint64(data[0:8]))
	firstBits := binary.LittleEndian.Uint64(data[8:16])

	off := 16
	deltaWidth := tcount
	needTS := deltaWidth * (length - 1)
	if len(data) < off+needTS {
		return dst, ErrCorrupt
	}
	timestamps := make([]int64, length)
	timestamps[0] = firstTS
	cur := firstTS
	for i := 1; i < length; i++ {
		sd := readUintN(data[off:off+deltaWidth], deltaWidth)
		off += deltaWidth
		cur += int64(sd << uint(tshift))
		timestamps[i] = cur
	}

	var values []uint64
	var err error
	switch typ {
	case point.Integer:
		values, err = decodeIntValues(data[off:], length, vcount, firstBits)
	case point.Float:
		values, err = decodeFloatValues(data[off:], length, vcount, firstBits)
	default:
		return dst, errNotNumeric
	}
	if err != nil {
		return dst, err
	}

	for i := 0; i < length; i++ {
		if !filter.includes(timestamps[i]) {
			continue
		}
		dst = insert(dst, point.Point{TS: timestamps[i], Value: bitsToValue(values[i], typ)}, overlap)
	}
	return dst, nil
}

func packTimestamps(points point.List) (tshift, tcount int, shifted []uint64) {
	n := len(points)
	if n <= 1 {
		return 0, 1, nil
	}
	deltas := make([]uint64, n-1)
	var orAll uint64
	for i := 1; i < n; i++ {
		d := uint64(points[i].TS - points[i-1].TS)
		deltas[i-1] = d
		orAll |= d
	}
	if orAll == 0 {
		return 0, 1, make([]uint64, n-1)
	}
	tshift = bits.TrailingZeros64(orAll)
	var maxShifted uint64
	shifted = make([]uint64, n-1)
	for i, d := range deltas {
		sd := d >> uint(tshift)
		shifted[i] = sd
		if sd > maxShifted {
			maxShifted = sd
		}
	}
	tcount = byteWidth(maxShifted)
	return tshift, tcount, shifted
}

// byteWidth returns the minimum number of bytes (1..8) needed to hold v.
func byteWidth(v uint64) int {
	w := (bits.Len64(v) + 7) / 8
	if w == 0 {
		w = 1
	}
	if w > 8 {
		w = 8
	}
	return w
}

func appendUintN(buf []byte, v uint64, n int) []byte {
	for i := 0; i < n; i++ {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

func readUintN(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func zigzagEncode(d int64) uint64 { return uint64((d << 1) ^ (d >> 63)) }
func zigzagDecode(z uint64) int64 { return int64(z>>1) ^ -int64(z&1) }

func encodeIntValues(buf []byte, points point.List, firstBits uint64) (int, []byte) {
	n := len(points)
	if n <= 1 {
		return 1, buf
	}
	deltas := make([]uint64, n-1)
	var maxZZ uint64
	prev := int64(firstBits)
	for i := 1; i < n; i++ {
		v := points[i].Int()
		d := v - prev
		zz := zigzagEncode(d)
		deltas[i-1] = zz
		if zz > maxZZ {
			maxZZ = zz
		}
		prev = v
	}
	vcount := byteWidth(maxZZ)
	if vcount >= 8 {
		// raw fall-through: store full int64 values instead of zig-zag deltas.
		for i := 1; i < n; i++ {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(points[i].Int()))
		}
		return 8, buf
	}
	for _, zz := range deltas {
		buf = appendUintN(buf, zz, vcount)
	}
	return vcount, buf
}

func decodeIntValues(data []byte, length int, vcount int, firstBits uint64) ([]uint64, error) {
	values := make([]uint64, length)
	values[0] = firstBits
	if length == 1 {
		return values, nil
	}
	if vcount >= 8 {
		need := 8 * (length - 1)
		if len(data) < need {
			return nil, ErrCorrupt
		}
		prev := int64(firstBits)
		_ = prev
		for i := 1; i < length; i++ {
			values[i] = binary.LittleEndian.Uint64(data[(i-1)*8 : i*8])
		}
		return values, nil
	}
	need := vcount * (length - 1)
	if len(data) < need {
		return nil, ErrCorrupt
	}
	prev := int64(firstBits)
	for i := 1; i < length; i++ {
		zz := readUintN(data[(i-1)*vcount:i*vcount], vcount)
		d := zigzagDecode(zz)
		prev += d
		values[i] = uint64(prev)
	}
	return values, nil
}

func encodeFloatValues(buf []byte, points point.List, firstBits uint64) (int, []byte) {
	n := len(points)
	if n <= 1 {
		return 0, buf
	}
	var headerBytes [8]byte
	binary.LittleEndian.PutUint64(headerBytes[:], firstBits)

	var unionMask uint8
	allBits := make([][8]byte, n-1)
	for i := 1; i < n; i++ {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(points[i].Float()))
		allBits[i-1] = b
		for pos := 0; pos < 8; pos++ {
			if b[pos] != headerBytes[pos] {
				unionMask |= 1 << uint(pos)
			}
		}
	}
	vcount := bits.OnesCount8(unionMask)
	if vcount >= 8 {
		// raw fall-through: every byte position varies, compression buys nothing.
		for _, b := range allBits {
			buf = append(buf, b[:]...)
		}
		return 8, buf
	}
	buf = append(buf, unionMask)
	for _, b := range allBits {
		for pos := 0; pos < 8; pos++ {
			if unionMask&(1<<uint(pos)) != 0 {
				buf = append(buf, b[pos])
			}
		}
	}
	return vcount, buf
}

func decodeFloatValues(data []byte, length int, vcount int, firstBits uint64) ([]uint64, error) {
	values := make([]uint64, length)
	values[0] = firstBits
	if length == 1 {
		return values, nil
	}
	if vcount >= 8 {
		need := 8 * (length - 1)
		if len(data) < need {
			return nil, ErrCorrupt
		}
		for i := 1; i < length; i++ {
			values[i] = binary.LittleEndian.Uint64(data[(i-1)*8 : i*8])
		}
		return values, nil
	}
	if len(data) < 1 {
		return nil, ErrCorrupt
	}
	unionMask := data[0]
	body := data[1:]
	need := vcount * (length - 1)
	if len(body) < need {
		return nil, ErrCorrupt
	}
	var headerBytes [8]byte
	binary.LittleEndian.PutUint64(headerBytes[:], firstBits)
	for i := 1; i < length; i++ {
		b := headerBytes
		row := body[(i-1)*vcount : i*vcount]
		j := 0
		for pos := 0; pos < 8; pos++ {
			if unionMask&(1<<uint(pos)) != 0 {
				b[pos] = row[j]
				j++
			}
		}
		values[i] = binary.LittleEndian.Uint64(b[:])
	}
	return values, nil
}
