package tlv

import (
	"encoding/binary"
	"math"
)

// Packer appends TLV-encoded values to an in-memory buffer. The zero value
// is ready to use.
type Packer struct {
	buf []byte
}

// NewPacker returns a Packer with buf pre-sized to size bytes.
func NewPacker(size int) *Packer {
	return &Packer{buf: make([]byte, 0, size)}
}

// Bytes returns the packed stream built so far.
func (p *Packer) Bytes() []byte { return p.buf }

// AddInt64 packs a signed integer, using the shortest tag that can hold it.
func (p *Packer) AddInt64(v int64) {
	switch {
	case v >= 0 && v <= tagFixIntMax:
		p.buf = append(p.buf, byte(v))
	case v < 0 && v >= -61:
		p.buf = append(p.buf, byte(63-v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		p.buf = append(p.buf, tagInt8, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		p.buf = append(p.buf, tagInt16)
		p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(int16(v)))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		p.buf = append(p.buf, tagInt32)
		p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(int32(v)))
	default:
		p.buf = append(p.buf, tagInt64)
		p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(v))
	}
}

// AddDouble packs a float64, using a single-byte tag for -1, 0 and 1.
func (p *Packer) AddDouble(v float64) {
	switch v {
	case -1:
		p.buf = append(p.buf, tagDoubleNeg1)
	case 0:
		p.buf = append(p.buf, tagDouble0)
	case 1:
		p.buf = append(p.buf, tagDouble1)
	default:
		p.buf = append(p.buf, tagDouble)
		p.buf = binary.LittleEndian.AppendUint64(p.buf, math.Float64bits(v))
	}
}

// AddRaw packs an opaque byte string (used for both strings and binary
// blobs such as a UUID).
func (p *Packer) AddRaw(raw []byte) {
	n := len(raw)
	switch {
	case n < 100:
		p.buf = append(p.buf, byte(tagFixRawMin+n))
	case n < 1<<8:
		p.buf = append(p.buf, tagRaw8, byte(n))
	case n < 1<<16:
		p.buf = append(p.buf, tagRaw16)
		p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(n))
	case int64(n) < 1<<32:
		p.buf = append(p.buf, tagRaw32)
		p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(n))
	default:
		p.buf = append(p.buf, tagRaw64)
		p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(n))
	}
	p.buf = append(p.buf, raw...)
}

// AddString packs a Go string as raw bytes.
func (p *Packer) AddString(s string) { p.AddRaw([]byte(s)) }

// AddBool packs a boolean.
func (p *Packer) AddBool(v bool) {
	if v {
		p.buf = append(p.buf, tagTrue)
	} else {
		p.buf = append(p.buf, tagFalse)
	}
}

// AddNull packs a null/nil marker.
func (p *Packer) AddNull() { p.buf = append(p.buf, tagNull) }

// OpenArray starts an array; a fixed-size tag is used for n <= 5 (values then
// follow inline, no close marker needed), otherwise ArrayOpen is written and
// the caller must follow with exactly that many values then CloseArray.
func (p *Packer) OpenArray(n int) {
	if n >= 0 && n <= maxFixArrayOrMap {
		p.buf = append(p.buf, byte(tagArray0+n))
		return
	}
	p.buf = append(p.buf, tagArrayOpen)
}

// CloseArray terminates an open-ended array started with OpenArray(n) where
// n was not in [0,5]. It is a no-op to call this after a fixed-size array;
// callers should track whether they used the open-ended form.
func (p *Packer) CloseArray() { p.buf = append(p.buf, tagArrayClose) }

// OpenMap starts a map with n key/value pairs, mirroring OpenArray's
// fixed-vs-open-ended split.
func (p *Packer) OpenMap(n int) {
	if n >= 0 && n <= maxFixArrayOrMap {
		p.buf = append(p.buf, byte(tagMap0+n))
		return
	}
	p.buf = append(p.buf, tagMapOpen)
}

// CloseMap terminates an open-ended map started with OpenMap(n > 5).
func (p *Packer) CloseMap() { p.buf = append(p.buf, tagMapClose) }
