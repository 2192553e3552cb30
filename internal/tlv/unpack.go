package tlv

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Object is a single decoded value. Exactly one of the typed fields is
// meaningful, selected by Type.
type Object struct {
	Type  Type
	Int   int64
	Float float64
	Raw   []byte
	Bool  bool

	// count is the element count for TypeArray/TypeMap when the tag was a
	// fixed-size one (0..5); -1 means "open-ended, read until a close tag".
	count int
}

// Count reports the element count carried by a fixed-size array/map tag, or
// -1 if the array/map was open-ended (ArrayOpen/MapOpen) and must be read
// until the matching close tag.
func (o Object) Count() int { return o.count }

// Unpacker walks a TLV-encoded byte stream one value at a time.
type Unpacker struct {
	data []byte
	pos  int
}

// NewUnpacker wraps data for sequential decoding.
func NewUnpacker(data []byte) *Unpacker {
	return &Unpacker{data: data}
}

// Done reports whether every byte of the stream has been consumed.
func (u *Unpacker) Done() bool { return u.pos >= len(u.data) }

// Next decodes the value at the current position and advances past it.
// At end of stream it returns an Object with Type == TypeEnd and a nil
// error (mirroring qpack's QP_END sentinel rather than treating a clean
// end-of-stream as an error).
func (u *Unpacker) Next() (Object, error) {
	if u.Done() {
		return Object{Type: TypeEnd}, nil
	}
	tag := u.data[u.pos]
	u.pos++

	switch {
	case tag <= tagFixIntMax:
		return Object{Type: TypeInt64, Int: int64(tag)}, nil
	case tag <= tagFixNegMax:
		return Object{Type: TypeInt64, Int: int64(63) - int64(tag)}, nil
	case tag == tagDoubleNeg1:
		return Object{Type: TypeDouble, Float: -1}, nil
	case tag == tagDouble0:
		return Object{Type: TypeDouble, Float: 0}, nil
	case tag == tagDouble1:
		return Object{Type: TypeDouble, Float: 1}, nil
	case tag >= tagFixRawMin && tag <= tagFixRawMax:
		return u.readRaw(int(tag - tagFixRawMin))
	case tag == tagRaw8:
		n, err := u.readUint(1)
		if err != nil {
			return Object{}, err
		}
		return u.readRaw(int(n))
	case tag == tagRaw16:
		n, err := u.readUint(2)
		if err != nil {
			return Object{}, err
		}
		return u.readRaw(int(n))
	case tag == tagRaw32:
		n, err := u.readUint(4)
		if err != nil {
			return Object{}, err
		}
		return u.readRaw(int(n))
	case tag == tagRaw64:
		n, err := u.readUint(8)
		if err != nil {
			return Object{}, err
		}
		return u.readRaw(int(n))
	case tag == tagInt8:
		if u.pos+1 > len(u.data) {
			return Object{}, ErrCorrupt
		}
		v := int64(int8(u.data[u.pos]))
		u.pos++
		return Object{Type: TypeInt64, Int: v}, nil
	case tag == tagInt16:
		if u.pos+2 > len(u.data) {
			return Object{}, ErrCorrupt
		}
		v := int64(int16(binary.LittleEndian.Uint16(u.data[u.pos:])))
		u.pos += 2
		return Object{Type: TypeInt64, Int: v}, nil
	case tag == tagInt32:
		if u.pos+4 > len(u.data) {
			return Object{}, ErrCorrupt
		}
		v := int64(int32(binary.LittleEndian.Uint32(u.data[u.pos:])))
		u.pos += 4
		return Object{Type: TypeInt64, Int: v}, nil
	case tag == tagInt64:
		if u.pos+8 > len(u.data) {
			return Object{}, ErrCorrupt
		}
		v := int64(binary.LittleEndian.Uint64(u.data[u.pos:]))
		u.pos += 8
		return Object{Type: TypeInt64, Int: v}, nil
	case tag == tagDouble:
		if u.pos+8 > len(u.data) {
			return Object{}, ErrCorrupt
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(u.data[u.pos:]))
		u.pos += 8
		return Object{Type: TypeDouble, Float: v}, nil
	case tag >= tagArray0 && tag <= tagArray5:
		return Object{Type: TypeArray, count: int(tag - tagArray0)}, nil
	case tag == tagArrayOpen:
		return Object{Type: TypeArray, count: -1}, nil
	case tag == tagArrayClose:
		return Object{Type: TypeEnd}, ErrUnexpectedClose
	case tag >= tagMap0 && tag <= tagMap5:
		return Object{Type: TypeMap, count: int(tag - tagMap0)}, nil
	case tag == tagMapOpen:
		return Object{Type: TypeMap, count: -1}, nil
	case tag == tagMapClose:
		return Object{Type: TypeEnd}, ErrUnexpectedClose
	case tag == tagTrue:
		return Object{Type: TypeBool, Bool: true}, nil
	case tag == tagFalse:
		return Object{Type: TypeBool, Bool: false}, nil
	case tag == tagNull:
		return Object{Type: TypeNull}, nil
	default:
		return Object{}, ErrCorrupt
	}
}

// peekIsArrayClose reports whether the next byte, if read, would be an
// array-close tag, without consuming it. Used by open-ended array/map
// readers to detect their terminator.
func (u *Unpacker) peekIsArrayClose() bool {
	return u.pos < len(u.data) && u.data[u.pos] == tagArrayClose
}

func (u *Unpacker) peekIsMapClose() bool {
	return u.pos < len(u.data) && u.data[u.pos] == tagMapClose
}

func (u *Unpacker) readUint(width int) (uint64, error) {
	if u.pos+width > len(u.data) {
		return 0, ErrCorrupt
	}
	var v uint64
	switch width {
	case 1:
		v = uint64(u.data[u.pos])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(u.data[u.pos:]))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(u.data[u.pos:]))
	case 8:
		v = binary.LittleEndian.Uint64(u.data[u.pos:])
	}
	u.pos += width
	return v, nil
}

func (u *Unpacker) readRaw(n int) (Object, error) {
	if n < 0 || u.pos+n > len(u.data) {
		return Object{}, ErrCorrupt
	}
	raw := u.data[u.pos : u.pos+n]
	u.pos += n
	return Object{Type: TypeRaw, Raw: raw}, nil
}

// ErrUnexpectedClose is returned by Next when a close tag is read as if it
// were a value; callers that walk arrays/maps consume close tags via their
// own peek/skip helpers instead of calling Next for them.
var ErrUnexpectedClose = errors.New("tlv: unexpected close tag")
