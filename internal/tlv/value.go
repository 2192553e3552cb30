package tlv

// Marshal and Unmarshal give catalog code (internal/config) a generic
// encode/decode pair over plain Go values, so database.dat's schema can be
// built and read as an ordinary map instead of hand-walking Packer/Unpacker
// calls for every field. Supported value types: int64 (and int, int8,
// int16, int32, uint, uint32 and uint64, narrowed to int64; uint8 and
// uint16 are not accepted), float64, string, bool, nil,
// []interface{}, and map[string]interface{} with string keys.

import "github.com/pkg/errors"

// Marshal encodes v as a single TLV value.
func Marshal(v interface{}) ([]byte, error) {
	p := NewPacker(64)
	if err := p.AddValue(v); err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

// AddValue encodes a generic Go value, recursing into slices and maps.
func (p *Packer) AddValue(v interface{}) error {
	switch x := v.(type) {
	case nil:
		p.AddNull()
	case bool:
		p.AddBool(x)
	case int:
		p.AddInt64(int64(x))
	case int8:
		p.AddInt64(int64(x))
	case int16:
		p.AddInt64(int64(x))
	case int32:
		p.AddInt64(int64(x))
	case int64:
		p.AddInt64(x)
	case uint:
		p.AddInt64(int64(x))
	case uint32:
		p.AddInt64(int64(x))
	case uint64:
		p.AddInt64(int64(x))
	case float32:
		p.AddDouble(float64(x))
	case float64:
		p.AddDouble(x)
	case string:
		p.AddString(x)
	case []byte:
		p.AddRaw(x)
	case []interface{}:
		p.OpenArray(len(x))
		for _, item := range x {
			if err := p.AddValue(item); err != nil {
				return err
			}
		}
		if len(x) > maxFixArrayOrMap {
			p.CloseArray()
		}
	case map[string]interface{}:
		p.OpenMap(len(x))
		for k, item := range x {
			p.AddString(k)
			if err := p.AddValue(item); err != nil {
				return err
			}
		}
		if len(x) > maxFixArrayOrMap {
			p.CloseMap()
		}
	default:
		return errors.Wrapf(ErrUnsupportedType, "%T", v)
	}
	return nil
}

// Unmarshal decodes a single TLV-encoded value from data.
func Unmarshal(data []byte) (interface{}, error) {
	u := NewUnpacker(data)
	v, err := u.decodeValue()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (u *Unpacker) decodeValue() (interface{}, error) {
	obj, err := u.Next()
	if err != nil {
		return nil, err
	}
	switch obj.Type {
	case TypeEnd:
		return nil, ErrCorrupt
	case TypeInt64:
		return obj.Int, nil
	case TypeDouble:
		return obj.Float, nil
	case TypeRaw:
		return string(obj.Raw), nil
	case TypeBool:
		return obj.Bool, nil
	case TypeNull:
		return nil, nil
	case TypeArray:
		return u.decodeArray(obj.Count())
	case TypeMap:
		return u.decodeMap(obj.Count())
	default:
		return nil, ErrCorrupt
	}
}

func (u *Unpacker) decodeArray(count int) ([]interface{}, error) {
	out := make([]interface{}, 0, maxInt(count, 0))
	if count >= 0 {
		for i := 0; i < count; i++ {
			v, err := u.decodeValue()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	for !u.peekIsArrayClose() {
		if u.Done() {
			return nil, ErrCorrupt
		}
		v, err := u.decodeValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	u.pos++ // consume ArrayClose
	return out, nil
}

func (u *Unpacker) decodeMap(count int) (map[string]interface{}, error) {
	out := make(map[string]interface{}, maxInt(count, 0))
	if count >= 0 {
		for i := 0; i < count; i++ {
			key, err := u.decodeValue()
			if err != nil {
				return nil, err
			}
			ks, ok := key.(string)
			if !ok {
				return nil, ErrCorrupt
			}
			val, err := u.decodeValue()
			if err != nil {
				return nil, err
			}
			out[ks] = val
		}
		return out, nil
	}
	for !u.peekIsMapClose() {
		if u.Done() {
			return nil, ErrCorrupt
		}
		key, err := u.decodeValue()
		if err != nil {
			return nil, err
		}
		ks, ok := key.(string)
		if !ok {
			return nil, ErrCorrupt
		}
		val, err := u.decodeValue()
		if err != nil {
			return nil, err
		}
		out[ks] = val
	}
	u.pos++ // consume MapClose
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
