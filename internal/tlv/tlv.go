// Package tlv implements a typed tag-length-value encoding used for
// database.dat (spec.md §6.1, "Serialized as a typed tag-length-value
// stream"). The wire layout mirrors the tag ranges used by
// original_source/src/qpack/qpack.c: small integers, small raw strings and a
// handful of fixed-double values are packed into a single tag byte, with
// wider tags for larger ints/strings/doubles and for nested arrays/maps.
package tlv

import "github.com/pkg/errors"

// Type identifies the kind of value a decoded Object holds.
type Type byte

const (
	TypeEnd Type = iota
	TypeInt64
	TypeDouble
	TypeRaw
	TypeBool
	TypeNull
	TypeArray
	TypeMap
)

// Wire tags, following qpack.c's byte ranges exactly.
const (
	tagFixIntMax   = 63  // 0..63: positive fixint, value == tag
	tagFixNegMin   = 64  // 64..124: negative fixint, value == 63-tag
	tagFixNegMax   = 124
	tagDoubleNeg1  = 125
	tagDouble0     = 126
	tagDouble1     = 127
	tagFixRawMin   = 128 // 128..227: raw string, len == tag-128 (0..99)
	tagFixRawMax   = 227
	tagRaw8        = 228
	tagRaw16       = 229
	tagRaw32       = 230
	tagRaw64       = 231
	tagInt8        = 232
	tagInt16       = 233
	tagInt32       = 234
	tagInt64       = 235
	tagDouble      = 236
	tagArray0      = 237
	tagArray1      = 238
	tagArray2      = 239
	tagArray3      = 240
	tagArray4      = 241
	tagArray5      = 242
	tagArrayOpen   = 243
	tagArrayClose  = 244
	tagMap0        = 245
	tagMap1        = 246
	tagMap2        = 247
	tagMap3        = 248
	tagMap4        = 249
	tagMap5        = 250
	tagMapOpen     = 251
	tagMapClose    = 252
	tagTrue        = 253
	tagFalse       = 254
	tagNull        = 255
)

const maxFixArrayOrMap = 5

// ErrCorrupt is returned when the decoder hits an unexpected end of buffer
// or an internal length it cannot trust.
var ErrCorrupt = errors.New("tlv: corrupt stream")

// ErrUnsupportedType is returned by Marshal when asked to encode a Go value
// with no TLV representation.
var ErrUnsupportedType = errors.New("tlv: unsupported value type")
