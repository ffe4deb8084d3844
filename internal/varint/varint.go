// Package varint implements the two binary encodings used throughout
// the index: a standard base-128 scalar varint, and a fixed 4-byte
// "big-varint" used to reserve a size slot that is back-patched later
// without shifting surrounding bytes.
//
// Grounded on fts5_hash.c's fts5Put4ByteVarint/fts5Get4ByteVarint and
// the scalar varint routines referenced throughout ext/fts5/fts5.c.
package varint

import "github.com/fts5go/fts5go/internal/base"

// MaxLen is the maximum number of bytes a scalar varint can occupy
// (ceil(64/7) = 10 for the full uint64 range).
const MaxLen = 10

// Len returns the number of bytes Encode would write for v.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Encode appends the shortest base-128 little-endian encoding of v to
// dst and returns the extended slice.
func Encode(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Decode reads a scalar varint from the front of src, returning the
// value and the number of bytes consumed. It fails with base.ErrCorrupt
// if src is exhausted before termination or more than MaxLen bytes
// would be required.
func Decode(src []byte) (v uint64, n int, err error) {
	var shift uint
	for i := 0; i < len(src); i++ {
		if i == MaxLen {
			return 0, 0, base.Corruptf("varint: too long")
		}
		b := src[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, base.Corruptf("varint: truncated")
}

// Put4 writes v as an exact 4-byte big-varint into dst[:4]. Every byte
// but the last carries the continuation (top) bit set, even when v is
// small enough to fit in fewer bytes — the fixed width is what makes
// the slot patchable in place. The slot holds 28 bits; higher bits of
// v are dropped.
func Put4(dst []byte, v uint32) {
	_ = dst[3]
	dst[0] = 0x80 | byte(v>>21)
	dst[1] = 0x80 | byte(v>>14)
	dst[2] = 0x80 | byte(v>>7)
	dst[3] = 0x7f & byte(v)
}

// Get4 reads a 4-byte big-varint from src[:4], returning the decoded
// value and the logical width — the number of bytes the value would
// have taken as a scalar varint. Callers use the logical width to
// detect and skip the zero-padding wasted by the fixed 4-byte slot.
func Get4(src []byte) (v uint32, logicalWidth int) {
	_ = src[3]
	v = (uint32(src[0]&0x7f) << 21) | (uint32(src[1]&0x7f) << 14) | (uint32(src[2]&0x7f) << 7) | uint32(src[3]&0x7f)
	switch {
	case v <= 0x7f:
		logicalWidth = 1
	case v <= 0x3fff:
		logicalWidth = 2
	case v <= 0x1fffff:
		logicalWidth = 3
	default:
		logicalWidth = 4
	}
	return v, logicalWidth
}
