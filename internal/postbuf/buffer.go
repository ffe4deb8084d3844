// Package postbuf implements a growable byte buffer with amortised
// append of blobs and varints, generalizing the block-builder pattern
// documented in the teacher's sstable package (shared-prefix + varint
// length framing) into a standalone buffer usable both for in-memory
// pending-hash entries and on-disk segment leaf pages.
//
// A Buffer carries a poison flag: the first allocation failure is
// latched into the buffer's error, all further Append* calls become
// no-ops, and the caller checks the error once at the end instead of
// after every append (§4.2).
package postbuf

import (
	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/varint"
)

// Buffer is a growable, poison-on-OOM byte accumulator.
type Buffer struct {
	buf []byte
	err error
}

// New returns an empty buffer with the given initial capacity hint.
func New(capHint int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capHint)}
}

// Bytes returns the accumulated bytes. The slice is invalidated by the
// next Append* call.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.buf) }

// Err returns the first error encountered, or nil.
func (b *Buffer) Err() error { return b.err }

// Reset discards all content and clears the poison flag.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.err = nil
}

// Clone returns an independent copy of b, for callers that need to
// snapshot a buffer's contents before further appends (e.g. a
// savepoint snapshot of a pending-hash entry).
func (b *Buffer) Clone() *Buffer {
	return &Buffer{buf: append([]byte(nil), b.buf...), err: b.err}
}

func (b *Buffer) grow(n int) bool {
	if b.err != nil {
		return false
	}
	if cap(b.buf)-len(b.buf) >= n {
		return true
	}
	newCap := cap(b.buf) * 2
	if newCap < len(b.buf)+n {
		newCap = len(b.buf) + n
	}
	if newCap < 16 {
		newCap = 16
	}
	defer func() {
		if r := recover(); r != nil {
			b.err = base.ErrOutOfMemory
		}
	}()
	nb := make([]byte, len(b.buf), newCap)
	copy(nb, b.buf)
	b.buf = nb
	return true
}

// AppendBytes appends src verbatim.
func (b *Buffer) AppendBytes(src []byte) {
	if !b.grow(len(src)) {
		return
	}
	b.buf = append(b.buf, src...)
}

// AppendVarint appends v as a scalar varint.
func (b *Buffer) AppendVarint(v uint64) {
	if !b.grow(varint.MaxLen) {
		return
	}
	b.buf = varint.Encode(b.buf, v)
}

// AppendU32BE appends v as a 4-byte big-endian integer (used for page
// offsets and checksums, not to be confused with the varint big-varint
// of the penhash/poslist layers).
func (b *Buffer) AppendU32BE(v uint32) {
	if !b.grow(4) {
		return
	}
	b.buf = append(b.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// AppendZero appends n zero bytes, returning the offset at which they
// start so the caller can back-patch them later (used to reserve the
// 4-byte big-varint size slots of §4.1/§4.4).
func (b *Buffer) AppendZero(n int) int {
	off := len(b.buf)
	if !b.grow(n) {
		return off
	}
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
	return off
}

// PatchAt overwrites b.buf[off:off+len(data)] in place. The caller is
// responsible for ensuring the region was reserved by AppendZero and
// has not been invalidated by a reallocating Append since.
func (b *Buffer) PatchAt(off int, data []byte) {
	if b.err != nil {
		return
	}
	copy(b.buf[off:off+len(data)], data)
}
