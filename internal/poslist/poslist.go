// Package poslist builds and iterates position-lists: the packed
// sequence of (column, offset) token positions recorded for one term
// within one document (§3, §4.3).
//
// Grammar: a poslist is a sequence of varints over the alphabet
// {0x01, column_varint, offset_delta_varints...}. A lone 0x01
// introduces a new column; any other varint continues the current
// column, advancing its offset by (v - 2). Column indices strictly
// increase along a poslist; offset deltas within one column are
// strictly positive.
package poslist

import (
	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/postbuf"
	"github.com/fts5go/fts5go/internal/varint"
)

// colMarker introduces a column change in the poslist stream.
const colMarker = 0x01

// offsetBias is added to an offset delta so that 0 and 1 remain
// reserved for the column-change marker and its operand.
const offsetBias = 2

// Writer tracks the (column, offset) cursor needed to delta-encode
// successive token positions for a single rowid.
type Writer struct {
	LastCol int
	LastOff int
	haveTok bool
}

// Reset returns the writer to its new-rowid state.
func (w *Writer) Reset() {
	w.LastCol = 0
	w.LastOff = 0
	w.haveTok = false
}

// Append records a token at (col, off), emitting a column-change
// marker when col advances. col must be >= w.LastCol, and if col ==
// w.LastCol and a token has already been written in that column, off
// must be > w.LastOff — the first token of a column may sit at off 0,
// matching fts5PoslistWriterAppend's "delta 2 for iPos==iPrev==0"
// first-token case. Violating either is a caller bug and reported as
// base.ErrMisuse rather than silently corrupting the stream.
func (w *Writer) Append(buf *postbuf.Buffer, col, off int) error {
	if col < w.LastCol {
		return base.Misusef("poslist: column %d precedes last column %d", col, w.LastCol)
	}
	if col > w.LastCol {
		buf.AppendVarint(colMarker)
		buf.AppendVarint(uint64(col))
		w.LastCol = col
		w.LastOff = 0
		w.haveTok = false
	} else if w.haveTok && off <= w.LastOff {
		return base.Misusef("poslist: offset %d does not advance past %d in column %d", off, w.LastOff, col)
	}
	buf.AppendVarint(uint64(off - w.LastOff + offsetBias))
	w.LastOff = off
	w.haveTok = true
	return nil
}

// Reader iterates the decoded (column, offset) pairs of a poslist
// byte slice.
type Reader struct {
	buf     []byte
	pos     int
	col     int
	off     int
	hasCur  bool
	atEOF   bool
	lastErr error
}

// NewReader returns a reader positioned before the first entry of buf.
func NewReader(buf []byte) *Reader {
	r := &Reader{buf: buf}
	r.atEOF = len(buf) == 0
	return r
}

// Err returns the first decode error encountered, if any.
func (r *Reader) Err() error { return r.lastErr }

// AtEOF reports whether iteration has consumed the whole buffer.
func (r *Reader) AtEOF() bool { return r.atEOF }

// Peek returns the current (column, offset) pair without advancing.
// It is only valid once Advance has returned true at least once (or
// immediately before any Advance call, it simply reports the
// zero-value pair).
func (r *Reader) Peek() (col, off int) { return r.col, r.off }

// Advance decodes the next entry, updating the current (column,
// offset) pair. It returns false once the buffer is exhausted or a
// decode error occurs (see Err).
func (r *Reader) Advance() bool {
	if r.atEOF {
		return false
	}
	for r.pos < len(r.buf) {
		v, n, err := varint.Decode(r.buf[r.pos:])
		if err != nil {
			r.lastErr = err
			r.atEOF = true
			return false
		}
		r.pos += n
		if v == colMarker {
			cv, n2, err := varint.Decode(r.buf[r.pos:])
			if err != nil {
				r.lastErr = err
				r.atEOF = true
				return false
			}
			r.pos += n2
			r.col = int(cv)
			r.off = 0
			continue
		}
		r.off += int(v) - offsetBias
		r.hasCur = true
		if r.pos >= len(r.buf) {
			// more entries may still follow in a later call; EOF is
			// only declared once Advance finds nothing left to decode.
		}
		return true
	}
	r.atEOF = true
	return false
}

// Positions ranges over every decoded (column, offset) pair in order.
// This is a convenience wrapper around Peek/Advance for callers (rank
// functions, NEAR validation) that want idiomatic iteration.
func Positions(buf []byte) func(yield func(col, off int) bool) {
	return func(yield func(col, off int) bool) {
		r := NewReader(buf)
		for r.Advance() {
			c, o := r.Peek()
			if !yield(c, o) {
				return
			}
		}
	}
}
