// Package penhash implements the in-memory term->doclist accumulator
// ("pending hash") that buffers writes before they are flushed into an
// on-disk segment (§4.4).
//
// Grounded on ext/fts5/fts5_hash.c's Fts5Hash/Fts5HashEntry: each
// entry owns a single allocation holding {term, NUL, doclist bytes so
// far}, plus the last rowid/column/offset written and the byte offset
// of a reserved 4-byte slot that is back-patched with the previous
// poslist's size on the next rowid transition or at flush.
package penhash

import (
	"bytes"

	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/poslist"
	"github.com/fts5go/fts5go/internal/postbuf"
	"github.com/fts5go/fts5go/internal/varint"
)

// minSlack is the spare capacity a new entry's buffer starts with: 22
// bytes, the budget §4.4 step 2 gives a position increment on a new
// rowid (a rowid-delta varint of up to 9 bytes, the reserved 4-byte
// size slot, a 1-byte column marker, a column varint of up to 3 bytes
// and an offset varint of up to 5 bytes). The buffer grows on demand
// beyond it.
const minSlack = 22

// entry is one bucket-chain node in the pending hash.
type entry struct {
	next byte_chain
	term []byte

	buf *postbuf.Buffer // doclist bytes: (rowid_delta, size4, poslist)*
	pw  poslist.Writer

	lastRowid  int64
	haveRowid  bool
	szSlotOff  int // offset of the reserved 4-byte slot for the in-progress poslist
	rowidCount int64
}

type byte_chain = *entry

// Hash is an open-addressed hash table of singly-linked chains keyed
// by term bytes, doubling capacity when the load factor reaches 0.5.
type Hash struct {
	slots  []byte_chain
	nEntry int
	nBytes int64
}

// New returns an empty pending hash with a small initial table size.
func New() *Hash {
	return &Hash{slots: make([]byte_chain, 32)}
}

// NumEntries returns the number of distinct terms currently buffered.
func (h *Hash) NumEntries() int { return h.nEntry }

// ByteSize returns the total number of bytes buffered across all
// entries (term bytes plus doclist bytes).
func (h *Hash) ByteSize() int64 { return h.nBytes }

// Clone returns a deep copy of h, independent of further writes to
// either copy (§4.6 savepoint snapshot).
func (h *Hash) Clone() *Hash {
	c := &Hash{slots: make([]byte_chain, len(h.slots)), nEntry: h.nEntry, nBytes: h.nBytes}
	for i, e := range h.slots {
		c.slots[i] = cloneChain(e)
	}
	return c
}

func cloneChain(e *entry) *entry {
	if e == nil {
		return nil
	}
	return &entry{
		next:       cloneChain(e.next),
		term:       append([]byte(nil), e.term...),
		buf:        e.buf.Clone(),
		pw:         e.pw,
		lastRowid:  e.lastRowid,
		haveRowid:  e.haveRowid,
		szSlotOff:  e.szSlotOff,
		rowidCount: e.rowidCount,
	}
}

// Restore replaces h's contents with an independent copy of snapshot
// (§4.6 savepoint rollback), leaving snapshot itself untouched so the
// same savepoint mark can be rolled back to more than once.
func (h *Hash) Restore(snapshot *Hash) {
	clone := snapshot.Clone()
	h.slots = clone.slots
	h.nEntry = clone.nEntry
	h.nBytes = clone.nBytes
}

func hashBytes(term []byte) uint64 {
	// FNV-1a, matching the kind of simple string hash fts5_hash.c uses
	// (it hashes using a polynomial accumulator over the term bytes).
	var h uint64 = 1469598103934665603
	for _, b := range term {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

func (h *Hash) bucket(term []byte) int {
	return int(hashBytes(term) % uint64(len(h.slots)))
}

func (h *Hash) maybeGrow() {
	if h.nEntry < len(h.slots)/2 {
		return
	}
	newSlots := make([]byte_chain, len(h.slots)*2)
	for _, head := range h.slots {
		for e := head; e != nil; {
			next := e.next
			idx := int(hashBytes(e.term) % uint64(len(newSlots)))
			e.next = newSlots[idx]
			newSlots[idx] = e
			e = next
		}
	}
	h.slots = newSlots
}

func (h *Hash) find(term []byte) *entry {
	for e := h.slots[h.bucket(term)]; e != nil; e = e.next {
		if bytes.Equal(e.term, term) {
			return e
		}
	}
	return nil
}

// closePoslist back-patches the reserved 4-byte size slot for the
// poslist that was just finished (step 3 of the write path, and the
// final step of Drain/flush).
func (e *entry) closePoslist() {
	if e.szSlotOff < 0 {
		return
	}
	size := e.buf.Len() - (e.szSlotOff + 4)
	var tmp [4]byte
	varint.Put4(tmp[:], uint32(size))
	e.buf.PatchAt(e.szSlotOff, tmp[:])
}

func newEntry(term []byte, rowid int64) *entry {
	e := &entry{
		term:      append([]byte(nil), term...),
		buf:       postbuf.New(len(term) + 1 + minSlack),
		szSlotOff: -1,
	}
	e.buf.AppendVarint(uint64(rowid))
	e.szSlotOff = e.buf.AppendZero(4)
	e.lastRowid = rowid
	e.haveRowid = true
	e.rowidCount = 1
	return e
}

// Write appends one (term, rowid, col, pos) tuple to the pending hash.
// col == base.DeleteCol records a logical delete sentinel: an empty
// poslist for that rowid, interpreted by the merge/read path as "drop
// the previous entry for this term+rowid". Write rejects empty terms
// with base.ErrMisuse (§8 "empty term rejected").
func (h *Hash) Write(term []byte, rowid int64, col, pos int) error {
	if len(term) == 0 {
		return base.Misusef("penhash: empty term")
	}

	e := h.find(term)
	beforeLen := 0
	if e != nil {
		beforeLen = e.buf.Len()
	}

	if e == nil {
		e = newEntry(term, rowid)
		idx := h.bucket(term)
		e.next = h.slots[idx]
		h.slots[idx] = e
		h.nEntry++
		h.maybeGrow()
		h.nBytes += int64(len(term))
	} else if rowid != e.lastRowid {
		e.closePoslist()
		e.buf.AppendVarint(uint64(rowid - e.lastRowid))
		e.szSlotOff = e.buf.AppendZero(4)
		e.pw.Reset()
		e.lastRowid = rowid
		e.rowidCount++
	} else if col < 0 && e.buf.Len() > e.szSlotOff+4 {
		// A delete for the rowid still in progress discards the positions
		// already buffered for it, leaving an empty (tombstone) poslist.
		kept := postbuf.New(e.buf.Len())
		kept.AppendBytes(e.buf.Bytes()[:e.szSlotOff+4])
		e.buf = kept
		e.pw.Reset()
	}

	if col >= 0 {
		if err := e.pw.Append(e.buf, col, pos); err != nil {
			return err
		}
	}

	if e.buf.Err() != nil {
		return base.ErrOutOfMemory
	}
	h.nBytes += int64(e.buf.Len() - beforeLen)
	return nil
}

// drainEntries finishes every in-progress poslist and returns every
// entry as a flat slice, leaving the hash table structure untouched
// (the caller decides whether to Reset()).
func (h *Hash) drainEntries() []*entry {
	out := make([]*entry, 0, h.nEntry)
	for _, head := range h.slots {
		for e := head; e != nil; e = e.next {
			e.closePoslist()
			out = append(out, e)
		}
	}
	return out
}

// mergeSort performs the bottom-up merge sort over bucket-chain
// entries using at most 32 "buddy" slots, the lazy-accumulator pattern
// named in §4.4/§9: append each entry into the lowest empty slot,
// merging pairs of equally-sized runs as carries propagate, exactly
// like incrementing a binary counter. This needs only O(log n)
// auxiliary slots instead of a size-proportional scratch array.
func mergeSort(entries []*entry) []*entry {
	const maxSlots = 32
	var slots [maxSlots][]*entry
	for _, e := range entries {
		run := []*entry{e}
		i := 0
		for ; i < maxSlots && slots[i] != nil; i++ {
			run = mergeRuns(slots[i], run)
			slots[i] = nil
		}
		if i == maxSlots {
			i = maxSlots - 1
		}
		slots[i] = run
	}
	var result []*entry
	for i := 0; i < maxSlots; i++ {
		if slots[i] != nil {
			result = mergeRuns(result, slots[i])
		}
	}
	return result
}

func mergeRuns(a, b []*entry) []*entry {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := make([]*entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if bytes.Compare(a[i].term, b[j].term) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Drain sorts every buffered entry lexicographically by term and
// returns the (term, doclist) pairs in order. Each doclist is in the
// pending-hash ("wide") layout: a sequence of (rowid_delta_varint,
// 4-byte big-varint poslist size, poslist_bytes), decoded by
// doclist.DecodeWide; Store.Flush re-encodes it into the compact
// on-disk layout. The hash is left empty
// afterwards; Drain is the flush path (§4.4 step "consumer is
// responsible for freeing entries as they are yielded" — in Go this
// is simply letting the slice become garbage after iteration).
func (h *Hash) Drain() func(yield func(term []byte, doclist []byte) bool) {
	sorted := mergeSort(h.drainEntries())
	h.Reset()
	return func(yield func(term, doclist []byte) bool) {
		for _, e := range sorted {
			if !yield(e.term, e.buf.Bytes()) {
				return
			}
		}
	}
}

// Scan behaves like Drain but yields only entries whose term starts
// with prefix, and leaves the hash table intact.
func (h *Hash) Scan(prefix []byte) func(yield func(term []byte, doclist []byte) bool) {
	all := h.drainEntries()
	filtered := all[:0:0]
	for _, e := range all {
		if bytes.HasPrefix(e.term, prefix) {
			filtered = append(filtered, e)
		}
	}
	sorted := mergeSort(filtered)
	return func(yield func(term, doclist []byte) bool) {
		for _, e := range sorted {
			if !yield(e.term, e.buf.Bytes()) {
				return
			}
		}
	}
}

// Reset discards all buffered entries without flushing them. The
// façade calls it for a transaction rollback (fts5.Index.Rollback);
// savepoint rollback instead restores a Clone taken when the savepoint
// opened (see Restore and fts5.Index.RollbackTo).
func (h *Hash) Reset() {
	h.slots = make([]byte_chain, 32)
	h.nEntry = 0
	h.nBytes = 0
}
