package segment

import (
	"bytes"
	"sort"

	"github.com/fts5go/fts5go/internal/base"
)

// Reader provides read-only access to one immutable segment: term
// lookups and full-segment iteration.
type Reader struct {
	store PageStore
	info  SegmentInfo
}

// NewReader opens a reader over the segment described by info.
func NewReader(store PageStore, info SegmentInfo) *Reader {
	return &Reader{store: store, info: info}
}

// Info returns the segment's structure-record descriptor.
func (r *Reader) Info() SegmentInfo { return r.info }

func (r *Reader) readPage(id uint32) (pageType, byte, uint32, []byte, error) {
	raw, err := r.store.ReadPage(id)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	body, err := verifyPage(raw)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	if len(body) < pageHeaderLen {
		return 0, 0, 0, nil, base.Corruptf("segment: page %d header truncated", id)
	}
	t := pageType(body[0])
	flags := body[1]
	link := uint32(body[2])<<24 | uint32(body[3])<<16 | uint32(body[4])<<8 | uint32(body[5])
	return t, flags, link, body[pageHeaderLen:], nil
}

// descendToLeaf walks from the root page down to the leaf that would
// contain key, via binary search over each interior page's separators.
func (r *Reader) descendToLeaf(key []byte) (uint32, error) {
	page := r.info.RootPage
	for {
		t, _, rightmost, payload, err := r.readPage(page)
		if err != nil {
			return 0, err
		}
		if t == pageTypeLeaf {
			return page, nil
		}
		if t != pageTypeInterior {
			return 0, base.Corruptf("segment: unexpected page type %d while descending", t)
		}
		entries, err := decodeInteriorPayload(payload)
		if err != nil {
			return 0, err
		}
		// entries[i] = {separator: firstKey(child i+1), child: child i}.
		// Find the first separator > key; its paired child holds key (or
		// the rightmost child, if key >= every separator).
		idx := sort.Search(len(entries), func(i int) bool {
			return bytes.Compare(entries[i].separator, key) > 0
		})
		if idx == len(entries) {
			page = rightmost
		} else {
			page = entries[idx].child
		}
	}
}

// reassembleDoclist follows a leaf entry's continuation chain (if any)
// to recover the complete doclist bytes.
func (r *Reader) reassembleDoclist(e decodedLeafEntry, leafFlags byte, leafLink uint32) ([]byte, error) {
	if len(e.chunk) >= e.doclistTotalLen {
		return e.chunk, nil
	}
	out := make([]byte, 0, e.doclistTotalLen)
	out = append(out, e.chunk...)
	if leafFlags&flagHasNextPage == 0 {
		return nil, base.Corruptf("segment: truncated doclist with no continuation page")
	}
	page := leafLink
	for len(out) < e.doclistTotalLen {
		t, flags, link, payload, err := r.readPage(page)
		if err != nil {
			return nil, err
		}
		if t != pageTypeContinuation {
			return nil, base.Corruptf("segment: expected continuation page, got type %d", t)
		}
		out = append(out, payload...)
		if len(out) >= e.doclistTotalLen {
			break
		}
		if flags&flagHasNextPage == 0 {
			return nil, base.Corruptf("segment: continuation chain ended early")
		}
		page = link
	}
	if len(out) > e.doclistTotalLen {
		out = out[:e.doclistTotalLen]
	}
	return out, nil
}

// Lookup returns the full doclist for term, or (nil, false) if the
// term is not present in this segment.
func (r *Reader) Lookup(term []byte) ([]byte, bool, error) {
	leafID, err := r.descendToLeaf(term)
	if err != nil {
		return nil, false, err
	}
	_, flags, link, payload, err := r.readPage(leafID)
	if err != nil {
		return nil, false, err
	}
	entries, _, err := decodeLeafPayload(payload, nil)
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if bytes.Equal(e.term, term) {
			dl, err := r.reassembleDoclist(e, flags, link)
			return dl, true, err
		}
	}
	return nil, false, nil
}

// TermIterator walks every (term, doclist) pair of a segment in
// ascending order, descending leaf-to-leaf (§4.5 "Both iterators are
// forward-only; repositioning is via a fresh lookup").
type TermIterator struct {
	r           *Reader
	page        uint32
	entries     []decodedLeafEntry
	flags       byte
	link        uint32
	idx         int
	prevKeyLeaf []byte
	err         error
	done        bool
}

// TermIter returns an iterator positioned at or after start. A nil
// start begins at the first term in the segment.
func (r *Reader) TermIter(start []byte) *TermIterator {
	it := &TermIterator{r: r}
	leafID := r.info.FirstPage
	if len(start) > 0 {
		id, err := r.descendToLeaf(start)
		if err != nil {
			it.err = err
			it.done = true
			return it
		}
		leafID = id
	}
	it.loadLeaf(leafID)
	if it.err == nil && len(start) > 0 {
		for !it.done && bytes.Compare(it.entries[it.idx].term, start) < 0 {
			if !it.advanceWithinLoaded() {
				break
			}
		}
	}
	return it
}

func (it *TermIterator) loadLeaf(id uint32) {
	if id == 0 {
		it.done = true
		return
	}
	t, flags, link, payload, err := it.r.readPage(id)
	if err != nil {
		it.err = err
		it.done = true
		return
	}
	if t != pageTypeLeaf {
		it.err = base.Corruptf("segment: expected leaf page, got type %d", t)
		it.done = true
		return
	}
	entries, _, err := decodeLeafPayload(payload, nil)
	if err != nil {
		it.err = err
		it.done = true
		return
	}
	it.page = id
	it.entries = entries
	it.flags = flags
	it.link = link
	it.idx = 0
	if len(entries) == 0 {
		it.done = true
	}
}

// advanceWithinLoaded moves to the next already-decoded entry in the
// current leaf and reports false once the leaf is exhausted; it does
// not load another page. Next then moves on to the following leaf:
// since pages are allocated sequentially by Writer, it advances by
// page id + 1 and skips any page that is not a leaf (continuation
// pages interleaved by id).
func (it *TermIterator) advanceWithinLoaded() bool {
	it.idx++
	if it.idx < len(it.entries) {
		return true
	}
	return false
}

// Next advances the iterator. It returns false once the segment is
// exhausted or an error occurred (see Err).
func (it *TermIterator) Next() bool {
	if it.done {
		return false
	}
	if it.advanceWithinLoaded() {
		return true
	}
	// Exhausted this leaf; scan forward by page id for the next leaf
	// page, since Writer allocates leaves (and any continuation/
	// interior pages) monotonically but never needs random access here.
	next := it.page + 1
	for next <= it.r.info.LastPage {
		t, flags, link, payload, err := it.r.readPage(next)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if t == pageTypeLeaf {
			entries, _, err := decodeLeafPayload(payload, nil)
			if err != nil {
				it.err = err
				it.done = true
				return false
			}
			it.page = next
			it.entries = entries
			it.flags = flags
			it.link = link
			it.idx = 0
			if len(entries) > 0 {
				return true
			}
		}
		next++
	}
	it.done = true
	return false
}

// Term returns the current term. Valid after TermIter or a true Next.
func (it *TermIterator) Term() []byte {
	if it.done || it.idx >= len(it.entries) {
		return nil
	}
	return it.entries[it.idx].term
}

// Doclist returns the current term's full doclist bytes, reassembling
// any continuation-page spill.
func (it *TermIterator) Doclist() ([]byte, error) {
	if it.done || it.idx >= len(it.entries) {
		return nil, base.Misusef("segment: Doclist called past EOF")
	}
	e := it.entries[it.idx]
	lastInLeaf := it.idx == len(it.entries)-1
	flags, link := byte(0), uint32(0)
	if lastInLeaf {
		flags, link = it.flags, it.link
	}
	return it.r.reassembleDoclist(e, flags, link)
}

// Err returns the first error encountered during iteration.
func (it *TermIterator) Err() error { return it.err }

// Done reports whether iteration is exhausted.
func (it *TermIterator) Done() bool { return it.done }
