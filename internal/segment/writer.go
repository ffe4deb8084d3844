package segment

import (
	"bytes"

	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/postbuf"
)

// DefaultPageSize matches the page-size tunable's default in the
// original implementation's config table (pgsz), expressed here in
// bytes rather than the approximate "KB of source text" unit the
// original uses.
const DefaultPageSize = 4096

// Writer builds one immutable segment from a sorted (term, doclist)
// stream — the consumer of penhash.Hash.Drain or of a k-way merge
// (§4.5). Segments must be fed keys in strictly increasing order
// (invariant 1, §3); Writer checks this and latches the first
// violation into Close's error return.
type Writer struct {
	store    PageStore
	pageSize int

	prevKey     []byte
	havePrevKey bool

	curPayload  *postbuf.Buffer
	curFirstKey []byte // first key of the leaf page under construction, nil if none yet
	curLastKey  []byte // most recently added key in the current leaf, for prefix compression

	firstPage    uint32
	lastPage     uint32
	leafBoundary []interiorEntry // (first key of leaf, leaf page id)
	postingCount int64
	err          error
}

// NewWriter starts building a new segment against store, using pages
// of pageSize bytes (DefaultPageSize if pageSize <= 0).
func NewWriter(store PageStore, pageSize int) *Writer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Writer{store: store, pageSize: pageSize, curPayload: postbuf.New(pageSize)}
}

func (w *Writer) maxLeafPayload() int { return w.pageSize - pageHeaderLen - pageTrailerLen }

// Empty reports whether Add has never been called, letting a caller
// skip Close entirely when a merge produced no surviving postings
// (every contributing entry was a dropped tombstone).
func (w *Writer) Empty() bool { return len(w.leafBoundary) == 0 && w.curFirstKey == nil }

// Add appends the next (term, doclist) pair. term must be strictly
// greater than the previously added term.
func (w *Writer) Add(term, doclist []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.havePrevKey && bytes.Compare(term, w.prevKey) <= 0 {
		w.err = base.Corruptf("segment: terms out of order: %q then %q", w.prevKey, term)
		return w.err
	}

	// Prefix compression resets at the start of every leaf page so that
	// each page remains independently decodable (a "restart point" on
	// entry 0, matching the teacher's block-restart scheme).
	sharedLen := commonPrefixLen(w.curLastKey, term)
	suffix := term[sharedLen:]
	headerBudgetFull := varintLen(sharedLen) + varintLen(len(suffix)) + len(suffix) + 2*varintLen(len(doclist))

	remaining := w.maxLeafPayload() - w.curPayload.Len()
	if w.curPayload.Len() > 0 && headerBudgetFull > remaining {
		if err := w.flushLeaf(0, false); err != nil {
			return err
		}
		remaining = w.maxLeafPayload()
		sharedLen = 0
		suffix = term
		headerBudgetFull = varintLen(sharedLen) + varintLen(len(suffix)) + len(suffix) + 2*varintLen(len(doclist))
	}

	fit := remaining - headerBudgetFull
	if fit < 0 {
		fit = 0
	}
	chunk := doclist
	spill := fit < len(doclist)
	if spill {
		chunk = doclist[:fit]
	}

	if w.curFirstKey == nil {
		w.curFirstKey = append([]byte(nil), term...)
	}
	encodeLeafEntry(w.curPayload, leafEntry{
		sharedPrefixLen: sharedLen,
		suffix:          suffix,
		doclistTotalLen: len(doclist),
		chunk:           chunk,
	})
	w.curLastKey = append([]byte(nil), term...)
	w.prevKey = append([]byte(nil), term...)
	w.havePrevKey = true
	w.postingCount++

	if spill {
		contID, err := w.writeContinuationChain(doclist[fit:])
		if err != nil {
			return err
		}
		if err := w.flushLeaf(contID, true); err != nil {
			return err
		}
	}
	if w.curPayload.Err() != nil {
		w.err = base.ErrOutOfMemory
		return w.err
	}
	return nil
}

// flushLeaf seals the in-progress leaf page (if any) and writes it to
// the page store. link/hasNext describe the continuation chain a
// spilled final entry wrote before this call.
func (w *Writer) flushLeaf(link uint32, hasNext bool) error {
	if w.curFirstKey == nil {
		return nil
	}
	flags := byte(0)
	if hasNext {
		flags = flagHasNextPage
	}
	page := pageHeader(pageTypeLeaf, flags, link)
	page = append(page, w.curPayload.Bytes()...)
	page = sealPage(page)

	id, err := w.store.AllocatePage()
	if err != nil {
		w.err = err
		return err
	}
	if err := w.store.WritePage(id, page); err != nil {
		w.err = err
		return err
	}
	if w.firstPage == 0 {
		w.firstPage = id
	}
	w.lastPage = id
	w.leafBoundary = append(w.leafBoundary, interiorEntry{separator: w.curFirstKey, child: id})

	w.curPayload.Reset()
	w.curFirstKey = nil
	w.curLastKey = nil
	return nil
}

// writeContinuationChain splits rest into page-sized chunks and writes
// them as a forward-linked chain of continuation pages, returning the
// id of the first chunk (§4.5 "Doclists larger than a page spill
// across adjacent continuation leaves").
func (w *Writer) writeContinuationChain(rest []byte) (uint32, error) {
	payloadCap := w.maxLeafPayload()
	if payloadCap <= 0 {
		payloadCap = 1
	}
	var chunks [][]byte
	for len(rest) > 0 {
		n := payloadCap
		if n > len(rest) {
			n = len(rest)
		}
		chunks = append(chunks, rest[:n])
		rest = rest[n:]
	}
	var nextID uint32
	for i := len(chunks) - 1; i >= 0; i-- {
		id, err := w.store.AllocatePage()
		if err != nil {
			return 0, err
		}
		flags := byte(0)
		link := uint32(0)
		if nextID != 0 {
			flags = flagHasNextPage
			link = nextID
		}
		page := pageHeader(pageTypeContinuation, flags, link)
		page = append(page, chunks[i]...)
		page = sealPage(page)
		if err := w.store.WritePage(id, page); err != nil {
			return 0, err
		}
		nextID = id
	}
	return nextID, nil
}

// buildInteriorLevel groups a level of (separator, child) pairs into
// interior pages, packing children into a page until the next entry
// would overflow it, and returns the level above (§4.5 "Interior
// pages store (term_separator, child_page) pairs... additionally
// carry a right-most child pointer").
func (w *Writer) buildInteriorLevel(children []interiorEntry) ([]interiorEntry, error) {
	budget := w.maxLeafPayload()
	var result []interiorEntry
	i := 0
	for i < len(children) {
		groupStart := i
		i++ // children[groupStart] is always part of the group, as the
		// left child of the first entry or as the sole rightmost child.
		var entries []interiorEntry
		size := 0
		for i < len(children) {
			sep := children[i].separator
			entrySize := varintLen(len(sep)) + len(sep) + 4
			if size+entrySize > budget && len(entries) > 0 {
				break
			}
			entries = append(entries, interiorEntry{separator: sep, child: children[i-1].child})
			size += entrySize
			i++
		}
		rightmost := children[i-1].child
		firstSep := children[groupStart].separator

		payload := encodeInteriorPayload(entries)
		page := pageHeader(pageTypeInterior, 0, rightmost)
		page = append(page, payload...)
		page = sealPage(page)

		id, err := w.store.AllocatePage()
		if err != nil {
			return nil, err
		}
		if err := w.store.WritePage(id, page); err != nil {
			return nil, err
		}
		result = append(result, interiorEntry{separator: firstSep, child: id})
	}
	return result, nil
}

// Close finishes the segment, builds the interior index levels atop
// the written leaves, and returns the segment's structure-record
// entry for segID.
func (w *Writer) Close(segID uint64) (SegmentInfo, error) {
	if w.err != nil {
		return SegmentInfo{}, w.err
	}
	if err := w.flushLeaf(0, false); err != nil {
		return SegmentInfo{}, err
	}
	if len(w.leafBoundary) == 0 {
		return SegmentInfo{}, base.Misusef("segment: writer produced no leaves")
	}

	level := w.leafBoundary
	for len(level) > 1 {
		next, err := w.buildInteriorLevel(level)
		if err != nil {
			return SegmentInfo{}, err
		}
		level = next
	}

	return SegmentInfo{
		ID:        segID,
		FirstPage: w.firstPage,
		LastPage:  w.lastPage,
		RootPage:  level[0].child,
		DocCount:  w.postingCount,
	}, nil
}

func varintLen(n int) int {
	if n < 0 {
		n = 0
	}
	v := uint64(n)
	l := 1
	for v >= 0x80 {
		v >>= 7
		l++
	}
	return l
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
