package fts5

import (
	"bytes"
	"sort"

	"github.com/fts5go/fts5go/internal/doclist"
	"github.com/fts5go/fts5go/internal/penhash"
	"github.com/fts5go/fts5go/internal/poslist"
	"github.com/fts5go/fts5go/internal/postbuf"
	"github.com/fts5go/fts5go/internal/segment"
)

func newScratchBuffer() *postbuf.Buffer { return postbuf.New(32) }

// indexSource adapts an Index's live pending hash and on-disk segments
// into the expr package's PostingSource interface (§3 invariant 3:
// "the concatenation of the pending hash and all segments represents
// the logical index"), honoring the "higher segment-id wins" and
// "pending hash is always newest" precedence rules from §4.5.
type indexSource struct {
	hash      *penhash.Hash
	structure segment.Structure
	pages     segment.PageStore
	onRead    func(n int64)
}

func newIndexSource(idx *Index) *indexSource {
	return &indexSource{
		hash:      idx.hash,
		structure: idx.store.Snapshot(),
		pages:     idx.storePages(),
		onRead:    idx.addReads,
	}
}

type rankedEntry struct {
	rank  int64 // higher wins; the pending hash uses hashRank
	entry doclist.Entry
}

const hashRank = int64(1) << 62

func (s *indexSource) Term(term []byte, col int) func(yield func(rowid int64, poslist []byte) bool) {
	return func(yield func(int64, []byte) bool) {
		best := map[int64]rankedEntry{}

		for t, raw := range s.hash.Scan(term) {
			if !bytes.Equal(t, term) {
				continue
			}
			entries, err := doclist.DecodeWide(raw)
			if err != nil {
				return
			}
			for _, e := range entries {
				best[e.Rowid] = rankedEntry{rank: hashRank, entry: e}
			}
		}

		for _, lvl := range s.structure.Levels {
			for _, info := range lvl.Segments {
				r := segment.NewReader(s.pages, info)
				raw, ok, err := r.Lookup(term)
				if s.onRead != nil {
					s.onRead(1)
				}
				if err != nil || !ok {
					continue
				}
				entries, err := doclist.DecodeCompact(raw)
				if err != nil {
					continue
				}
				rank := int64(info.ID)
				for _, e := range entries {
					cur, exists := best[e.Rowid]
					if !exists || rank > cur.rank {
						best[e.Rowid] = rankedEntry{rank: rank, entry: e}
					}
				}
			}
		}

		rowids := make([]int64, 0, len(best))
		for r, re := range best {
			if re.entry.Tombstone() {
				continue
			}
			rowids = append(rowids, r)
		}
		sort.Slice(rowids, func(i, j int) bool { return rowids[i] < rowids[j] })

		for _, r := range rowids {
			pl := best[r].entry.Poslist
			if col >= 0 {
				pl = filterColumn(pl, col)
				if pl == nil {
					continue
				}
			}
			if !yield(r, pl) {
				return
			}
		}
	}
}

// filterColumn rebuilds a poslist containing only the positions in
// col, or returns nil if col does not occur at all.
func filterColumn(pl []byte, col int) []byte {
	var w poslist.Writer
	buf := newScratchBuffer()
	found := false
	for c, off := range poslist.Positions(pl) {
		if c != col {
			continue
		}
		found = true
		if err := w.Append(buf, col, off); err != nil {
			return nil
		}
	}
	if !found {
		return nil
	}
	return buf.Bytes()
}
