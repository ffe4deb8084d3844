// Merge policy and store orchestration (§4.5 "Levels and merges"): a
// level holds at most K segments; flushing mints a new level-0
// segment, and whenever a level reaches K segments its contents merge
// into one segment at level+1, cascading as needed.
package segment

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/fts5go/fts5go/internal/doclist"
	"github.com/fts5go/fts5go/internal/penhash"
)

// Config carries the tunables that affect segment layout and merge
// cadence (the %_config-backed tunables of §6: pgsz, automerge).
type Config struct {
	PageSize            int
	MaxSegmentsPerLevel int // K; default 4, per §3 "Segment".
}

func (c Config) pageSize() int {
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

func (c Config) maxPerLevel() int {
	if c.MaxSegmentsPerLevel <= 0 {
		return 4
	}
	return c.MaxSegmentsPerLevel
}

// Store ties the page store, the merge policy and the persisted
// structure record together, implementing flush/merge/optimize (§4.5)
// on top of Writer/Reader.
type Store struct {
	pages      PageStore
	structPath string
	structure  Structure
	cfg        Config
}

// Open loads (or creates) the structure record at structPath.
func Open(pages PageStore, structPath string, cfg Config) (*Store, error) {
	st, err := LoadStructure(structPath)
	if err != nil {
		return nil, err
	}
	return &Store{pages: pages, structPath: structPath, structure: st, cfg: cfg}, nil
}

// Snapshot returns an immutable copy of the current structure record,
// for a cursor to pin at xFilter time (§3 "Lifecycles").
func (s *Store) Snapshot() Structure { return s.structure.Clone() }

// Restore replaces the live structure record with snapshot and
// persists it exactly as captured (unlike persist, this does not bump
// Version: the record is reverting to a version a cursor may already
// have cached, not advancing to a new one), undoing any segments
// minted since snapshot was taken (§4.6 savepoint rollback covering a
// flush or directive issued inside the savepoint). It does not reclaim
// the pages of the discarded segments; they are simply no longer
// reachable from the record.
func (s *Store) Restore(snapshot Structure) error {
	s.structure = snapshot.Clone()
	return SaveStructure(s.structPath, s.structure)
}

// Pages exposes the underlying page store so readers built outside
// the store (e.g. a query-time PostingSource) can open segment.Reader
// instances directly against a pinned Snapshot.
func (s *Store) Pages() PageStore { return s.pages }

// Structure exposes the store's live structure record (not a copy);
// callers that need a stable view across mutation should use Snapshot.
func (s *Store) Structure() Structure { return s.structure }

// SetTableTag updates the structure record's logical table name and
// persists it, used when a table is renamed (§6 "rename"; see
// vtab.Module.Rename).
func (s *Store) SetTableTag(tag string) error {
	s.structure.TableTag = tag
	return s.persist()
}

func (s *Store) persist() error {
	s.structure.Version++
	return SaveStructure(s.structPath, s.structure)
}

// Flush drains h into a new immutable level-0 segment and cascades
// merges per the level policy. A hash with no buffered entries is a
// no-op (§3 invariant 3: emptiness of the pending hash is equivalent
// to "no uncommitted writes").
func (s *Store) Flush(h *penhash.Hash) error {
	if h.NumEntries() == 0 {
		return nil
	}
	w := NewWriter(s.pages, s.cfg.pageSize())
	for term, raw := range h.Drain() {
		entries, err := doclist.DecodeWide(raw)
		if err != nil {
			return err
		}
		if err := w.Add(term, doclist.EncodeCompact(entries)); err != nil {
			return err
		}
	}
	if w.Empty() {
		return nil
	}
	segID := s.structure.NextSeg
	info, err := w.Close(segID)
	if err != nil {
		return err
	}
	s.structure.NextSeg++
	if len(s.structure.Levels) == 0 {
		s.structure.Levels = append(s.structure.Levels, Level{})
	}
	s.structure.Levels[0].Segments = append(s.structure.Levels[0].Segments, info)

	if err := s.cascadeMerges(0); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) cascadeMerges(level int) error {
	for level < len(s.structure.Levels) && len(s.structure.Levels[level].Segments) >= s.cfg.maxPerLevel() {
		if err := s.mergeLevel(level); err != nil {
			return err
		}
		level++
	}
	return nil
}

type winner struct {
	segID uint64
	entry doclist.Entry
}

// mergeTermEntries combines one term's contributions from multiple
// segments, keeping the entry from the highest segment-id on rowid
// collisions (§4.5 "the one with the higher segment-id wins") and
// dropping tombstones once they have passed the deepest level.
func mergeTermEntries(contribs []struct {
	segID   uint64
	entries []doclist.Entry
}, dropTombstones bool) []doclist.Entry {
	best := make(map[int64]winner)
	for _, c := range contribs {
		for _, e := range c.entries {
			cur, ok := best[e.Rowid]
			if !ok || c.segID > cur.segID {
				best[e.Rowid] = winner{segID: c.segID, entry: e}
			}
		}
	}
	rowids := make([]int64, 0, len(best))
	for r := range best {
		rowids = append(rowids, r)
	}
	sort.Slice(rowids, func(i, j int) bool { return rowids[i] < rowids[j] })

	out := make([]doclist.Entry, 0, len(rowids))
	for _, r := range rowids {
		w := best[r]
		if dropTombstones && w.entry.Tombstone() {
			continue
		}
		out = append(out, w.entry)
	}
	return out
}

// mergeSegments performs a k-way merge of segs (all at the same or
// mixed levels) into a single new segment, writing it with the next
// segment id. dropTombstones should be true only when no level below
// the merge target can still hold an older posting for a tombstoned
// rowid to cancel.
func (s *Store) mergeSegments(segs []SegmentInfo, dropTombstones bool) (SegmentInfo, bool, error) {
	readers := make([]*Reader, len(segs))
	iters := make([]*TermIterator, len(segs))
	for i, info := range segs {
		readers[i] = NewReader(s.pages, info)
		iters[i] = readers[i].TermIter(nil)
		if iters[i].Err() != nil {
			return SegmentInfo{}, false, iters[i].Err()
		}
	}

	w := NewWriter(s.pages, s.cfg.pageSize())
	for {
		var minTerm []byte
		any := false
		for _, it := range iters {
			if it.Done() {
				continue
			}
			t := it.Term()
			if !any || bytes.Compare(t, minTerm) < 0 {
				minTerm = t
				any = true
			}
		}
		if !any {
			break
		}

		var contribs []struct {
			segID   uint64
			entries []doclist.Entry
		}
		for i, it := range iters {
			if it.Done() || !bytes.Equal(it.Term(), minTerm) {
				continue
			}
			raw, err := it.Doclist()
			if err != nil {
				return SegmentInfo{}, false, err
			}
			entries, err := doclist.DecodeCompact(raw)
			if err != nil {
				return SegmentInfo{}, false, err
			}
			contribs = append(contribs, struct {
				segID   uint64
				entries []doclist.Entry
			}{segID: segs[i].ID, entries: entries})
			it.Next()
			if it.Err() != nil {
				return SegmentInfo{}, false, it.Err()
			}
		}

		merged := mergeTermEntries(contribs, dropTombstones)
		if len(merged) > 0 {
			if err := w.Add(append([]byte(nil), minTerm...), doclist.EncodeCompact(merged)); err != nil {
				return SegmentInfo{}, false, err
			}
		}
	}

	if w.Empty() {
		return SegmentInfo{}, false, nil
	}
	segID := s.structure.NextSeg
	s.structure.NextSeg++
	info, err := w.Close(segID)
	if err != nil {
		return SegmentInfo{}, false, err
	}
	return info, true, nil
}

// mergeLevel merges every segment currently at level into one new
// segment at level+1.
func (s *Store) mergeLevel(level int) error {
	segs := s.structure.Levels[level].Segments
	if len(segs) == 0 {
		return nil
	}
	targetLevel := level + 1

	aboveHasSegments := false
	for l := targetLevel; l < len(s.structure.Levels); l++ {
		if len(s.structure.Levels[l].Segments) > 0 {
			aboveHasSegments = true
			break
		}
	}
	dropTombstones := !aboveHasSegments

	info, produced, err := s.mergeSegments(segs, dropTombstones)
	if err != nil {
		return err
	}

	s.structure.Levels[level].Segments = nil
	for len(s.structure.Levels) <= targetLevel {
		s.structure.Levels = append(s.structure.Levels, Level{})
	}
	if produced {
		s.structure.Levels[targetLevel].Segments = append(s.structure.Levels[targetLevel].Segments, info)
	}
	return nil
}

// Merge explicitly merges the given level, regardless of whether it
// has reached the K-segment threshold, then persists the structure
// record.
func (s *Store) Merge(level int) error {
	if level < 0 || level >= len(s.structure.Levels) {
		return nil
	}
	if err := s.mergeLevel(level); err != nil {
		return err
	}
	return s.persist()
}

// DropAll discards every segment, leaving an empty structure record
// (§6 "'delete-all' | Drop all postings").
func (s *Store) DropAll() error {
	s.structure.Levels = nil
	return s.persist()
}

// Optimize merges every segment across every level down to a single
// segment (§6 "'optimize'" directive).
func (s *Store) Optimize() error {
	var all []SegmentInfo
	for _, lvl := range s.structure.Levels {
		all = append(all, lvl.Segments...)
	}
	if len(all) <= 1 {
		return nil
	}
	info, produced, err := s.mergeSegments(all, true)
	if err != nil {
		return err
	}
	s.structure.Levels = nil
	if produced {
		s.structure.Levels = []Level{{Segments: []SegmentInfo{info}}}
	}
	return s.persist()
}

// MergeUntil merges levels, starting from level 0, until every level holds
// fewer than n segments (§6 "'merge', n" directive).
func (s *Store) MergeUntil(n int) error {
	if n < 1 {
		n = 1
	}
	changed := false
	for {
		progressed := false
		for level := 0; level < len(s.structure.Levels); level++ {
			if len(s.structure.Levels[level].Segments) >= n {
				if err := s.mergeLevel(level); err != nil {
					return err
				}
				progressed = true
				changed = true
			}
		}
		if !progressed {
			break
		}
	}
	if changed {
		return s.persist()
	}
	return nil
}

// IntegrityCheck walks every segment verifying term ordering, rowid
// ordering within each doclist, and page checksums (§6
// 'integrity-check' directive; supplemented from original_source's
// fts5_main.c per SPEC_FULL.md §13).
func (s *Store) IntegrityCheck() error {
	for _, lvl := range s.structure.Levels {
		for _, info := range lvl.Segments {
			if err := checkSegment(s.pages, info); err != nil {
				return errors.Wrapf(err, "segment %d", info.ID)
			}
		}
	}
	return nil
}

func checkSegment(pages PageStore, info SegmentInfo) error {
	r := NewReader(pages, info)
	it := r.TermIter(nil)
	var prevTerm []byte
	first := true
	for !it.Done() {
		term := it.Term()
		if !first && bytes.Compare(term, prevTerm) <= 0 {
			return errors.Newf("terms out of order at %q", term)
		}
		prevTerm = append([]byte(nil), term...)
		first = false

		raw, err := it.Doclist()
		if err != nil {
			return err
		}
		entries, err := doclist.DecodeCompact(raw)
		if err != nil {
			return err
		}
		var prevRowid int64
		firstRowid := true
		for _, e := range entries {
			if !firstRowid && e.Rowid <= prevRowid {
				return errors.Newf("rowids out of order for term %q", term)
			}
			prevRowid = e.Rowid
			firstRowid = false
		}
		if !it.Next() {
			break
		}
	}
	return it.Err()
}
