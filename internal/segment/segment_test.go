package segment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fts5go/fts5go/internal/doclist"
	"github.com/fts5go/fts5go/internal/penhash"
	"github.com/fts5go/fts5go/internal/poslist"
)

func buildSorted(t *testing.T, store PageStore, pageSize int, terms []string, docs map[string][]byte, segID uint64) SegmentInfo {
	t.Helper()
	w := NewWriter(store, pageSize)
	for _, term := range terms {
		require.NoError(t, w.Add([]byte(term), docs[term]))
	}
	info, err := w.Close(segID)
	require.NoError(t, err)
	return info
}

func TestWriterReaderLookupRoundTrip(t *testing.T) {
	store := NewMemPageStore()
	terms := []string{"alpha", "beta", "gamma", "omega"}
	docs := map[string][]byte{
		"alpha": []byte("doc-alpha"),
		"beta":  []byte("doc-beta"),
		"gamma": []byte("doc-gamma"),
		"omega": []byte("doc-omega"),
	}
	info := buildSorted(t, store, DefaultPageSize, terms, docs, 1)

	r := NewReader(store, info)
	for _, term := range terms {
		got, ok, err := r.Lookup([]byte(term))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, docs[term], got)
	}

	_, ok, err := r.Lookup([]byte("zzz-missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriterRejectsOutOfOrderTerms(t *testing.T) {
	store := NewMemPageStore()
	w := NewWriter(store, DefaultPageSize)
	require.NoError(t, w.Add([]byte("beta"), []byte("x")))
	require.Error(t, w.Add([]byte("alpha"), []byte("y")))
}

func TestTermIteratorWalksInOrder(t *testing.T) {
	store := NewMemPageStore()
	terms := []string{"a", "b", "c", "d", "e"}
	docs := map[string][]byte{}
	for _, term := range terms {
		docs[term] = []byte("doclist-" + term)
	}
	info := buildSorted(t, store, DefaultPageSize, terms, docs, 1)

	r := NewReader(store, info)
	it := r.TermIter(nil)
	var got []string
	for !it.Done() {
		got = append(got, string(it.Term()))
		dl, err := it.Doclist()
		require.NoError(t, err)
		require.Equal(t, docs[string(it.Term())], dl)
		if !it.Next() {
			break
		}
	}
	require.NoError(t, it.Err())
	require.Equal(t, terms, got)
}

func TestSmallPagesForceMultipleLeaves(t *testing.T) {
	store := NewMemPageStore()
	var terms []string
	docs := map[string][]byte{}
	for i := 0; i < 50; i++ {
		term := string(rune('a'+i%26)) + string(rune('A'+i/26))
		terms = append(terms, term)
		docs[term] = []byte("posting-data-for-" + term)
	}
	// sort terms lexicographically since Add requires strictly
	// increasing keys.
	for i := 1; i < len(terms); i++ {
		for j := i; j > 0 && terms[j-1] > terms[j]; j-- {
			terms[j-1], terms[j] = terms[j], terms[j-1]
		}
	}
	info := buildSorted(t, store, 128, terms, docs, 7)
	require.Greater(t, info.LastPage, info.FirstPage, "small page size should force multiple leaves")

	r := NewReader(store, info)
	for _, term := range terms {
		got, ok, err := r.Lookup([]byte(term))
		require.NoError(t, err)
		require.True(t, ok, "term %q", term)
		require.Equal(t, docs[term], got)
	}
}

func openStore(t *testing.T, pages PageStore, cfg Config) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "structure.json")
	st, err := Open(pages, path, cfg)
	require.NoError(t, err)
	return st
}

func TestFlushIsNoOpOnEmptyHash(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{})
	h := penhash.New()
	require.NoError(t, st.Flush(h))
	require.Empty(t, st.Structure().Levels)
}

func TestFlushCreatesLevelZeroSegment(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 4})
	h := penhash.New()
	require.NoError(t, h.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, h.Write([]byte("dog"), 2, 0, 0))
	require.NoError(t, st.Flush(h))

	levels := st.Structure().Levels
	require.Len(t, levels, 1)
	require.Len(t, levels[0].Segments, 1)
	require.Equal(t, uint64(1), levels[0].Segments[0].ID)
}

func TestCascadeMergePastMaxSegmentsPerLevel(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 2})
	for i := 0; i < 4; i++ {
		h := penhash.New()
		require.NoError(t, h.Write([]byte("term"), int64(i+1), 0, 0))
		require.NoError(t, st.Flush(h))
	}

	levels := st.Structure().Levels
	require.Len(t, levels[0].Segments, 0, "level 0 should have cascaded once it reached the max")
	require.Len(t, levels[1].Segments, 0, "level 1 should have cascaded in turn once it reached the max")
	require.Len(t, levels[2].Segments, 1)

	r := NewReader(st.Pages(), levels[2].Segments[0])
	dl, ok, err := r.Lookup([]byte("term"))
	require.NoError(t, err)
	require.True(t, ok)
	entries, err := doclist.DecodeCompact(dl)
	require.NoError(t, err)
	require.Len(t, entries, 4, "merged segment should hold all four rowids for the shared term")
}

func TestMergeKeepsHigherSegmentIDOnRowidCollision(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 100})
	h1 := penhash.New()
	require.NoError(t, h1.Write([]byte("cat"), 5, 0, 0))
	require.NoError(t, st.Flush(h1))

	h2 := penhash.New()
	require.NoError(t, h2.Write([]byte("cat"), 5, 0, 1)) // same rowid, newer write
	require.NoError(t, st.Flush(h2))

	require.NoError(t, st.Merge(0))

	levels := st.Structure().Levels
	require.Len(t, levels[1].Segments, 1)
	r := NewReader(st.Pages(), levels[1].Segments[0])
	dl, ok, err := r.Lookup([]byte("cat"))
	require.NoError(t, err)
	require.True(t, ok)
	entries, err := doclist.DecodeCompact(dl)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var got [][2]int
	for col, off := range poslist.Positions(entries[0].Poslist) {
		got = append(got, [2]int{col, off})
	}
	require.Equal(t, [][2]int{{0, 1}}, got, "merged entry must keep the newer flush's posting")
}

func TestOptimizeMergesEverythingIntoOneSegment(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 100})
	for i := 0; i < 5; i++ {
		h := penhash.New()
		require.NoError(t, h.Write([]byte("word"), int64(i+1), 0, 0))
		require.NoError(t, st.Flush(h))
	}
	require.NoError(t, st.Optimize())

	levels := st.Structure().Levels
	total := 0
	for _, lvl := range levels {
		total += len(lvl.Segments)
	}
	require.Equal(t, 1, total)
}

func TestMergeDropsTombstoneAtDeepestLevel(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 100})
	h1 := penhash.New()
	require.NoError(t, h1.Write([]byte("cat"), 5, 0, 0))
	require.NoError(t, st.Flush(h1))

	h2 := penhash.New()
	require.NoError(t, h2.Write([]byte("cat"), 5, -1, 0)) // delete
	require.NoError(t, st.Flush(h2))

	require.NoError(t, st.Optimize())

	levels := st.Structure().Levels
	if len(levels) == 0 {
		return
	}
	for _, lvl := range levels {
		for _, info := range lvl.Segments {
			r := NewReader(st.Pages(), info)
			_, ok, err := r.Lookup([]byte("cat"))
			require.NoError(t, err)
			require.False(t, ok, "tombstoned rowid must not survive optimize")
		}
	}
}

func TestMergeUntilReducesSegmentCounts(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 1000})
	for i := 0; i < 6; i++ {
		h := penhash.New()
		require.NoError(t, h.Write([]byte("term"), int64(i+1), 0, 0))
		require.NoError(t, st.Flush(h))
	}
	require.Len(t, st.Structure().Levels[0].Segments, 6)

	require.NoError(t, st.MergeUntil(3))
	for _, lvl := range st.Structure().Levels {
		require.Less(t, len(lvl.Segments), 3)
	}
}

func TestIntegrityCheckPassesOnWellFormedSegments(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 2})
	for i := 0; i < 5; i++ {
		h := penhash.New()
		require.NoError(t, h.Write([]byte("term"), int64(i+1), 0, 0))
		require.NoError(t, st.Flush(h))
	}
	require.NoError(t, st.IntegrityCheck())
}

func TestSetTableTagPersists(t *testing.T) {
	pages := NewMemPageStore()
	path := filepath.Join(t.TempDir(), "structure.json")
	st, err := Open(pages, path, Config{})
	require.NoError(t, err)
	require.NoError(t, st.SetTableTag("renamed_table"))

	reopened, err := Open(pages, path, Config{})
	require.NoError(t, err)
	require.Equal(t, "renamed_table", reopened.Structure().TableTag)
}

func TestDropAllClearsSegments(t *testing.T) {
	st := openStore(t, NewMemPageStore(), Config{MaxSegmentsPerLevel: 100})
	h := penhash.New()
	require.NoError(t, h.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, st.Flush(h))
	require.NotEmpty(t, st.Structure().Levels)

	require.NoError(t, st.DropAll())
	require.Empty(t, st.Structure().Levels)
}

func TestContinuationPageForOversizedDoclist(t *testing.T) {
	store := NewMemPageStore()
	big := make([]byte, 1000)
	for i := range big {
		big[i] = byte(i)
	}
	w := NewWriter(store, 128)
	require.NoError(t, w.Add([]byte("huge"), big))
	require.NoError(t, w.Add([]byte("zzz"), []byte("small")))
	info, err := w.Close(1)
	require.NoError(t, err)

	r := NewReader(store, info)
	got, ok, err := r.Lookup([]byte("huge"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big, got)

	got2, ok, err := r.Lookup([]byte("zzz"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("small"), got2)
}
