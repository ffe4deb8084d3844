package vtab

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fts5go/fts5go/fts5"
	"github.com/fts5go/fts5go/internal/segment"
)

type fakeHost struct {
	rowids  []int64
	options map[string]string
}

func newFakeHost(rowids ...int64) *fakeHost {
	return &fakeHost{rowids: rowids, options: map[string]string{}}
}

func (h *fakeHost) ScanRowids(ctx context.Context) ([]int64, error) { return h.rowids, nil }
func (h *fakeHost) SetOption(name, value string) error {
	h.options[name] = value
	return nil
}

type wordTokenizer struct{}

func (wordTokenizer) Tokenize(text []byte, fn func(fts5.Token) error) error {
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == ' ' {
			if i > start {
				if err := fn(fts5.Token{Term: text[start:i], Start: start, End: i}); err != nil {
					return err
				}
			}
			start = i + 1
		}
	}
	return nil
}

type fakeContentStore struct {
	contentless bool
	content     map[int64][][]byte
	docsize     map[int64][]int
}

func newFakeContentStore(contentless bool) *fakeContentStore {
	return &fakeContentStore{contentless: contentless, content: map[int64][][]byte{}, docsize: map[int64][]int{}}
}

func (c *fakeContentStore) InsertContent(rowid int64, cols [][]byte) error {
	if c.contentless {
		return nil
	}
	c.content[rowid] = cols
	return nil
}
func (c *fakeContentStore) DeleteContent(rowid int64) error { delete(c.content, rowid); return nil }
func (c *fakeContentStore) ReadContent(rowid int64) ([][]byte, bool, error) {
	if c.contentless {
		return nil, false, nil
	}
	cols, ok := c.content[rowid]
	return cols, ok, nil
}
func (c *fakeContentStore) SetDocsize(rowid int64, sizes []int) error {
	c.docsize[rowid] = sizes
	return nil
}
func (c *fakeContentStore) Docsize(rowid int64) ([]int, error) { return c.docsize[rowid], nil }
func (c *fakeContentStore) DeleteDocsize(rowid int64) error    { delete(c.docsize, rowid); return nil }
func (c *fakeContentStore) Contentless() bool                  { return c.contentless }

func newTestModule(t *testing.T, contentless bool, host Host) (*Module, *fakeContentStore) {
	t.Helper()
	pages := segment.NewMemPageStore()
	path := filepath.Join(t.TempDir(), "structure.json")
	idx, err := fts5.Open(pages, path, fts5.DefaultConfig())
	require.NoError(t, err)
	cs := newFakeContentStore(contentless)
	bridge := fts5.NewBridge(idx, cs, wordTokenizer{}, 1)
	return NewModule(idx, bridge, host, 1, "docs"), cs
}

func TestModuleUpdateInsertSearchDelete(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	require.NoError(t, m.Update(0, 1, [][]byte{[]byte("quick brown fox")}))

	cur := m.OpenCursor()
	plan, _ := m.BestIndex([]fts5.Constraint{{IsMatch: true, Usable: true, IsLiteral: true}}, false)
	plan.MatchExpr = "fox"
	require.NoError(t, m.Filter(context.Background(), cur, plan))
	require.False(t, cur.EOF())
	rowid, err := cur.Rowid()
	require.NoError(t, err)
	require.Equal(t, int64(1), rowid)

	require.NoError(t, m.Update(1, 0, nil))
	require.NoError(t, m.Sync(context.Background()))
	require.NoError(t, m.Update(1, 0, nil)) // idempotent second delete on empty content is a no-op
}

func TestModuleFilterScanUsesHostRowids(t *testing.T) {
	host := newFakeHost(3, 1, 2)
	m, _ := newTestModule(t, false, host)
	cur := m.OpenCursor()
	plan, _ := m.BestIndex(nil, false)
	require.NoError(t, m.Filter(context.Background(), cur, plan))

	var got []int64
	for !cur.EOF() {
		r, err := cur.Rowid()
		require.NoError(t, err)
		got = append(got, r)
		require.NoError(t, cur.Next(context.Background()))
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestModuleRenamePersistsTableTag(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	require.NoError(t, m.Rename("archive_docs"))
	require.Equal(t, "archive_docs", m.Index.Store().Structure().TableTag)
}

func TestModuleFindFunctionResolvesBuiltinRank(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	fn, ok := m.FindFunction("bm25")
	require.True(t, ok)
	require.NotNil(t, fn)

	_, ok = m.FindFunction("not_a_real_function")
	require.False(t, ok)
}

func TestModuleSpecialWriteOptimizeAndIntegrityCheck(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	require.NoError(t, m.Update(0, 1, [][]byte{[]byte("alpha beta")}))
	require.NoError(t, m.Sync(context.Background()))
	require.NoError(t, m.Update(0, 2, [][]byte{[]byte("beta gamma")}))
	require.NoError(t, m.Sync(context.Background()))

	require.NoError(t, m.SpecialWrite(context.Background(), "optimize", nil))
	require.NoError(t, m.SpecialWrite(context.Background(), "integrity-check", nil))
}

func TestModuleSpecialWriteMergeRequiresIntegerArg(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	require.Error(t, m.SpecialWrite(context.Background(), "merge", []string{"not-a-number"}))
	require.Error(t, m.SpecialWrite(context.Background(), "merge", nil))
	require.NoError(t, m.SpecialWrite(context.Background(), "merge", []string{"2"}))
}

func TestModuleSpecialWriteDeleteAllRequiresContentless(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	require.Error(t, m.SpecialWrite(context.Background(), "delete-all", nil))

	mc, _ := newTestModule(t, true, newFakeHost())
	require.NoError(t, mc.SpecialWrite(context.Background(), "delete-all", nil))
}

func TestModuleSpecialWriteDeleteContentless(t *testing.T) {
	m, _ := newTestModule(t, true, newFakeHost())
	require.NoError(t, m.Update(0, 1, [][]byte{[]byte("alpha beta")}))
	require.NoError(t, m.SpecialWrite(context.Background(), "delete", []string{"1", "alpha beta"}))
}

func TestModuleSetTunableValidatesIntegerOptions(t *testing.T) {
	host := newFakeHost()
	m, _ := newTestModule(t, false, host)
	require.NoError(t, m.SpecialWrite(context.Background(), "pgsz", []string{"4096"}))
	require.Equal(t, "4096", host.options["pgsz"])

	require.Error(t, m.SpecialWrite(context.Background(), "pgsz", []string{"not-an-int"}))
	require.Error(t, m.SpecialWrite(context.Background(), "unknown-option", []string{"x"}))
}

func TestModuleDestroyDropsAllSegments(t *testing.T) {
	m, _ := newTestModule(t, false, newFakeHost())
	require.NoError(t, m.Update(0, 1, [][]byte{[]byte("alpha")}))
	require.NoError(t, m.Sync(context.Background()))
	require.NotEmpty(t, m.Index.Store().Structure().Levels)

	require.NoError(t, m.Destroy(context.Background()))
	require.Empty(t, m.Index.Store().Structure().Levels)
}
