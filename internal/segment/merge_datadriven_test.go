package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"

	"github.com/fts5go/fts5go/internal/penhash"
)

// runMergeDatadrivenTest drives a *Store through write/flush/merge
// commands and renders the resulting structure shape, in the style of
// data_test.go's runCompactCmd/runLSMCmd: each command mutates shared
// state and returns a line-oriented description for the testdata file
// to pin.
func runMergeDatadrivenTest(t *testing.T, path string) {
	var store *Store
	var hash *penhash.Hash

	datadriven.RunTest(t, path, func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "init":
			maxPerLevel := 4
			if td.HasArg("max-segments-per-level") {
				td.ScanArgs(t, "max-segments-per-level", &maxPerLevel)
			}
			pages := NewMemPageStore()
			structPath := filepath.Join(t.TempDir(), "structure.json")
			var err error
			store, err = Open(pages, structPath, Config{PageSize: 256, MaxSegmentsPerLevel: maxPerLevel})
			require.NoError(t, err)
			hash = penhash.New()
			return ""

		case "write":
			var rowid int
			td.ScanArgs(t, "rowid", &rowid)
			for _, term := range strings.Fields(td.Input) {
				require.NoError(t, hash.Write([]byte(term), int64(rowid), 0, 0))
			}
			return ""

		case "delete":
			var rowid int
			td.ScanArgs(t, "rowid", &rowid)
			for _, term := range strings.Fields(td.Input) {
				require.NoError(t, hash.Write([]byte(term), int64(rowid), -1, 0))
			}
			return ""

		case "flush":
			require.NoError(t, store.Flush(hash))
			return describeLevels(store.Structure())

		case "merge-until":
			var n int
			td.ScanArgs(t, "n", &n)
			require.NoError(t, store.MergeUntil(n))
			return describeLevels(store.Structure())

		case "optimize":
			require.NoError(t, store.Optimize())
			return describeLevels(store.Structure())

		case "integrity-check":
			if err := store.IntegrityCheck(); err != nil {
				return fmt.Sprintf("error: %s", err)
			}
			return "ok"

		case "lookup":
			var level, index int
			td.ScanArgs(t, "level", &level)
			td.ScanArgs(t, "index", &index)
			seg := store.Structure().Levels[level].Segments[index]
			r := NewReader(store.Pages(), seg)
			var buf strings.Builder
			for _, term := range strings.Fields(td.Input) {
				_, ok, err := r.Lookup([]byte(term))
				require.NoError(t, err)
				fmt.Fprintf(&buf, "%s: found=%v\n", term, ok)
			}
			return buf.String()

		default:
			t.Fatalf("unknown command %q", td.Cmd)
			return ""
		}
	})
}

func describeLevels(st Structure) string {
	var buf strings.Builder
	for i, level := range st.Levels {
		ids := make([]string, len(level.Segments))
		for j, seg := range level.Segments {
			ids[j] = strconv.FormatUint(seg.ID, 10)
		}
		fmt.Fprintf(&buf, "L%d: [%s]\n", i, strings.Join(ids, " "))
	}
	return buf.String()
}

func TestMergeDatadriven(t *testing.T) {
	runMergeDatadrivenTest(t, filepath.Join("testdata", "merge"))
}
