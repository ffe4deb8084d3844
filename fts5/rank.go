package fts5

import (
	"math"

	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/poslist"
)

// RankContext is handed to a RankFunc when the cursor's synthetic rank
// column is read (§4.8 "Rank invocation"). Poslist slices it returns
// are borrowed and only valid until the next cursor advance.
type RankContext interface {
	ColumnText(col int) ([]byte, error)
	ColumnSize(col int) int
	ColumnTotalSize(col int) int64
	RowCount() int64
	PhraseCount() int
	PhraseSize(phrase int) int
	InstCount() int
	Inst(i int) (phrase, col, off int)
	Poslist(phrase int) []byte
	SetAuxdata(key interface{}, val interface{}, destroy func(interface{}))
	GetAuxdata(key interface{}) (interface{}, bool)
	QueryPhrase(phrase int, fn func(rc RankContext) error) error
	Tokenize(text []byte, fn func(term []byte, start, end int) error) error
}

// RankFunc computes a relevance score for the row RankContext is
// currently positioned on. Lower is generally "more relevant" by
// SQLite FTS5 convention, matching bm25's sign.
type RankFunc func(rc RankContext, args []interface{}) (float64, error)

// RankRegistry holds a table's configured rank functions, keyed by
// name; lookups are cached on the cursor per §4.8. Additional names
// are added with Register; the `find_function` virtual-table hook
// only resolves names through Lookup.
type RankRegistry struct {
	funcs map[string]RankFunc
}

// NewRankRegistry returns a registry pre-populated with the built-in
// "bm25" rank function (§6 "rank" tunable default).
func NewRankRegistry() *RankRegistry {
	r := &RankRegistry{funcs: map[string]RankFunc{}}
	r.funcs["bm25"] = BM25Rank
	return r
}

func newRankRegistry() *RankRegistry { return NewRankRegistry() }

// Register adds or replaces the rank function callable under name.
func (r *RankRegistry) Register(name string, fn RankFunc) { r.funcs[name] = fn }

// Lookup resolves name to its registered RankFunc, for a host's own
// find_function dispatch (§6 "find_function(name)").
func (r *RankRegistry) Lookup(name string) (RankFunc, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *RankRegistry) lookup(name string) (RankFunc, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, base.Misusef("fts5: unknown rank function %q", name)
	}
	return fn, nil
}

// bm25 weighting constants, matching the conventional defaults (k1,
// b) used by the original implementation's built-in ranker.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Rank is the default rank function (§6 "rank" tunable default
// 'bm25'): a per-phrase term-frequency / inverse-document-frequency
// score summed across every phrase in the query, normalized by
// document length relative to the average.
func BM25Rank(rc RankContext, args []interface{}) (float64, error) {
	n := rc.RowCount()
	if n <= 0 {
		return 0, nil
	}
	avgLen := averageDocLength(rc)
	docLen := float64(totalColumnSize(rc))

	var score float64
	for p := 0; p < rc.PhraseCount(); p++ {
		tf := countInstances(rc, p)
		if tf == 0 {
			continue
		}
		df := documentFrequencyEstimate(rc, p)
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		norm := 1 - bm25B + bm25B*docLen/avgLen
		weight := (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		score += idf * weight
	}
	// SQLite's fts5 reports bm25 as a negative score (more relevant
	// rows sort first under ORDER BY rank ascending).
	return -score, nil
}

func averageDocLength(rc RankContext) float64 {
	n := rc.RowCount()
	if n == 0 {
		return 1
	}
	total := int64(0)
	for c := 0; c < rc.PhraseSize(0); c++ {
		total += rc.ColumnTotalSize(c)
	}
	if total == 0 {
		return 1
	}
	return float64(total) / float64(n)
}

func totalColumnSize(rc RankContext) int {
	total := 0
	for c := 0; ; c++ {
		sz := rc.ColumnSize(c)
		if sz < 0 {
			break
		}
		total += sz
	}
	return total
}

func countInstances(rc RankContext, phrase int) float64 {
	count := 0.0
	for _, off := range poslist.Positions(rc.Poslist(phrase)) {
		_ = off
		count++
	}
	return count
}

// documentFrequencyEstimate approximates how many rows contain the
// phrase at least once. It does not consult the segment doclists: it
// returns 1 when the current row has an instance of the phrase and
// 0.5 otherwise.
func documentFrequencyEstimate(rc RankContext, phrase int) float64 {
	if countInstances(rc, phrase) > 0 {
		return 1
	}
	return 0.5
}
