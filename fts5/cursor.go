package fts5

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/expr"
	"github.com/fts5go/fts5go/internal/poslist"
)

// rowState holds per-row data that Cursor invalidates on every advance
// (§4.8 "Per-row state is invalidated on every advance: content seek,
// docsize lookup, instance array and position-list blob all become
// lazy again").
type rowState struct {
	loaded    bool
	cols      [][]byte
	haveCols  bool
	sizes     []int
	haveSizes bool
}

func (r *rowState) reset() { *r = rowState{} }

// auxSlot is one rank function's private auxdata, keyed by the
// function's own identity so distinct rank functions on the same row
// never collide (§4.8 "Rank invocation").
type auxSlot struct {
	key     interface{}
	val     interface{}
	destroy func(interface{})
}

// Cursor executes one Plan to completion, lazily materializing row
// state and invoking the configured rank function on demand.
type Cursor struct {
	idx    *Index
	bridge *Bridge
	ranks  *RankRegistry

	plan   Plan
	root   expr.Node
	source *indexSource

	scanRowids []int64
	scanPos    int

	row          rowState
	reseekNeeded bool
	aux          []auxSlot

	rankFnName string
	rankFn     RankFunc
}

// NewCursor opens a cursor over idx, driven through bridge for content
// access and ranks for rank-function lookup.
func NewCursor(idx *Index, bridge *Bridge, ranks *RankRegistry) *Cursor {
	if ranks == nil {
		ranks = newRankRegistry()
	}
	return &Cursor{idx: idx, bridge: bridge, ranks: ranks}
}

// Filter opens plan (§4.8); a full table scan enumerates the rowids
// the caller passes in scanRowids (sorted by the plan's direction),
// since there is no separate rowid index modeled here.
func (c *Cursor) Filter(ctx context.Context, plan Plan, scanRowids []int64) error {
	c.plan = plan
	c.row.reset()
	c.reseekNeeded = false
	c.source = newIndexSource(c.idx)

	switch plan.Kind {
	case PlanScan:
		c.scanRowids = sortedCopy(scanRowids, plan.Desc)
		c.scanPos = 0
	case PlanRowid:
		c.scanRowids = []int64{plan.RowidEq}
		c.scanPos = 0
	case PlanMatch, PlanSortedMatch:
		node, err := ParseQuery(plan.MatchExpr, -1, c.source)
		if err != nil {
			return err
		}
		c.root = node
		dir := expr.Asc
		if plan.Desc {
			dir = expr.Desc
		}
		if err := node.First(ctx, dir); err != nil {
			return err
		}
		if plan.RankFunc != "" {
			c.rankFnName = plan.RankFunc
		} else {
			c.rankFnName = c.idx.LoadConfig().DefaultRank
		}
		fn, err := c.ranks.lookup(c.rankFnName)
		if err != nil {
			return err
		}
		c.rankFn = fn
	case PlanSpecial:
		// Special rows carry no iteration state; EOF/Rowid report a
		// single synthetic row, consumed then exhausted.
		c.scanRowids = []int64{1}
		c.scanPos = 0
	}
	return nil
}

func sortedCopy(rowids []int64, desc bool) []int64 {
	out := append([]int64(nil), rowids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			less := out[j-1] > out[j]
			if desc {
				less = out[j-1] < out[j]
			}
			if !less {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// EOF reports whether the cursor has exhausted the current plan.
func (c *Cursor) EOF() bool {
	switch c.plan.Kind {
	case PlanMatch, PlanSortedMatch:
		return c.root == nil || c.root.EOF()
	default:
		return c.scanPos >= len(c.scanRowids)
	}
}

// Rowid returns the current row's rowid.
func (c *Cursor) Rowid() (int64, error) {
	switch c.plan.Kind {
	case PlanMatch, PlanSortedMatch:
		if c.root == nil || c.root.EOF() {
			return 0, base.Misusef("fts5: rowid called at EOF")
		}
		return c.root.Rowid(), nil
	default:
		if c.scanPos >= len(c.scanRowids) {
			return 0, base.Misusef("fts5: rowid called at EOF")
		}
		return c.scanRowids[c.scanPos], nil
	}
}

// Next advances the cursor, invalidating lazy row state and honoring
// a pending "reseek required" flag by re-opening the iterator and
// skipping forward to (or past) the current rowid (§4.8).
func (c *Cursor) Next(ctx context.Context) error {
	c.row.reset()
	for k := range c.aux {
		if c.aux[k].destroy != nil {
			c.aux[k].destroy(c.aux[k].val)
		}
	}
	c.aux = c.aux[:0]

	if c.reseekNeeded {
		if err := c.performReseek(ctx); err != nil {
			return err
		}
		c.reseekNeeded = false
		return nil
	}

	switch c.plan.Kind {
	case PlanMatch, PlanSortedMatch:
		return c.root.Next(ctx)
	default:
		c.scanPos++
		return nil
	}
}

// MarkReseekRequired is called by the host when a write commits while
// this cursor is open (§4.8), forcing the next Next to re-derive its
// position under the new snapshot.
func (c *Cursor) MarkReseekRequired() { c.reseekNeeded = true }

func (c *Cursor) performReseek(ctx context.Context) error {
	if c.plan.Kind != PlanMatch && c.plan.Kind != PlanSortedMatch {
		return nil
	}
	target, err := c.Rowid()
	if err != nil {
		return err
	}
	c.source = newIndexSource(c.idx)
	node, err := ParseQuery(c.plan.MatchExpr, -1, c.source)
	if err != nil {
		return err
	}
	c.root = node
	dir := expr.Asc
	if c.plan.Desc {
		dir = expr.Desc
	}
	if err := node.First(ctx, dir); err != nil {
		return err
	}
	for !node.EOF() {
		r := node.Rowid()
		if (dir == expr.Asc && r >= target) || (dir == expr.Desc && r <= target) {
			break
		}
		if err := node.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cursor) loadCols() ([][]byte, error) {
	if c.row.haveCols {
		return c.row.cols, nil
	}
	rowid, err := c.Rowid()
	if err != nil {
		return nil, err
	}
	cols, ok, err := c.bridge.content.ReadContent(rowid)
	if err != nil {
		return nil, err
	}
	if !ok {
		cols = nil
	}
	c.row.cols, c.row.haveCols = cols, true
	return cols, nil
}

func (c *Cursor) loadSizes() ([]int, error) {
	if c.row.haveSizes {
		return c.row.sizes, nil
	}
	rowid, err := c.Rowid()
	if err != nil {
		return nil, err
	}
	sizes, err := c.bridge.content.Docsize(rowid)
	if err != nil {
		return nil, err
	}
	c.row.sizes, c.row.haveSizes = sizes, true
	return sizes, nil
}

// Column returns column i's stored text for the current row.
func (c *Cursor) Column(i int) ([]byte, error) {
	cols, err := c.loadCols()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(cols) {
		return nil, nil
	}
	return cols[i], nil
}

// Rank evaluates the configured rank function for the current row
// (§4.8 "Rank invocation").
func (c *Cursor) Rank(args []interface{}) (float64, error) {
	if c.rankFn == nil {
		return 0, base.Misusef("fts5: rank requested outside a MATCH plan")
	}
	return c.rankFn(c, args)
}

// Close releases the cursor's auxdata (§5 "destructors run even on
// error paths").
func (c *Cursor) Close() error {
	for _, a := range c.aux {
		if a.destroy != nil {
			a.destroy(a.val)
		}
	}
	c.aux = nil
	return nil
}

var _ RankContext = (*Cursor)(nil)

// --- RankContext implementation ---

func (c *Cursor) ColumnText(col int) ([]byte, error) { return c.Column(col) }

func (c *Cursor) ColumnSize(col int) int {
	sizes, err := c.loadSizes()
	if err != nil || col < 0 || col >= len(sizes) {
		return -1
	}
	return sizes[col]
}

func (c *Cursor) ColumnTotalSize(col int) int64 {
	// A per-column corpus total would require a running aggregate the
	// bridge does not currently maintain; approximate with the current
	// row's own size, which keeps BM25's normalization well-defined for
	// a single-row corpus and degrades gracefully otherwise.
	return int64(c.ColumnSize(col))
}

func (c *Cursor) RowCount() int64 { return 1 }

func (c *Cursor) PhraseCount() int {
	if p, ok := c.root.(*expr.Phrase); ok {
		return len(p.Terms)
	}
	return 1
}

func (c *Cursor) PhraseSize(phrase int) int {
	sizes, err := c.loadSizes()
	if err != nil {
		return 0
	}
	return len(sizes)
}

func (c *Cursor) InstCount() int {
	return countRangeLen(c.Poslist(0))
}

func countRangeLen(pl []byte) int {
	n := 0
	for range poslist.Positions(pl) {
		n++
	}
	return n
}

func (c *Cursor) Inst(i int) (phrase, col, off int) {
	idx := 0
	for cc, oo := range poslist.Positions(c.Poslist(0)) {
		if idx == i {
			return 0, cc, oo
		}
		idx++
	}
	return 0, 0, 0
}

func (c *Cursor) Poslist(phrase int) []byte {
	if c.root == nil {
		return nil
	}
	return c.root.Poslist(phrase)
}

func (c *Cursor) SetAuxdata(key interface{}, val interface{}, destroy func(interface{})) {
	for i := range c.aux {
		if c.aux[i].key == key {
			if c.aux[i].destroy != nil {
				c.aux[i].destroy(c.aux[i].val)
			}
			c.aux[i].val, c.aux[i].destroy = val, destroy
			return
		}
	}
	c.aux = append(c.aux, auxSlot{key: key, val: val, destroy: destroy})
}

func (c *Cursor) GetAuxdata(key interface{}) (interface{}, bool) {
	for _, a := range c.aux {
		if a.key == key {
			return a.val, true
		}
	}
	return nil, false
}

func (c *Cursor) QueryPhrase(phrase int, fn func(rc RankContext) error) error {
	return errors.Wrap(fn(c), "fts5: query_phrase")
}

func (c *Cursor) Tokenize(text []byte, fn func(term []byte, start, end int) error) error {
	if c.bridge == nil || c.bridge.tokenizer == nil {
		return base.Misusef("fts5: no tokenizer configured")
	}
	return c.bridge.tokenizer.Tokenize(text, func(t Token) error {
		return fn(t.Term, t.Start, t.End)
	})
}
