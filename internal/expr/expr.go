// Package expr implements the phrase/boolean/NEAR iterator tree that
// walks the union of a pending hash's live content and a segment
// store's on-disk segments (§4.7). Every node shares the same small
// interface so AND/OR/NOT/NEAR can be composed over Phrase leaves (or
// over each other) without caring what produced the underlying
// poslists.
package expr

import (
	"context"

	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/poslist"
)

// Direction selects ascending or descending rowid order; fixed for the
// lifetime of an iterator once First is called (§4.7).
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Node is the common iterator interface every query-tree node
// implements. Slices returned by Poslist are borrowed from buffers
// owned by the cursor's snapshot, so a node can be abandoned mid-
// iteration with no cleanup required.
type Node interface {
	First(ctx context.Context, dir Direction) error
	Next(ctx context.Context) error
	EOF() bool
	Rowid() int64
	// Poslist returns the position list for the phrase at index i (0
	// for a leaf Phrase node, or indexed relative to the set of
	// Phrase leaves reachable under a boolean node).
	Poslist(i int) []byte
}

// PostingSource supplies per-term doclist iteration. Implementations
// merge the pending hash's live content with on-disk segments into a
// single logical doclist per term.
type PostingSource interface {
	// Term positions each pair (rowid ascending) this term occurs in,
	// stopping early if yield returns false. A tombstoned rowid must
	// not be yielded.
	Term(term []byte, col int) func(yield func(rowid int64, poslist []byte) bool)
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// termRun materializes one term's (rowid, poslist) pairs in ascending
// rowid order, letting Phrase do simple forward merge-walking without
// re-deriving a live/on-disk merge itself.
type termRun struct {
	rowids   []int64
	poslists [][]byte
}

func materialize(src PostingSource, term []byte, col int) termRun {
	var run termRun
	for rowid, pl := range src.Term(term, col) {
		run.rowids = append(run.rowids, rowid)
		run.poslists = append(run.poslists, pl)
	}
	return run
}

// Phrase matches an ordered sequence of terms, each optionally bound
// to a single column, requiring exact adjacency (term i at offset
// offset_0 + i). NEAR's slop window is applied by Near over its Phrase
// children, not by Phrase itself.
type Phrase struct {
	Terms  [][]byte
	Col    int // -1 for "any column"
	Source PostingSource

	runs []termRun
	pos  []int // current index into runs[i] per term
	dir  Direction
	done bool

	curRowid    int64
	curPoslists [][]byte // one aligned poslist per term, for NEAR/phrase validation
}

var _ Node = (*Phrase)(nil)

func (p *Phrase) First(ctx context.Context, dir Direction) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if len(p.Terms) == 0 {
		return base.Misusef("expr: phrase with no terms")
	}
	p.dir = dir
	p.runs = make([]termRun, len(p.Terms))
	p.pos = make([]int, len(p.Terms))
	for i, t := range p.Terms {
		p.runs[i] = materialize(p.Source, t, p.Col)
		if dir == Desc {
			reverseRun(&p.runs[i])
		}
	}
	p.done = false
	return p.seekMatch(ctx)
}

func reverseRun(r *termRun) {
	n := len(r.rowids)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		r.rowids[i], r.rowids[j] = r.rowids[j], r.rowids[i]
		r.poslists[i], r.poslists[j] = r.poslists[j], r.poslists[i]
	}
}

// seekMatch advances the per-term cursors until every term's current
// rowid is equal (an AND over the term postings), then validates
// phrase adjacency at that rowid; if validation fails it keeps
// looking.
func (p *Phrase) seekMatch(ctx context.Context) error {
	for {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		rowid, ok := p.alignRowids()
		if !ok {
			p.done = true
			return nil
		}
		if p.validateAt(rowid) {
			p.curRowid = rowid
			return nil
		}
		p.advanceAllPast(rowid)
	}
}

func (p *Phrase) alignRowids() (int64, bool) {
	for {
		var target int64
		haveTarget := false
		allEOF := true
		for i := range p.runs {
			if p.pos[i] >= len(p.runs[i].rowids) {
				continue
			}
			allEOF = false
			r := p.runs[i].rowids[p.pos[i]]
			if !haveTarget || p.worse(r, target) {
				target = r
				haveTarget = true
			}
		}
		if allEOF || !haveTarget {
			return 0, false
		}
		aligned := true
		for i := range p.runs {
			if p.pos[i] >= len(p.runs[i].rowids) {
				return 0, false
			}
			for p.pos[i] < len(p.runs[i].rowids) && p.better(p.runs[i].rowids[p.pos[i]], target) {
				p.pos[i]++
			}
			if p.pos[i] >= len(p.runs[i].rowids) {
				return 0, false
			}
			if p.runs[i].rowids[p.pos[i]] != target {
				aligned = false
			}
		}
		if aligned {
			return target, true
		}
	}
}

// better reports whether a comes before b in iteration order.
func (p *Phrase) better(a, b int64) bool {
	if p.dir == Asc {
		return a < b
	}
	return a > b
}

func (p *Phrase) worse(a, b int64) bool { return p.better(b, a) }

func (p *Phrase) validateAt(rowid int64) bool {
	p.curPoslists = make([][]byte, len(p.runs))
	for i := range p.runs {
		p.curPoslists[i] = p.runs[i].poslists[p.pos[i]]
	}
	if len(p.Terms) == 1 {
		return true
	}
	return validateAdjacency(p.curPoslists, 0)
}

// validateAdjacency checks whether, for every column containing the
// first term, each subsequent term occurs at offset base+i+slop for
// some slop in [0, maxSlop] honoring ordering (slop 0 requires exact
// adjacency: offset_i = offset_0 + i).
func validateAdjacency(poslists [][]byte, maxSlop int) bool {
	first := poslists[0]
	for col0, off0 := range poslist.Positions(first) {
		if matchesFrom(poslists, col0, off0, maxSlop) {
			return true
		}
	}
	return false
}

func matchesFrom(poslists [][]byte, col0, off0, maxSlop int) bool {
	for i := 1; i < len(poslists); i++ {
		found := false
		for col, off := range poslist.Positions(poslists[i]) {
			if col != col0 {
				continue
			}
			delta := off - off0 - i
			if delta >= 0 && delta <= maxSlop {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p *Phrase) advanceAllPast(rowid int64) {
	for i := range p.runs {
		if p.pos[i] < len(p.runs[i].rowids) && p.runs[i].rowids[p.pos[i]] == rowid {
			p.pos[i]++
		}
	}
}

func (p *Phrase) Next(ctx context.Context) error {
	if p.done {
		return nil
	}
	p.advanceAllPast(p.curRowid)
	return p.seekMatch(ctx)
}

func (p *Phrase) EOF() bool      { return p.done }
func (p *Phrase) Rowid() int64   { return p.curRowid }
func (p *Phrase) Poslist(i int) []byte {
	if i < 0 || i >= len(p.curPoslists) {
		return nil
	}
	return p.curPoslists[i]
}

// Near wraps a set of Phrase children that must occur near one
// another: within one column, for some position off0 of the first
// child, every child i > 0 has a position in [off0+i, off0+i+Slop].
// Children are thus measured from the first child and must follow it;
// a child occurring before the first child's position does not match
// (§4.7 "NEAR first computes an AND match, then validates poslists").
type Near struct {
	Children []*Phrase
	Slop     int

	dir      Direction
	done     bool
	curRowid int64
}

var _ Node = (*Near)(nil)

func (n *Near) First(ctx context.Context, dir Direction) error {
	n.dir = dir
	for _, c := range n.Children {
		if err := c.First(ctx, dir); err != nil {
			return err
		}
	}
	return n.seekMatch(ctx)
}

func (n *Near) seekMatch(ctx context.Context) error {
	for {
		if err := n.align(ctx); err != nil {
			return err
		}
		if n.done {
			return nil
		}
		if n.validateNear() {
			n.curRowid = n.Children[0].Rowid()
			return nil
		}
		for _, c := range n.Children {
			if err := c.Next(ctx); err != nil {
				return err
			}
		}
	}
}

func (n *Near) better(a, b int64) bool {
	if n.dir == Asc {
		return a < b
	}
	return a > b
}

// align advances the lagging children until every child sits on the
// same rowid (an AND across the phrase children), or marks n done
// once any child is exhausted.
func (n *Near) align(ctx context.Context) error {
	for {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		var target int64
		have := false
		for _, c := range n.Children {
			if c.EOF() {
				n.done = true
				return nil
			}
			if !have || n.better(target, c.Rowid()) {
				target = c.Rowid()
				have = true
			}
		}
		aligned := true
		for _, c := range n.Children {
			if c.Rowid() != target {
				aligned = false
				if n.better(c.Rowid(), target) {
					if err := c.Next(ctx); err != nil {
						return err
					}
					if c.EOF() {
						n.done = true
						return nil
					}
				}
			}
		}
		if aligned {
			return nil
		}
	}
}

func (n *Near) validateNear() bool {
	polists := make([][]byte, len(n.Children))
	for i, c := range n.Children {
		polists[i] = c.Poslist(0)
	}
	return validateAdjacency(polists, n.Slop)
}

func (n *Near) Next(ctx context.Context) error {
	if n.done {
		return nil
	}
	for _, c := range n.Children {
		if !c.EOF() {
			if err := c.Next(ctx); err != nil {
				return err
			}
		}
	}
	return n.seekMatch(ctx)
}

func (n *Near) EOF() bool    { return n.done }
func (n *Near) Rowid() int64 { return n.curRowid }
func (n *Near) Poslist(i int) []byte {
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i].Poslist(0)
}

// And yields rowids present in every child, advancing the lagging
// child until all rowids align (§4.7 "AND advances the lagging child
// until rowids align").
type And struct {
	Children []Node

	dir      Direction
	done     bool
	curRowid int64
}

var _ Node = (*And)(nil)

func (a *And) better(x, y int64) bool {
	if a.dir == Asc {
		return x < y
	}
	return x > y
}

func (a *And) First(ctx context.Context, dir Direction) error {
	a.dir = dir
	for _, c := range a.Children {
		if err := c.First(ctx, dir); err != nil {
			return err
		}
	}
	return a.align(ctx)
}

func (a *And) align(ctx context.Context) error {
	for {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		var target int64
		have := false
		for _, c := range a.Children {
			if c.EOF() {
				a.done = true
				return nil
			}
			if !have || a.better(target, c.Rowid()) {
				target = c.Rowid()
				have = true
			}
		}
		aligned := true
		for _, c := range a.Children {
			if c.Rowid() != target {
				aligned = false
				if a.better(c.Rowid(), target) {
					if err := c.Next(ctx); err != nil {
						return err
					}
					if c.EOF() {
						a.done = true
						return nil
					}
				}
			}
		}
		if aligned {
			a.curRowid = target
			return nil
		}
	}
}

func (a *And) Next(ctx context.Context) error {
	if a.done {
		return nil
	}
	for _, c := range a.Children {
		if err := c.Next(ctx); err != nil {
			return err
		}
	}
	return a.align(ctx)
}

func (a *And) EOF() bool    { return a.done }
func (a *And) Rowid() int64 { return a.curRowid }
func (a *And) Poslist(i int) []byte {
	if i < 0 || i >= len(a.Children) {
		return nil
	}
	return a.Children[i].Poslist(0)
}

// Or yields the minimum rowid among children, advancing every child
// currently positioned there (§4.7 "OR yields the min rowid among
// children and advances all children sharing it").
type Or struct {
	Children []Node

	dir      Direction
	done     bool
	curRowid int64
}

var _ Node = (*Or)(nil)

func (o *Or) better(x, y int64) bool {
	if o.dir == Asc {
		return x < y
	}
	return x > y
}

func (o *Or) First(ctx context.Context, dir Direction) error {
	o.dir = dir
	for _, c := range o.Children {
		if err := c.First(ctx, dir); err != nil {
			return err
		}
	}
	return o.settle(ctx)
}

func (o *Or) settle(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	var target int64
	have := false
	for _, c := range o.Children {
		if c.EOF() {
			continue
		}
		if !have || o.better(c.Rowid(), target) {
			target = c.Rowid()
			have = true
		}
	}
	if !have {
		o.done = true
		return nil
	}
	o.curRowid = target
	return nil
}

func (o *Or) Next(ctx context.Context) error {
	if o.done {
		return nil
	}
	for _, c := range o.Children {
		if !c.EOF() && c.Rowid() == o.curRowid {
			if err := c.Next(ctx); err != nil {
				return err
			}
		}
	}
	return o.settle(ctx)
}

func (o *Or) EOF() bool    { return o.done }
func (o *Or) Rowid() int64 { return o.curRowid }
func (o *Or) Poslist(i int) []byte {
	for _, c := range o.Children {
		if !c.EOF() && c.Rowid() == o.curRowid {
			if pl := c.Poslist(i); pl != nil {
				return pl
			}
		}
	}
	return nil
}

// Not yields rowids from Left that do not match Right (§4.7 "NOT
// yields rowids from its left child that do not match its right
// child").
type Not struct {
	Left, Right Node

	dir  Direction
	done bool
}

var _ Node = (*Not)(nil)

func (n *Not) better(x, y int64) bool {
	if n.dir == Asc {
		return x < y
	}
	return x > y
}

func (n *Not) First(ctx context.Context, dir Direction) error {
	n.dir = dir
	if err := n.Left.First(ctx, dir); err != nil {
		return err
	}
	if err := n.Right.First(ctx, dir); err != nil {
		return err
	}
	return n.skipExcluded(ctx)
}

func (n *Not) skipExcluded(ctx context.Context) error {
	for {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		if n.Left.EOF() {
			n.done = true
			return nil
		}
		for !n.Right.EOF() && n.better(n.Right.Rowid(), n.Left.Rowid()) {
			if err := n.Right.Next(ctx); err != nil {
				return err
			}
		}
		if !n.Right.EOF() && n.Right.Rowid() == n.Left.Rowid() {
			if err := n.Left.Next(ctx); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (n *Not) Next(ctx context.Context) error {
	if n.done {
		return nil
	}
	if err := n.Left.Next(ctx); err != nil {
		return err
	}
	return n.skipExcluded(ctx)
}

func (n *Not) EOF() bool    { return n.done }
func (n *Not) Rowid() int64 { return n.Left.Rowid() }
func (n *Not) Poslist(i int) []byte { return n.Left.Poslist(i) }
