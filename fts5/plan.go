package fts5

// PlanKind enumerates the plan shapes a cursor can execute (§4.8).
type PlanKind int

const (
	PlanScan PlanKind = iota
	PlanRowid
	PlanMatch
	PlanSortedMatch
	PlanSpecial
)

// Cost table values reproduced exactly from §4.8: an integration must
// use these literal numbers for best_index to remain compatible with
// the reference planner's choices across ties.
const (
	CostMatchOnly          = 1000
	CostMatchTwoRowidBound = 500
	CostMatchRowidEq       = 100
	CostRowidEqNoMatch     = 10
	CostNoConstraints      = 1000000
	CostUnusableMatch      = 1e50
)

// Constraint mirrors one constraint the host's query planner offers
// to best_index.
type Constraint struct {
	Column   int // -1 for rowid
	Op       ConstraintOp
	Usable   bool
	IsMatch  bool
	IsRowid  bool
	IsLiteral bool // false when the constrained value is not a compile-time literal
}

type ConstraintOp int

const (
	OpEq ConstraintOp = iota
	OpLT
	OpLE
	OpGT
	OpGE
	OpMatch
)

// Plan is the chosen query shape plus the arguments best_index bound
// to it, ready for Cursor.Filter.
type Plan struct {
	Kind      PlanKind
	MatchExpr string // raw MATCH argument text, parsed lazily by Filter
	RankFunc  string // non-empty when MATCH bound the hidden "rank" column
	RowidEq   int64
	Desc      bool
	Special   string // directive name for PlanSpecial (e.g. "reads", "id")
}

// BestIndex reproduces the fixed cost table of §4.8 given the set of
// constraints and whether an ORDER BY rowid clause is present. It
// returns the chosen plan shape and its cost; ties are broken by the
// order the cost table is checked here, matching the reference
// planner's own constraint-scanning order.
func BestIndex(cs []Constraint, orderByRowidDesc bool) (Plan, float64) {
	var hasMatch, matchUsable bool
	var rowidEqUsable bool
	rowidBounds := 0

	for _, c := range cs {
		switch {
		case c.IsMatch:
			hasMatch = true
			if c.Usable && c.IsLiteral {
				matchUsable = true
			}
		case c.IsRowid && c.Op == OpEq && c.Usable:
			rowidEqUsable = true
		case c.IsRowid && (c.Op == OpLT || c.Op == OpLE || c.Op == OpGT || c.Op == OpGE) && c.Usable:
			rowidBounds++
		}
	}

	switch {
	case hasMatch && !matchUsable:
		return Plan{Kind: PlanMatch}, CostUnusableMatch
	case hasMatch && rowidEqUsable:
		return Plan{Kind: PlanMatch}, CostMatchRowidEq
	case hasMatch && rowidBounds >= 2:
		return Plan{Kind: PlanMatch}, CostMatchTwoRowidBound
	case hasMatch:
		return Plan{Kind: PlanMatch, Desc: orderByRowidDesc}, CostMatchOnly
	case rowidEqUsable:
		return Plan{Kind: PlanRowid}, CostRowidEqNoMatch
	default:
		return Plan{Kind: PlanScan, Desc: orderByRowidDesc}, CostNoConstraints
	}
}
