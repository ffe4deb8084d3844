package fts5

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBestIndexNoConstraints(t *testing.T) {
	plan, cost := BestIndex(nil, false)
	require.Equal(t, PlanScan, plan.Kind)
	require.Equal(t, float64(CostNoConstraints), cost)
}

func TestBestIndexMatchOnly(t *testing.T) {
	plan, cost := BestIndex([]Constraint{
		{IsMatch: true, Usable: true, IsLiteral: true},
	}, false)
	require.Equal(t, PlanMatch, plan.Kind)
	require.Equal(t, float64(CostMatchOnly), cost)
}

func TestBestIndexUnusableMatchIsExpensive(t *testing.T) {
	plan, cost := BestIndex([]Constraint{
		{IsMatch: true, Usable: false},
	}, false)
	require.Equal(t, PlanMatch, plan.Kind)
	require.Equal(t, float64(CostUnusableMatch), cost)
}

func TestBestIndexMatchWithRowidEq(t *testing.T) {
	plan, cost := BestIndex([]Constraint{
		{IsMatch: true, Usable: true, IsLiteral: true},
		{IsRowid: true, Op: OpEq, Usable: true},
	}, false)
	require.Equal(t, PlanMatch, plan.Kind)
	require.Equal(t, float64(CostMatchRowidEq), cost)
}

func TestBestIndexMatchWithTwoRowidBounds(t *testing.T) {
	plan, cost := BestIndex([]Constraint{
		{IsMatch: true, Usable: true, IsLiteral: true},
		{IsRowid: true, Op: OpGE, Usable: true},
		{IsRowid: true, Op: OpLE, Usable: true},
	}, false)
	require.Equal(t, PlanMatch, plan.Kind)
	require.Equal(t, float64(CostMatchTwoRowidBound), cost)
}

func TestBestIndexRowidEqNoMatch(t *testing.T) {
	plan, cost := BestIndex([]Constraint{
		{IsRowid: true, Op: OpEq, Usable: true},
	}, false)
	require.Equal(t, PlanRowid, plan.Kind)
	require.Equal(t, float64(CostRowidEqNoMatch), cost)
}

func TestBestIndexOrderByRowidDescPropagatesToScan(t *testing.T) {
	plan, _ := BestIndex(nil, true)
	require.True(t, plan.Desc)
}
