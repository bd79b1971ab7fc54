package extract

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileopt/analysis"
	"tileopt/cost"
	"tileopt/egraph"
	"tileopt/kernels"
	"tileopt/rewrite"
	"tileopt/tile"
)

var (
	specQ = tile.Spec{Name: "Q", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1}
	specK = tile.Spec{Name: "K", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8}
	specV = tile.Spec{Name: "V", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 8}
)

func attentionProblem(t *testing.T) *Problem {
	t.Helper()
	g := egraph.New(analysis.New(4))
	out, _ := kernels.Attention(specQ, specK, specV)
	root, err := g.AddExpr(out)
	require.NoError(t, err)
	_, err = rewrite.NewRunner().Run(g)
	require.NoError(t, err)
	table, err := cost.Compute(g)
	require.NoError(t, err)
	p, err := FromEGraph(g, table, root)
	require.NoError(t, err)
	return p
}

func cls(ids ...int) []egraph.ClassID {
	out := make([]egraph.ClassID, len(ids))
	for i, id := range ids {
		out[i] = egraph.ClassID(id)
	}
	return out
}

func mustProblem(t *testing.T, root int, nodes ...Node) *Problem {
	t.Helper()
	p, err := NewProblem(egraph.ClassID(root), nodes)
	require.NoError(t, err)
	return p
}

func TestAttentionOptimum(t *testing.T) {
	p := attentionProblem(t)
	require.Len(t, p.Classes, 13)
	require.Len(t, p.Nodes, 15)

	for _, solver := range []*BranchAndBound{{}, {DisableLP: true}} {
		best, err := Best(p, Options{Solver: solver})
		require.NoError(t, err)
		require.Equal(t, int64(1_081_344), best.Total)
		require.NoError(t, Validate(p, best))
	}

	sols, err := Collect(AllOptimal(p, Options{}))
	require.NoError(t, err)
	require.Len(t, sols, 2)
	require.NotEqual(t, sols[0].Nodes(), sols[1].Nodes())
	var formats []string
	for _, s := range sols {
		require.Equal(t, int64(1_081_344), s.Total)
		require.NoError(t, Validate(p, s))
		formats = append(formats, Format(p, s))
	}
	require.ElementsMatch(t, []string{
		"STG(STS(WGMMA(Elementwise(WGMMA(LDR(LDS(Q)), LDS(K))), LDS(V))))",
		"STG(STS(WGMMA(WGMMA(Elementwise(LDR(LDS(Q))), LDS(K)), LDS(V))))",
	}, formats)

	counts := make(map[Selection]int)
	for _, tag := range Tag(p, sols) {
		counts[tag]++
	}
	assert.Equal(t, map[Selection]int{Always: 10, Sometimes: 4, Never: 1}, counts)

	greedy, err := Greedy(p)
	require.NoError(t, err)
	require.NoError(t, Validate(p, greedy))
	require.GreaterOrEqual(t, greedy.Total, sols[0].Total)
}

func TestCostCountedOncePerClass(t *testing.T) {
	// r reads A and B, which both read the shared class S.
	p := mustProblem(t, 0,
		Node{ID: 0, Class: 0, Children: cls(1, 2), Label: "r"},
		Node{ID: 1, Class: 1, Children: cls(3), Cost: 5, Label: "a"},
		Node{ID: 2, Class: 2, Children: cls(3), Cost: 7, Label: "b"},
		Node{ID: 3, Class: 3, Cost: 100, Label: "s"},
	)
	best, err := Best(p, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(112), best.Total)
	require.Len(t, best.Costs, 4)
	require.Equal(t, "r(a(s), b(s))", Format(p, best))

	// The tree cost pays for s twice, the DAG total does not.
	greedy, err := Greedy(p)
	require.NoError(t, err)
	require.Equal(t, int64(112), greedy.Total)
}

func TestAllOptimalTies(t *testing.T) {
	nodes := []Node{
		{ID: 0, Class: 0, Children: cls(1, 2), Label: "r"},
		{ID: 1, Class: 1, Cost: 1, Label: "a1"},
		{ID: 2, Class: 1, Cost: 1, Label: "a2"},
		{ID: 3, Class: 2, Cost: 2, Label: "b1"},
		{ID: 4, Class: 2, Cost: 3, Label: "b2"},
		// Unreachable from the root: dropped.
		{ID: 5, Class: 9, Cost: 0, Label: "z"},
	}
	p := mustProblem(t, 0, nodes...)
	require.Equal(t, cls(0, 1, 2), p.Classes)

	it := AllOptimal(p, Options{})
	sols, err := Collect(it)
	require.NoError(t, err)
	require.False(t, it.Stopped())
	require.Equal(t, int64(3), it.Optimum())
	require.Len(t, sols, 2)
	seen := make(map[string]bool)
	for _, s := range sols {
		require.Equal(t, int64(3), s.Total)
		seen[Format(p, s)] = true
	}
	require.Equal(t, map[string]bool{"r(a1, b1)": true, "r(a2, b1)": true}, seen)

	tags := Tag(p, sols)
	assert.Equal(t, map[egraph.NodeID]Selection{0: Always, 1: Sometimes, 2: Sometimes, 3: Always, 4: Never}, tags)
	assert.Equal(t, "sometimes", tags[1].String())

	// A bound below the number of optima is a soft stop.
	it = AllOptimal(p, Options{MaxSolutions: 1})
	sols, err = Collect(it)
	require.NoError(t, err)
	require.Len(t, sols, 1)
	require.True(t, it.Stopped())

	// A bound equal to the number of optima is not.
	it = AllOptimal(p, Options{MaxSolutions: 2})
	sols, err = Collect(it)
	require.NoError(t, err)
	require.Len(t, sols, 2)
	require.False(t, it.Stopped())
}

func TestCycleIsCut(t *testing.T) {
	// a2 and b2 are cheap but only together, in a cycle A -> B -> A.
	p := mustProblem(t, 0,
		Node{ID: 0, Class: 0, Children: cls(1), Label: "r"},
		Node{ID: 1, Class: 1, Cost: 10, Label: "a1"},
		Node{ID: 2, Class: 1, Children: cls(2), Cost: 1, Label: "a2"},
		Node{ID: 3, Class: 2, Cost: 10, Label: "b1"},
		Node{ID: 4, Class: 2, Children: cls(1), Label: "b2"},
		// Self-loops are never selectable.
		Node{ID: 5, Class: 1, Children: cls(1), Label: "a3"},
	)
	for _, solver := range []*BranchAndBound{{}, {DisableLP: true}} {
		sols, err := Collect(AllOptimal(p, Options{Solver: solver}))
		require.NoError(t, err)
		require.Len(t, sols, 1)
		require.Equal(t, int64(10), sols[0].Total)
		require.Equal(t, "r(a1)", Format(p, sols[0]))
		require.NoError(t, Validate(p, sols[0]))
	}

	greedy, err := Greedy(p)
	require.NoError(t, err)
	require.NoError(t, Validate(p, greedy))
}

func TestInfeasible(t *testing.T) {
	p := mustProblem(t, 0, Node{ID: 0, Class: 0, Children: cls(0), Cost: 1, Label: "loop"})
	_, err := Best(p, Options{})
	require.True(t, errors.Is(err, ErrInfeasible))

	it := AllOptimal(p, Options{})
	require.False(t, it.Next())
	require.True(t, errors.Is(it.Err(), ErrInfeasible))
	require.Nil(t, it.Solution())

	_, err = Greedy(p)
	require.True(t, errors.Is(err, ErrInfeasible))

	_, err = NewProblem(3, nil)
	require.True(t, errors.Is(err, ErrInfeasible))
}

func TestProblemErrors(t *testing.T) {
	_, err := NewProblem(0, []Node{{ID: 0, Class: 0, Cost: -1}})
	require.True(t, errors.Is(err, cost.ErrMissingCost))

	_, err = NewProblem(0, []Node{{ID: 0, Class: 0, Children: cls(4)}})
	require.Error(t, err)

	g := egraph.New(analysis.New(4))
	root, err := g.AddExpr(tile.LDS(tile.Input(specQ)))
	require.NoError(t, err)
	_, err = FromEGraph(g, cost.Table{}, root)
	require.True(t, errors.Is(err, cost.ErrMissingCost))
}

func TestValidateRejects(t *testing.T) {
	p := mustProblem(t, 0,
		Node{ID: 0, Class: 0, Children: cls(1), Label: "r"},
		Node{ID: 1, Class: 1, Cost: 4, Label: "a"},
		Node{ID: 2, Class: 2, Cost: 4, Label: "b"},
	)
	good := &Solution{
		Root:    0,
		Choices: map[egraph.ClassID]egraph.NodeID{0: 0, 1: 1},
		Costs:   map[egraph.ClassID]int64{0: 0, 1: 4},
		Total:   4,
	}
	require.NoError(t, Validate(p, good))

	wrongTotal := *good
	wrongTotal.Total = 5
	require.Error(t, Validate(p, &wrongTotal))

	missingChild := &Solution{Root: 0, Choices: map[egraph.ClassID]egraph.NodeID{0: 0}, Costs: map[egraph.ClassID]int64{0: 0}}
	require.Error(t, Validate(p, missingChild))

	wrongClass := &Solution{
		Root:    0,
		Choices: map[egraph.ClassID]egraph.NodeID{0: 0, 1: 0},
		Costs:   map[egraph.ClassID]int64{0: 0, 1: 0},
	}
	require.Error(t, Validate(p, wrongClass))
}

func TestModelFeasible(t *testing.T) {
	m := &Model{NumVars: 2, Objective: []int64{3, 4}}
	m.AddRow(Row{Name: "pick", Terms: []Term{{0, 1}, {1, 1}, {0, 0}}, Sense: EQ, RHS: 1})
	require.Len(t, m.Rows[0].Terms, 2)
	require.True(t, m.Feasible([]bool{true, false}))
	require.False(t, m.Feasible([]bool{true, true}))

	solver := &BranchAndBound{}
	x, obj, err := solver.Solve(m)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, x)
	require.Equal(t, int64(3), obj)
	require.Positive(t, solver.Stats().Nodes)
	require.Contains(t, m.String(), "pick: +1 x0 +1 x1 == 1")
}
