package rewrite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"tileopt/analysis"
	"tileopt/egraph"
	"tileopt/kernels"
	"tileopt/tile"
)

var (
	specQ = tile.Spec{Name: "Q", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1}
	specK = tile.Spec{Name: "K", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8}
	specV = tile.Spec{Name: "V", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 8}
)

func attentionGraph(t *testing.T) *egraph.EGraph {
	t.Helper()
	g := egraph.New(analysis.New(4))
	out, _ := kernels.Attention(specQ, specK, specV)
	_, err := g.AddExpr(out)
	require.NoError(t, err)
	return g
}

func TestSaturateAttention(t *testing.T) {
	g := attentionGraph(t)
	require.Equal(t, 11, g.NumClasses())
	require.Equal(t, 11, g.NumNodes())

	report, err := NewRunner().Run(g)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.True(t, report.Saturated)
	require.Equal(t, 2, report.Iterations)
	require.Equal(t, 4, report.NodesAdded)
	require.Equal(t, 2, report.Unions)
	if diff := cmp.Diff(map[string]int{"hoist-elementwise": 2, "explicit-register-load": 2}, report.PerRule); diff != "" {
		t.Errorf("PerRule mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 13, g.NumClasses())
	require.Equal(t, 15, g.NumNodes())

	// The guard keeps loads from stacking.
	require.Empty(t, Search(g, P(tile.KindLDR, P(tile.KindLDR, V("x")))))
	require.Empty(t, Search(g, P(tile.KindWGMMA, P(tile.KindLDR, P(tile.KindLDR, V("x"))), V("y"))))
}

func TestSaturationIdempotent(t *testing.T) {
	g := attentionGraph(t)
	_, err := NewRunner().Run(g)
	require.NoError(t, err)
	classes, nodes := g.NumClasses(), g.NumNodes()

	again, err := (&Runner{Rules: DefaultRules(), MaxIterations: 1}).Run(g)
	require.NoError(t, err)
	require.True(t, again.Saturated)
	require.Equal(t, 1, again.Iterations)
	require.Zero(t, again.NodesAdded)
	require.Zero(t, again.Unions)
	require.Equal(t, classes, g.NumClasses())
	require.Equal(t, nodes, g.NumNodes())
}

func TestGuardBlocksRegisterOperand(t *testing.T) {
	g := egraph.New(analysis.New(4))
	_, err := g.AddExpr(tile.WGMMA(tile.LDR(tile.LDS(tile.Input(specQ))), tile.LDS(tile.Input(specK))))
	require.NoError(t, err)
	require.Len(t, Search(g, ExplicitRegisterLoad().LHS), 1)

	report, err := (&Runner{Rules: []Rule{ExplicitRegisterLoad()}}).Run(g)
	require.NoError(t, err)
	require.True(t, report.Saturated)
	require.Equal(t, 1, report.Iterations)
	require.Zero(t, report.NodesAdded)
	require.Zero(t, report.PerRule["explicit-register-load"])
}

func TestBudgetExhausted(t *testing.T) {
	g := attentionGraph(t)
	report, err := (&Runner{Rules: DefaultRules(), MaxIterations: 1}).Run(g)
	require.NoError(t, err)
	require.False(t, report.Saturated)
	require.Equal(t, 1, report.Iterations)
	require.True(t, errors.Is(report.Err(), ErrSaturationIncomplete))

	// The partial graph is consistent: carrying on finishes the job.
	report, err = NewRunner().Run(g)
	require.NoError(t, err)
	require.True(t, report.Saturated)
	require.Equal(t, 13, g.NumClasses())
}

func TestSearchRepeatedVariable(t *testing.T) {
	sq := tile.Spec{Name: "S", Rows: 64, Cols: 64, DTypeBytes: 2, LoopIters: 1}
	g := egraph.New(analysis.New(4))
	s := tile.LDS(tile.Input(sq))
	_, err := g.AddExpr(tile.WGMMA(s, s))
	require.NoError(t, err)
	_, err = g.AddExpr(tile.WGMMA(s, tile.LDS(tile.Input(specK))))
	require.NoError(t, err)

	same := Search(g, P(tile.KindWGMMA, V("x"), V("x")))
	require.Len(t, same, 1)
	all := Search(g, P(tile.KindWGMMA, V("x"), V("y")))
	require.Len(t, all, 2)
	require.Equal(t, []string{"x", "y"}, P(tile.KindWGMMA, V("x"), V("y")).Vars())
	require.Equal(t, "WGMMA(?x, LDR(?y))", P(tile.KindWGMMA, V("x"), P(tile.KindLDR, V("y"))).String())
}

func TestConflictingRuleIsFatal(t *testing.T) {
	g := attentionGraph(t)
	// Claims a shared-memory tile equals its global source.
	bogus := Rule{Name: "drop-lds", LHS: P(tile.KindLDS, V("a")), RHS: V("a")}
	_, err := (&Runner{Rules: []Rule{bogus}}).Run(g)
	require.Error(t, err)
	var conflict *egraph.AnalysisConflict
	require.True(t, errors.As(err, &conflict))
}
