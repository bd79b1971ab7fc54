package optimizer

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileopt/config"
	"tileopt/egraph"
	"tileopt/extract"
	"tileopt/rewrite"
)

func TestAttentionScenario(t *testing.T) {
	r, err := Run(config.Default(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1_196_032), r.NaiveCost)
	assert.True(t, r.Report.Saturated)
	assert.Equal(t, 2, r.Report.Iterations)
	assert.Equal(t, map[string]int{"hoist-elementwise": 2, "explicit-register-load": 2}, r.Report.PerRule)
	assert.Equal(t, 13, r.Graph.NumClasses())
	assert.Equal(t, 15, r.Graph.NumNodes())

	require.Len(t, r.Solutions, 2)
	assert.False(t, r.Stopped)
	for _, s := range r.Solutions {
		assert.Equal(t, int64(1_081_344), s.Total)
		require.NoError(t, extract.Validate(r.Problem, s))
	}
	assert.Equal(t, int64(114_688), r.Saving())
	assert.GreaterOrEqual(t, r.Greedy.Total, r.Best().Total)

	assert.ElementsMatch(t, []string{
		"Elementwise(WGMMA(LDS(Q), LDS(K)))",
		"WGMMA(Elementwise(LDR(LDS(Q))), LDS(K))",
	}, r.Variants)

	summary := r.Summary()
	assert.Contains(t, summary, "1,196,032 B")
	assert.Contains(t, summary, "optimum:    1,081,344 B")
	assert.Contains(t, summary, "solutions:  2\n")
	assert.Contains(t, summary, "hoist-elementwise: 2")

	e := r.Export()
	assert.Equal(t, int64(1_081_344), e.Total)
	assert.Equal(t, 2, e.Solutions)
	enc, err := r.Encode()
	require.NoError(t, err)
	assert.Len(t, enc.RootEClasses, 1)
}

func TestGEMM(t *testing.T) {
	c := config.Default()
	c.Kernel = config.KernelGEMM
	c.Tiles = map[string]config.Tile{
		"A": {Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1},
		"B": {Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8},
	}
	r, err := Run(c, &extract.BranchAndBound{DisableLP: true})
	require.NoError(t, err)

	assert.Equal(t, int64(1_458_176), r.NaiveCost)
	assert.Equal(t, map[string]int{"explicit-register-load": 2}, r.Report.PerRule)
	require.Len(t, r.Solutions, 1)
	assert.Equal(t, int64(1_343_488), r.Best().Total)
	assert.Equal(t, "STG(STS(WGMMA(LDR(LDS(A)), LDS(B))))", extract.Format(r.Problem, r.Best()))
	assert.Equal(t, egraph.ClassID(-1), r.Weights)
	assert.Empty(t, r.Variants)
}

func TestSaturationBudget(t *testing.T) {
	c := config.Default()
	c.MaxIterations = 1
	r, err := Run(c, nil)
	require.NoError(t, err)
	assert.False(t, r.Report.Saturated)
	assert.True(t, errors.Is(r.Report.Err(), rewrite.ErrSaturationIncomplete))
	// The first round already finds both optima.
	assert.Equal(t, int64(1_081_344), r.Best().Total)
}

func TestSolutionBound(t *testing.T) {
	c := config.Default()
	c.MaxSolutions = 1
	r, err := Run(c, nil)
	require.NoError(t, err)
	require.Len(t, r.Solutions, 1)
	assert.True(t, r.Stopped)
	assert.Contains(t, r.Summary(), "(more exist)")
}

func TestInvalidConfig(t *testing.T) {
	c := config.Default()
	c.AccumDTypeBytes = 0
	_, err := Run(c, nil)
	require.ErrorContains(t, err, "accum_dtype_bytes")
}
