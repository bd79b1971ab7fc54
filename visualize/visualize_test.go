package visualize

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileopt/analysis"
	"tileopt/cost"
	"tileopt/egraph"
	"tileopt/extract"
	"tileopt/kernels"
	"tileopt/rewrite"
	"tileopt/serialize"
	"tileopt/tile"
)

func attention(t *testing.T) (*serialize.Graph, *extract.Solution, map[egraph.NodeID]extract.Selection) {
	t.Helper()
	g := egraph.New(analysis.New(4))
	out, _ := kernels.Attention(
		tile.Spec{Name: "Q", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1},
		tile.Spec{Name: "K", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8},
		tile.Spec{Name: "V", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 8},
	)
	root, err := g.AddExpr(out)
	require.NoError(t, err)
	_, err = rewrite.NewRunner().Run(g)
	require.NoError(t, err)
	table, err := cost.Compute(g)
	require.NoError(t, err)
	enc, err := serialize.Encode(g, table, root)
	require.NoError(t, err)
	p, err := extract.FromEGraph(g, table, root)
	require.NoError(t, err)
	sols, err := extract.Collect(extract.AllOptimal(p, extract.Options{}))
	require.NoError(t, err)
	return enc, sols[0], extract.Tag(p, sols)
}

func TestDOTUnselected(t *testing.T) {
	enc, _, _ := attention(t)
	dot, err := DOT(enc, Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dot, "digraph EGraph {"))
	assert.Equal(t, 13, strings.Count(dot, "subgraph cluster_"))
	assert.NotContains(t, dot, ColorSelected)
	assert.NotContains(t, dot, "·.")
	assert.NotContains(t, dot, "total traffic")
	assert.Contains(t, dot, `label="Q"`)
	assert.Contains(t, dot, "128x64 2B SHARED ×8")
}

func TestDOTSelection(t *testing.T) {
	enc, best, tags := attention(t)
	opts := Options{Title: "attention", Selected: make(map[string]bool), Tags: make(map[string]string)}
	for _, id := range best.Choices {
		opts.Selected[serialize.NodeName(id)] = true
	}
	for id, tag := range tags {
		opts.Tags[serialize.NodeName(id)] = tag.String()
	}
	dot, err := DOT(enc, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(dot, `fillcolor="`+ColorRoot+`"`))
	assert.Equal(t, 11, strings.Count(dot, `fillcolor="`+ColorSelected+`"`))
	assert.Equal(t, 3, strings.Count(dot, `fillcolor="`+ColorAlternative+`"`))
	assert.Contains(t, dot, "total traffic: 1.1 MB (1,081,344 B)")
	assert.Contains(t, dot, "(never)")
	assert.Contains(t, dot, `label="A"`)
	assert.Contains(t, dot, `label="B"`)
	assert.Contains(t, dot, "attention\\n")
}

func TestWriteDOT(t *testing.T) {
	enc, _, _ := attention(t)
	dir := t.TempDir()
	dotFile := filepath.Join(dir, "egraph.dot")
	require.NoError(t, WriteDOT(enc, Options{}, dotFile, ""))
	data, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	want, err := DOT(enc, Options{})
	require.NoError(t, err)
	assert.Equal(t, want, string(data))

	if _, err := exec.LookPath("dot"); err != nil {
		require.Error(t, Render(dotFile, filepath.Join(dir, "egraph.png")))
		t.Skip("graphviz not installed")
	}
	require.NoError(t, Render(dotFile, filepath.Join(dir, "egraph.png")))
}

func TestDOTEscapesQuotes(t *testing.T) {
	g := egraph.New(analysis.New(4))
	root, err := g.AddExpr(kernels.GEMM(
		tile.Spec{Name: `A"1`, Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1},
		tile.Spec{Name: `B\2`, Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 4},
	))
	require.NoError(t, err)
	table, err := cost.Compute(g)
	require.NoError(t, err)
	enc, err := serialize.Encode(g, table, root)
	require.NoError(t, err)

	dot, err := DOT(enc, Options{Title: `run "x" \ y`, Tags: map[string]string{serialize.NodeName(0): `a"b`}})
	require.NoError(t, err)
	assert.Contains(t, dot, `label="A\"1`)
	assert.Contains(t, dot, `label="B\\2`)
	assert.Contains(t, dot, `run \"x\" \\ y\n`)
	assert.Contains(t, dot, `(a\"b)`)
	assert.NotContains(t, dot, `A"1`)
}

func TestDOTUnpriced(t *testing.T) {
	enc, _, _ := attention(t)
	for id, n := range enc.Nodes {
		if n.Op == serialize.PropRows {
			delete(enc.Nodes, id)
		}
	}
	_, err := DOT(enc, Options{})
	require.True(t, errors.Is(err, cost.ErrMissingCost), "got %v", err)
	require.Error(t, WriteDOT(enc, Options{}, filepath.Join(t.TempDir(), "egraph.dot"), ""))

	dot, err := DOT(enc, Options{Costs: map[string]int64{}})
	require.NoError(t, err)
	assert.Contains(t, dot, "digraph EGraph {")
}
