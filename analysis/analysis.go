// Package analysis propagates tile metadata (shape, element width, memory region and loop
// multiplicity) through an e-graph.
//
// Summaries form a flat semilattice per field: the zero value means "unknown" and joins with
// anything; two known values join only if they are equal. A mismatch is a FieldMismatch,
// surfaced by the e-graph as an AnalysisConflict.
package analysis

import (
	"fmt"

	"tileopt/egraph"
	"tileopt/tile"
)

// Tile is the egraph.Analysis for the tile language.
type Tile struct {
	// AccumBytes is the element width of matmul accumulators (4 for fp32).
	AccumBytes int
}

var _ egraph.Analysis = Tile{}

// New returns the tile analysis with the given accumulator width.
func New(accumBytes int) Tile {
	return Tile{AccumBytes: accumBytes}
}

// Make derives the summary of n from its children's class summaries.
func (t Tile) Make(g *egraph.EGraph, n egraph.Node) (tile.Summary, error) {
	children := make([]tile.Summary, len(n.Children))
	for i, c := range n.Children {
		children[i] = g.Data(c)
	}
	return tile.Infer(n.Kind, n.Leaf, children, t.AccumBytes)
}

// Join merges two summaries of the same class.
func (t Tile) Join(a, b tile.Summary) (tile.Summary, error) {
	return Join(a, b)
}

// FieldMismatch reports two known, different values for the same summary field.
type FieldMismatch struct {
	Field       string
	Left, Right any
}

func (e *FieldMismatch) Error() string {
	return fmt.Sprintf("%s: %v != %v", e.Field, e.Left, e.Right)
}

// Join is the field-wise semilattice join of two summaries.
func Join(a, b tile.Summary) (tile.Summary, error) {
	var out tile.Summary
	var err error
	if out.Rows, err = joinInt("rows", a.Rows, b.Rows); err != nil {
		return a, err
	}
	if out.Cols, err = joinInt("cols", a.Cols, b.Cols); err != nil {
		return a, err
	}
	if out.DTypeBytes, err = joinInt("dtype_bytes", a.DTypeBytes, b.DTypeBytes); err != nil {
		return a, err
	}
	if out.LoopIters, err = joinInt("loop_iters", a.LoopIters, b.LoopIters); err != nil {
		return a, err
	}
	// mem_region is joined as strictly as the shape fields: two known regions must agree.
	switch {
	case a.Mem == b.Mem, b.Mem == tile.MemUnknown:
		out.Mem = a.Mem
	case a.Mem == tile.MemUnknown:
		out.Mem = b.Mem
	default:
		return a, &FieldMismatch{Field: "mem_region", Left: a.Mem, Right: b.Mem}
	}
	return out, nil
}

func joinInt(field string, a, b int) (int, error) {
	switch {
	case a == b, b == 0:
		return a, nil
	case a == 0:
		return b, nil
	}
	return a, &FieldMismatch{Field: field, Left: a, Right: b}
}
