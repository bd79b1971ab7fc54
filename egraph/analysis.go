package egraph

import (
	"fmt"

	"tileopt/tile"
)

// Analysis maintains one summary per e-class.
//
// Join must be idempotent, commutative and associative, with the zero tile.Summary as
// identity. It returns an error when the two summaries cannot describe the same tile.
type Analysis interface {
	// Make computes the summary of a node from the current summaries of its children
	// (available through g.Data).
	Make(g *EGraph, n Node) (tile.Summary, error)
	// Join combines two summaries of the same class.
	Join(a, b tile.Summary) (tile.Summary, error)
}

// AnalysisConflict is returned when metadata that must agree does not: two merged classes
// with incompatible summaries, or a node whose summary cannot be derived (e.g. a matmul of
// mismatched shapes). It is fatal for the run: it means a rewrite rule or the input
// expression is wrong.
type AnalysisConflict struct {
	// Classes involved, canonical at the time of the conflict. Empty if the node was
	// being added.
	Classes []ClassID
	// Node whose summary was being derived, or -1 for a conflict raised by Union.
	Node NodeID
	Kind tile.Kind
	Err  error
}

func (e *AnalysisConflict) Error() string {
	switch {
	case e.Node < 0 && len(e.Classes) == 2:
		return fmt.Sprintf("analysis conflict merging e-classes c%d and c%d: %v", e.Classes[0], e.Classes[1], e.Err)
	case len(e.Classes) > 0:
		return fmt.Sprintf("analysis conflict in e-class c%d at node n%d (%s): %v", e.Classes[0], e.Node, e.Kind, e.Err)
	}
	return fmt.Sprintf("analysis conflict adding %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AnalysisConflict) Unwrap() error { return e.Err }

// Cause implements the github.com/pkg/errors causer interface.
func (e *AnalysisConflict) Cause() error { return e.Err }
