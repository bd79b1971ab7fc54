// Package cost prices e-nodes by the bytes of data movement they imply.
package cost

import (
	"github.com/pkg/errors"

	"tileopt/egraph"
	"tileopt/tile"
)

// ErrMissingCost is returned when a node that must be priced has no (or a negative) cost.
var ErrMissingCost = errors.New("cost: missing cost")

// Table maps e-nodes to their byte cost.
type Table map[egraph.NodeID]int64

// Lookup returns the cost of id, or ErrMissingCost.
func (t Table) Lookup(id egraph.NodeID) (int64, error) {
	c, ok := t[id]
	if !ok || c < 0 {
		return 0, errors.Wrapf(ErrMissingCost, "node n%d", id)
	}
	return c, nil
}

// Of prices one operator given its own summary and its children's.
//
//   - LDS, LDR, STS, STG move the whole tile once per loop iteration.
//   - WGMMA implicitly reloads every operand still in shared memory on each of its own
//     iterations; operands already in registers are free.
//   - Elementwise and Input move nothing.
func Of(kind tile.Kind, self tile.Summary, children []tile.Summary) (int64, error) {
	if len(children) != kind.Arity() {
		return 0, errors.Errorf("cost: %s expects %d children, got %d", kind, kind.Arity(), len(children))
	}
	switch kind {
	case tile.KindInput, tile.KindElementwise:
		return 0, nil
	case tile.KindLDS, tile.KindLDR, tile.KindSTS, tile.KindSTG:
		if !self.Known() {
			return 0, errors.Wrapf(ErrMissingCost, "%s has no summary", kind)
		}
		return self.Traffic(), nil
	case tile.KindWGMMA:
		if !self.Known() {
			return 0, errors.Wrapf(ErrMissingCost, "%s has no summary", kind)
		}
		var bytes int64
		for _, c := range children {
			if c.Mem == tile.MemShared {
				bytes += c.Bytes()
			}
		}
		return bytes * int64(self.LoopIters), nil
	}
	return 0, errors.Errorf("cost: unknown kind %d", kind)
}

// Node prices e-node id of g from the analysis summaries of its class and children.
func Node(g *egraph.EGraph, id egraph.NodeID) (int64, error) {
	n := g.Node(id)
	children := make([]tile.Summary, len(n.Children))
	for i, c := range n.Children {
		children[i] = g.Data(c)
	}
	c, err := Of(n.Kind, g.Data(g.NodeClass(id)), children)
	if err != nil {
		return 0, errors.WithMessagef(err, "node n%d", id)
	}
	return c, nil
}

// Compute prices every live e-node of g.
func Compute(g *egraph.EGraph) (Table, error) {
	table := make(Table, g.NumNodes())
	for _, cid := range g.ClassIDs() {
		for _, nid := range g.Class(cid).Nodes {
			c, err := Node(g, nid)
			if err != nil {
				return nil, err
			}
			table[nid] = c
		}
	}
	return table, nil
}

// Expr prices an expression as written, before any rewriting: every distinct
// sub-expression is paid for once.
func Expr(e *tile.Expr, accumBytes int) (int64, error) {
	summaries := make(map[*tile.Expr]tile.Summary)
	var total int64
	var err error
	e.Walk(func(x *tile.Expr) {
		if err != nil {
			return
		}
		children := make([]tile.Summary, len(x.Args))
		for i, a := range x.Args {
			children[i] = summaries[a]
		}
		var s tile.Summary
		if s, err = tile.Infer(x.Kind, x.Leaf, children, accumBytes); err != nil {
			return
		}
		summaries[x] = s
		var c int64
		if c, err = Of(x.Kind, s, children); err != nil {
			return
		}
		total += c
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "pricing %s", e)
	}
	return total, nil
}
