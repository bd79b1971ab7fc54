package serialize

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"tileopt/cost"
	"tileopt/tile"
)

// classProps is the summary of one tile e-class as read back from its property nodes.
// A class without a ·.loop_iters node runs once.
type classProps struct {
	rows, cols, dtype int
	iters             int
	mem               tile.MemRegion
}

// missing names the first shape property p lacks, or "" when it has them all.
func (p classProps) missing() string {
	switch {
	case p.rows <= 0:
		return PropRows
	case p.cols <= 0:
		return PropCols
	case p.dtype <= 0:
		return PropDTypeBytes
	}
	return ""
}

func (p classProps) bytes() int64 {
	return int64(p.rows) * int64(p.cols) * int64(p.dtype)
}

// properties collects the property nodes of every tile e-class.
func (g *Graph) properties() map[string]*classProps {
	values := make(map[string]int)
	mems := make(map[string]tile.MemRegion)
	for _, n := range g.Nodes {
		if v, err := strconv.Atoi(n.Op); err == nil {
			values[n.EClass] = v
		}
		if m, ok := tile.ParseMemRegion(n.Op); ok {
			mems[n.EClass] = m
		}
	}

	props := make(map[string]*classProps)
	get := func(ec string) *classProps {
		p, ok := props[ec]
		if !ok {
			p = &classProps{iters: 1}
			props[ec] = p
		}
		return p
	}
	for _, n := range g.Nodes {
		if len(n.Children) != 1 {
			continue
		}
		child, ok := g.Nodes[n.Children[0]]
		if !ok {
			continue
		}
		v, isValue := values[n.EClass]
		switch n.Op {
		case PropRows:
			if isValue {
				get(child.EClass).rows = v
			}
		case PropCols:
			if isValue {
				get(child.EClass).cols = v
			}
		case PropDTypeBytes:
			if isValue {
				get(child.EClass).dtype = v
			}
		case PropLoopIters:
			if isValue {
				get(child.EClass).iters = v
			}
		case PropMemRegion:
			get(child.EClass).mem = mems[n.EClass]
		}
	}
	return props
}

// Summaries returns the summary of every tile e-class as recorded by its property nodes.
func (g *Graph) Summaries() map[string]tile.Summary {
	out := make(map[string]tile.Summary)
	for ec, p := range g.properties() {
		out[ec] = tile.Summary{Rows: p.rows, Cols: p.cols, DTypeBytes: p.dtype, Mem: p.mem, LoopIters: p.iters}
	}
	return out
}

// TrafficCosts recomputes the byte cost of every node from the property nodes alone, the
// same way cost.Of does from live summaries. Nodes that move no data map to 0. A tile node
// whose e-class lacks a shape property, or a WGMMA operand without a memory region, cannot
// be priced: the error wraps cost.ErrMissingCost.
func TrafficCosts(g *Graph) (map[string]int64, error) {
	props := g.properties()
	prop := func(ec string) classProps {
		if p, ok := props[ec]; ok {
			return *p
		}
		return classProps{iters: 1}
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	costs := make(map[string]int64, len(g.Nodes))
	for _, id := range ids {
		n := g.Nodes[id]
		kind, ok := tile.ParseKind(n.Op)
		if !ok {
			costs[id] = 0
			continue
		}
		self := prop(n.EClass)
		if field := self.missing(); field != "" {
			return nil, errors.Wrapf(cost.ErrMissingCost, "node %q: e-class %q has no %s", id, n.EClass, field)
		}
		switch kind {
		case tile.KindLDS, tile.KindLDR, tile.KindSTS, tile.KindSTG:
			costs[id] = self.bytes() * int64(self.iters)
		case tile.KindWGMMA:
			var c int64
			for _, child := range n.Children {
				ec := g.Nodes[child].EClass
				operand := prop(ec)
				if operand.mem == tile.MemUnknown {
					return nil, errors.Wrapf(cost.ErrMissingCost, "node %q: operand e-class %q has no %s", id, ec, PropMemRegion)
				}
				if operand.mem == tile.MemShared {
					if field := operand.missing(); field != "" {
						return nil, errors.Wrapf(cost.ErrMissingCost, "node %q: operand e-class %q has no %s", id, ec, field)
					}
					c += operand.bytes()
				}
			}
			costs[id] = c * int64(self.iters)
		default:
			costs[id] = 0
		}
	}
	return costs, nil
}
