package extract

import "tileopt/egraph"

// selection maps each active class to the variable index of its chosen node.
type selection map[egraph.ClassID]int

func (p *Problem) selectionOf(x []bool) selection {
	sel := make(selection)
	for i, n := range p.Nodes {
		if x[i] {
			sel[n.Class] = i
		}
	}
	return sel
}

// findCycle returns the variable indices of the chosen nodes along a cycle of sel, or nil
// if the selection is acyclic. Classes are visited in ascending order so the same cycle is
// reported on every run.
func (p *Problem) findCycle(sel selection) []int {
	const (
		white = iota
		grey
		black
	)
	color := make(map[egraph.ClassID]int, len(sel))
	var stack []egraph.ClassID
	var cycle []int

	var visit func(c egraph.ClassID) bool
	visit = func(c egraph.ClassID) bool {
		color[c] = grey
		stack = append(stack, c)
		for _, child := range p.Nodes[sel[c]].Children {
			if _, ok := sel[child]; !ok {
				continue
			}
			switch color[child] {
			case grey:
				for k := len(stack) - 1; k >= 0; k-- {
					cycle = append(cycle, sel[stack[k]])
					if stack[k] == child {
						break
					}
				}
				return true
			case white:
				if visit(child) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[c] = black
		return false
	}
	for _, c := range p.Classes {
		if _, ok := sel[c]; ok && color[c] == white {
			if visit(c) {
				return cycle
			}
		}
	}
	return nil
}
