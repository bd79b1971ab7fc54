package extract

import (
	"math"

	"github.com/pkg/errors"

	"tileopt/egraph"
)

// Greedy picks, bottom-up, the member of each class with the lowest tree cost: its own cost
// plus the tree costs of its children, counting shared sub-programs once per use. It is
// fast and needs no solver, but is not optimal for DAGs; it is the baseline reported next
// to the ILP optimum. The returned Total is the DAG cost of the selection.
func Greedy(p *Problem) (*Solution, error) {
	best := make(map[egraph.ClassID]int64, len(p.Classes))
	choice := make(map[egraph.ClassID]int, len(p.Classes))

	for changed := true; changed; {
		changed = false
		for _, c := range p.Classes {
		members:
			for _, i := range p.Members(c) {
				n := p.Nodes[i]
				total := n.Cost
				for _, child := range n.Children {
					cc, ok := best[child]
					if !ok {
						continue members
					}
					if total > math.MaxInt64-cc {
						total = math.MaxInt64
						break
					}
					total += cc
				}
				if prev, ok := best[c]; !ok || total < prev {
					best[c] = total
					choice[c] = i
					changed = true
				}
			}
		}
	}
	if _, ok := best[p.Root]; !ok {
		return nil, errors.Wrapf(ErrInfeasible, "greedy: no finite program for e-class c%d", p.Root)
	}

	sel := make(selection)
	queue := []egraph.ClassID{p.Root}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if _, ok := sel[c]; ok {
			continue
		}
		sel[c] = choice[c]
		queue = append(queue, p.Nodes[choice[c]].Children...)
	}
	return p.solution(sel), nil
}
