package extract

import (
	"github.com/pkg/errors"

	"tileopt/egraph"
	"tileopt/internal/util"
)

// Order returns the classes of s in dependency order: every class comes after the classes
// its chosen node reads. It fails if the selection is cyclic or incomplete.
func Order(p *Problem, s *Solution) ([]egraph.ClassID, error) {
	// Kahn's algorithm over the chosen nodes.
	inDegree := make(map[egraph.ClassID]int, len(s.Choices))
	dependents := make(map[egraph.ClassID][]egraph.ClassID, len(s.Choices))
	for _, c := range util.SortedKeys(s.Choices) {
		n, ok := p.Node(s.Choices[c])
		if !ok {
			return nil, errors.Errorf("extract: e-class c%d chooses unknown node n%d", c, s.Choices[c])
		}
		if n.Class != c {
			return nil, errors.Errorf("extract: e-class c%d chooses n%d, a member of c%d", c, n.ID, n.Class)
		}
		inDegree[c] = 0
		for _, child := range util.Unique(n.Children) {
			if _, ok := s.Choices[child]; !ok {
				return nil, errors.Errorf("extract: n%d needs e-class c%d, which has no choice", n.ID, child)
			}
			dependents[child] = append(dependents[child], c)
			inDegree[c]++
		}
	}

	queue := make([]egraph.ClassID, 0)
	for _, c := range util.SortedKeys(inDegree) {
		if inDegree[c] == 0 {
			queue = append(queue, c)
		}
	}
	order := make([]egraph.ClassID, 0, len(inDegree))
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		order = append(order, c)
		for _, dep := range dependents[c] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(inDegree) {
		return nil, errors.Errorf("extract: selection has a cycle through %d e-class(es)", len(inDegree)-len(order))
	}
	return order, nil
}

// Validate re-checks a solution against p independently of the solver: one chosen member
// per class, children chosen, no cycles, only classes the root needs, and Total equal to
// the sum of the chosen nodes' costs.
func Validate(p *Problem, s *Solution) error {
	if _, ok := s.Choices[p.Root]; !ok {
		return errors.Errorf("extract: root e-class c%d has no choice", p.Root)
	}
	order, err := Order(p, s)
	if err != nil {
		return err
	}

	needed := map[egraph.ClassID]bool{p.Root: true}
	var total int64
	for i := len(order) - 1; i >= 0; i-- {
		c := order[i]
		if !needed[c] {
			return errors.Errorf("extract: e-class c%d is chosen but not needed by the root", c)
		}
		n, _ := p.Node(s.Choices[c])
		if got := s.Costs[c]; got != n.Cost {
			return errors.Errorf("extract: e-class c%d records cost %d, node n%d costs %d", c, got, n.ID, n.Cost)
		}
		total += n.Cost
		for _, child := range n.Children {
			needed[child] = true
		}
	}
	if total != s.Total {
		return errors.Errorf("extract: total %d does not match the sum of chosen costs %d", s.Total, total)
	}
	return nil
}
