package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tileopt/egraph"
	"tileopt/internal/util"
)

// DefaultMaxSolutions bounds AllOptimal when Options.MaxSolutions is not set.
const DefaultMaxSolutions = 10

// Options configures extraction.
type Options struct {
	// MaxSolutions bounds the number of tied optima AllOptimal returns. Reaching it is a
	// soft stop (see Iterator.Stopped). 0 means DefaultMaxSolutions.
	MaxSolutions int
	// Solver discharges each integer program. nil means a new BranchAndBound.
	Solver Solver
}

func (o Options) solver() Solver {
	if o.Solver != nil {
		return o.Solver
	}
	return &BranchAndBound{}
}

func (o Options) maxSolutions() int {
	if o.MaxSolutions > 0 {
		return o.MaxSolutions
	}
	return DefaultMaxSolutions
}

// Solution is one extraction: a chosen node for every class reachable from Root through
// chosen nodes. It is not modified after being returned.
type Solution struct {
	Root    egraph.ClassID
	Choices map[egraph.ClassID]egraph.NodeID
	// Costs is the cost of the chosen node of each class.
	Costs map[egraph.ClassID]int64
	// Total is the sum of Costs: every class is paid for once, however many parents use it.
	Total int64
}

// Nodes returns the chosen node ids in ascending order.
func (s *Solution) Nodes() []egraph.NodeID {
	ids := make([]egraph.NodeID, 0, len(s.Choices))
	for _, id := range s.Choices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Problem) solution(sel selection) *Solution {
	s := &Solution{
		Root:    p.Root,
		Choices: make(map[egraph.ClassID]egraph.NodeID, len(sel)),
		Costs:   make(map[egraph.ClassID]int64, len(sel)),
	}
	for c, i := range sel {
		s.Choices[c] = p.Nodes[i].ID
		s.Costs[c] = p.Nodes[i].Cost
	}
	s.Total = util.Sum(s.Costs)
	return s
}

// Iterator enumerates the optimal solutions of a problem one solve at a time: the first
// step finds the optimum; every later step fixes the objective to it and forbids all
// selections already returned.
//
//	it := extract.AllOptimal(p, opts)
//	for it.Next() {
//		sol := it.Solution()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	p       *Problem
	m       *model
	solver  Solver
	max     int
	count   int
	optimum int64
	cur     *Solution
	err     error
	done    bool
	stopped bool
}

// AllOptimal returns an iterator over every minimum-cost solution of p.
func AllOptimal(p *Problem, opts Options) *Iterator {
	return &Iterator{
		p:      p,
		m:      newModel(p),
		solver: opts.solver(),
		max:    opts.maxSolutions(),
	}
}

// Next advances to the next optimal solution. It returns false when there are no more,
// when the MaxSolutions bound is reached, or on error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.count >= it.max {
		// Probe once so that Stopped only reports a bound that actually cut results.
		_, err := it.solve()
		switch {
		case err == nil:
			it.stopped = true
			klog.Warningf("extract: stopped after %d optimal solution(s), more exist", it.count)
		case !errors.Is(err, ErrInfeasible):
			it.err = err
		}
		it.done = true
		it.cur = nil
		return false
	}

	sel, err := it.solve()
	if err != nil {
		it.done = true
		it.cur = nil
		if it.count == 0 || !errors.Is(err, ErrInfeasible) {
			it.err = err
		}
		return false
	}
	sol := it.p.solution(sel)
	if it.count == 0 {
		it.optimum = sol.Total
		it.m.fixObjective(sol.Total)
	}
	chosen := make([]int, 0, len(sel))
	for _, i := range sel {
		chosen = append(chosen, i)
	}
	sort.Ints(chosen)
	it.m.noGood(chosen)
	it.count++
	it.cur = sol
	klog.V(1).Infof("extract: optimal solution %d: cost %d, %d class(es)", it.count, sol.Total, len(sel))
	return true
}

// solve runs the solver until it returns an acyclic selection, adding a cut for every
// cycle it finds along the way. Cuts stay in the model: they are valid for every later
// solve too.
func (it *Iterator) solve() (selection, error) {
	for {
		x, _, err := it.solver.Solve(it.m.Model)
		if err != nil {
			if errors.Is(err, ErrInfeasible) {
				return nil, err
			}
			return nil, errors.WithMessage(err, "extract: solver failed")
		}
		sel := it.p.selectionOf(x)
		cycle := it.p.findCycle(sel)
		if cycle == nil {
			return sel, nil
		}
		klog.V(2).Infof("extract: cutting cycle through %d node(s)", len(cycle))
		it.m.cycleCut(cycle)
	}
}

// Solution returns the solution found by the last successful Next.
func (it *Iterator) Solution() *Solution { return it.cur }

// Optimum is the minimum cost, valid once Next has returned true.
func (it *Iterator) Optimum() int64 { return it.optimum }

// Err returns the error that ended the iteration, if any. ErrInfeasible is only reported
// when not even one solution exists.
func (it *Iterator) Err() error { return it.err }

// Stopped reports whether the iteration ended at the MaxSolutions bound with more optimal
// solutions left.
func (it *Iterator) Stopped() bool { return it.stopped }

// Best returns one minimum-cost solution of p.
func Best(p *Problem, opts Options) (*Solution, error) {
	it := AllOptimal(p, opts)
	if it.Next() {
		return it.Solution(), nil
	}
	return nil, it.Err()
}

// Collect drains it.
func Collect(it *Iterator) ([]*Solution, error) {
	var sols []*Solution
	for it.Next() {
		sols = append(sols, it.Solution())
	}
	return sols, it.Err()
}

// Selection says how often a node is chosen across a set of solutions.
type Selection int

const (
	Never Selection = iota
	Sometimes
	Always
)

func (s Selection) String() string {
	switch s {
	case Always:
		return "always"
	case Sometimes:
		return "sometimes"
	}
	return "never"
}

// Tag classifies every node of p by how many of sols choose it.
func Tag(p *Problem, sols []*Solution) map[egraph.NodeID]Selection {
	counts := make(map[egraph.NodeID]int)
	for _, s := range sols {
		for _, id := range s.Choices {
			counts[id]++
		}
	}
	tags := make(map[egraph.NodeID]Selection, len(p.Nodes))
	for _, n := range p.Nodes {
		switch c := counts[n.ID]; {
		case c == 0:
			tags[n.ID] = Never
		case c == len(sols):
			tags[n.ID] = Always
		default:
			tags[n.ID] = Sometimes
		}
	}
	return tags
}

// Format prints the program a solution selects, starting at its root, e.g.
// "STG(STS(WGMMA(LDS(Q), LDS(K))))". Shared classes are printed at every use.
func Format(p *Problem, s *Solution) string {
	var sb strings.Builder
	var write func(c egraph.ClassID, depth int)
	write = func(c egraph.ClassID, depth int) {
		id, ok := s.Choices[c]
		if !ok || depth > len(p.Classes) {
			fmt.Fprintf(&sb, "<c%d>", c)
			return
		}
		n, _ := p.Node(id)
		sb.WriteString(n.Label)
		if len(n.Children) == 0 {
			return
		}
		sb.WriteByte('(')
		for i, child := range n.Children {
			if i > 0 {
				sb.WriteString(", ")
			}
			write(child, depth+1)
		}
		sb.WriteByte(')')
	}
	write(s.Root, 0)
	return sb.String()
}
