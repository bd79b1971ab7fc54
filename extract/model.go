package extract

import (
	"fmt"
	"sort"
	"strings"

	"tileopt/egraph"
	"tileopt/internal/util"
)

// Sense is the relation of a linear constraint.
type Sense int8

const (
	LE Sense = iota // sum <= rhs
	EQ              // sum == rhs
	GE              // sum >= rhs
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case EQ:
		return "=="
	}
	return ">="
}

// Term is coef * x[Var].
type Term struct {
	Var  int
	Coef int64
}

// Row is a linear constraint over binary variables.
type Row struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   int64
}

// Model is a 0-1 integer program: minimize Objective·x subject to Rows, x binary.
type Model struct {
	NumVars   int
	Objective []int64
	Rows      []Row
}

// AddRow appends r with duplicate variables merged and zero coefficients dropped.
func (m *Model) AddRow(r Row) {
	coefs := make(map[int]int64, len(r.Terms))
	for _, t := range r.Terms {
		coefs[t.Var] += t.Coef
	}
	terms := make([]Term, 0, len(coefs))
	for v, c := range coefs {
		if c != 0 {
			terms = append(terms, Term{Var: v, Coef: c})
		}
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Var < terms[j].Var })
	r.Terms = terms
	m.Rows = append(m.Rows, r)
}

// Value is the objective at x.
func (m *Model) Value(x []bool) int64 {
	var v int64
	for i, on := range x {
		if on {
			v += m.Objective[i]
		}
	}
	return v
}

// Feasible reports whether x satisfies every row.
func (m *Model) Feasible(x []bool) bool {
	for _, r := range m.Rows {
		var lhs int64
		for _, t := range r.Terms {
			if x[t.Var] {
				lhs += t.Coef
			}
		}
		switch r.Sense {
		case LE:
			if lhs > r.RHS {
				return false
			}
		case EQ:
			if lhs != r.RHS {
				return false
			}
		case GE:
			if lhs < r.RHS {
				return false
			}
		}
	}
	return true
}

func (m *Model) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "min")
	for i, c := range m.Objective {
		if c != 0 {
			fmt.Fprintf(&sb, " %+d x%d", c, i)
		}
	}
	sb.WriteByte('\n')
	for _, r := range m.Rows {
		fmt.Fprintf(&sb, "  %s:", r.Name)
		for _, t := range r.Terms {
			fmt.Fprintf(&sb, " %+d x%d", t.Coef, t.Var)
		}
		fmt.Fprintf(&sb, " %s %d\n", r.Sense, r.RHS)
	}
	return sb.String()
}

// model is the extraction program of a Problem. Variable i < len(p.Nodes) is x for
// p.Nodes[i]; variable len(p.Nodes)+j is y for p.Classes[j].
type model struct {
	*Model
	p        *Problem
	classVar map[egraph.ClassID]int
}

func newModel(p *Problem) *model {
	n := len(p.Nodes)
	m := &model{
		Model: &Model{
			NumVars:   n + len(p.Classes),
			Objective: make([]int64, n+len(p.Classes)),
		},
		p:        p,
		classVar: make(map[egraph.ClassID]int, len(p.Classes)),
	}
	for j, c := range p.Classes {
		m.classVar[c] = n + j
	}
	for i, node := range p.Nodes {
		m.Objective[i] = node.Cost
	}

	m.AddRow(Row{Name: "root", Terms: []Term{{m.classVar[p.Root], 1}}, Sense: EQ, RHS: 1})

	parents := make(map[egraph.ClassID][]int)
	for _, c := range p.Classes {
		// One member per active class.
		terms := []Term{{m.classVar[c], -1}}
		for _, i := range p.Members(c) {
			terms = append(terms, Term{i, 1})
		}
		m.AddRow(Row{Name: fmt.Sprintf("one_c%d", c), Terms: terms, Sense: EQ})
	}
	for i, node := range p.Nodes {
		selfLoop := false
		for _, child := range util.Unique(node.Children) {
			if child == node.Class {
				selfLoop = true
				continue
			}
			// A chosen node activates its children.
			m.AddRow(Row{
				Name:  fmt.Sprintf("child_n%d_c%d", node.ID, child),
				Terms: []Term{{i, 1}, {m.classVar[child], -1}},
				Sense: LE,
			})
			parents[child] = append(parents[child], i)
		}
		if selfLoop {
			m.AddRow(Row{Name: fmt.Sprintf("selfloop_n%d", node.ID), Terms: []Term{{i, 1}}, Sense: LE})
		}
	}
	for _, c := range p.Classes {
		if c == p.Root {
			continue
		}
		// A class is only active if some chosen node needs it.
		terms := []Term{{m.classVar[c], 1}}
		for _, i := range parents[c] {
			terms = append(terms, Term{i, -1})
		}
		m.AddRow(Row{Name: fmt.Sprintf("needed_c%d", c), Terms: terms, Sense: LE})
	}
	return m
}

// cycleCut forbids choosing every node of a cycle at once.
func (m *model) cycleCut(cycle []int) {
	terms := make([]Term, len(cycle))
	for k, i := range cycle {
		terms[k] = Term{i, 1}
	}
	m.AddRow(Row{Name: fmt.Sprintf("cycle%d", len(m.Rows)), Terms: terms, Sense: LE, RHS: int64(len(cycle) - 1)})
}

// fixObjective restricts the search to selections costing exactly total.
func (m *model) fixObjective(total int64) {
	var terms []Term
	for i := range m.p.Nodes {
		if m.Objective[i] != 0 {
			terms = append(terms, Term{i, m.Objective[i]})
		}
	}
	m.AddRow(Row{Name: "optimum", Terms: terms, Sense: EQ, RHS: total})
}

// noGood forbids exactly the given selection of nodes.
func (m *model) noGood(chosen []int) {
	terms := make([]Term, len(chosen))
	for k, i := range chosen {
		terms[k] = Term{i, 1}
	}
	m.AddRow(Row{Name: fmt.Sprintf("nogood%d", len(m.Rows)), Terms: terms, Sense: LE, RHS: int64(len(chosen) - 1)})
}

// chosen returns the node variables set in x, in index order.
func (m *model) chosen(x []bool) []int {
	var out []int
	for i := range m.p.Nodes {
		if x[i] {
			out = append(out, i)
		}
	}
	return out
}
