// Package rewrite drives equality saturation: it matches rule patterns against the e-graph,
// inserts the right-hand sides into the matched classes and rebuilds, round after round,
// until nothing changes or the iteration budget runs out.
package rewrite

import (
	"strings"

	"github.com/pkg/errors"

	"tileopt/egraph"
	"tileopt/tile"
)

// Pattern is either a variable (Var != "") that binds any e-class, or an operator applied
// to sub-patterns.
type Pattern struct {
	Var  string
	Kind tile.Kind
	Args []*Pattern
}

// P builds an operator pattern.
func P(kind tile.Kind, args ...*Pattern) *Pattern {
	return &Pattern{Kind: kind, Args: args}
}

// V builds a pattern variable.
func V(name string) *Pattern {
	return &Pattern{Var: name}
}

func (p *Pattern) String() string {
	if p.Var != "" {
		return "?" + p.Var
	}
	parts := make([]string, len(p.Args))
	for i, a := range p.Args {
		parts[i] = a.String()
	}
	return p.Kind.Short() + "(" + strings.Join(parts, ", ") + ")"
}

// Vars lists the pattern variables in first-occurrence order.
func (p *Pattern) Vars() []string {
	var vars []string
	seen := make(map[string]bool)
	var walk func(*Pattern)
	walk = func(q *Pattern) {
		if q.Var != "" {
			if !seen[q.Var] {
				seen[q.Var] = true
				vars = append(vars, q.Var)
			}
			return
		}
		for _, a := range q.Args {
			walk(a)
		}
	}
	walk(p)
	return vars
}

// Subst binds pattern variables to e-classes.
type Subst map[string]egraph.ClassID

func (s Subst) clone() Subst {
	c := make(Subst, len(s)+1)
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Match is one occurrence of a pattern: the e-class its root matched and the bindings.
type Match struct {
	Class egraph.ClassID
	Subst Subst
}

// Search returns every match of p in g, in class-id order. p must not be a bare variable.
func Search(g *egraph.EGraph, p *Pattern) []Match {
	var matches []Match
	for _, id := range g.ClassIDs() {
		for _, s := range matchClass(g, p, id, Subst{}) {
			matches = append(matches, Match{Class: id, Subst: s})
		}
	}
	return matches
}

// matchClass returns every extension of s under which p matches some member of class id.
func matchClass(g *egraph.EGraph, p *Pattern, id egraph.ClassID, s Subst) []Subst {
	id = g.Find(id)
	if p.Var != "" {
		if bound, ok := s[p.Var]; ok {
			if g.Find(bound) == id {
				return []Subst{s}
			}
			return nil
		}
		s = s.clone()
		s[p.Var] = id
		return []Subst{s}
	}
	var out []Subst
	for _, nid := range g.Class(id).Nodes {
		n := g.Node(nid)
		if n.Kind != p.Kind || len(n.Children) != len(p.Args) {
			continue
		}
		partial := []Subst{s}
		for i, arg := range p.Args {
			var next []Subst
			for _, ps := range partial {
				next = append(next, matchClass(g, arg, n.Children[i], ps)...)
			}
			partial = next
			if len(partial) == 0 {
				break
			}
		}
		out = append(out, partial...)
	}
	return out
}

// instantiate adds p under s to g and returns its class. added counts nodes that did not
// exist before.
func instantiate(g *egraph.EGraph, p *Pattern, s Subst, added *int) (egraph.ClassID, error) {
	if p.Var != "" {
		id, ok := s[p.Var]
		if !ok {
			return -1, errors.Errorf("rewrite: variable ?%s is unbound", p.Var)
		}
		return g.Find(id), nil
	}
	children := make([]egraph.ClassID, len(p.Args))
	for i, arg := range p.Args {
		id, err := instantiate(g, arg, s, added)
		if err != nil {
			return -1, err
		}
		children[i] = id
	}
	n := egraph.Node{Kind: p.Kind, Children: children}
	if _, ok := g.Lookup(n); !ok {
		*added++
	}
	return g.Add(n)
}
