// Package extract selects one e-node per e-class so that the chosen sub-graph is an acyclic
// program rooted at a given class with minimum total cost, and enumerates every selection
// tied for that minimum.
//
// Selection is an integer program over binary variables: x_n (node n chosen) and y_c
// (class c active). It is solved by a pluggable Solver; the default is a branch-and-bound
// over LP relaxations.
package extract

import (
	"sort"

	"github.com/pkg/errors"

	"tileopt/cost"
	"tileopt/egraph"
	"tileopt/internal/util"
)

// Node is one selectable e-node.
type Node struct {
	ID       egraph.NodeID
	Class    egraph.ClassID
	Children []egraph.ClassID
	Cost     int64
	// Label is how the node prints: the operator name, or the tile name for inputs.
	Label string
}

// Problem is the extraction input: the nodes of every class reachable from Root.
type Problem struct {
	Root egraph.ClassID
	// Nodes are ordered by class, then id. A node's index is its variable number.
	Nodes []Node
	// Classes are the reachable classes in ascending order.
	Classes []egraph.ClassID

	members map[egraph.ClassID][]int
	index   map[egraph.NodeID]int
}

// NewProblem builds a problem from candidate nodes, keeping only the classes reachable from
// root. Every child class of a kept node must have at least one member.
func NewProblem(root egraph.ClassID, nodes []Node) (*Problem, error) {
	byClass := make(map[egraph.ClassID][]Node)
	for _, n := range nodes {
		if n.Cost < 0 {
			return nil, errors.Wrapf(cost.ErrMissingCost, "node n%d has negative cost %d", n.ID, n.Cost)
		}
		byClass[n.Class] = append(byClass[n.Class], n)
	}
	if len(byClass[root]) == 0 {
		return nil, errors.Wrapf(ErrInfeasible, "root e-class c%d has no members", root)
	}

	reachable := map[egraph.ClassID]bool{root: true}
	queue := []egraph.ClassID{root}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, n := range byClass[c] {
			for _, child := range n.Children {
				if len(byClass[child]) == 0 {
					return nil, errors.Errorf("extract: node n%d refers to e-class c%d, which has no members", n.ID, child)
				}
				if !reachable[child] {
					reachable[child] = true
					queue = append(queue, child)
				}
			}
		}
	}

	p := &Problem{
		Root:    root,
		Classes: util.SortedKeys(reachable),
		members: make(map[egraph.ClassID][]int, len(reachable)),
		index:   make(map[egraph.NodeID]int),
	}
	for _, c := range p.Classes {
		members := append([]Node(nil), byClass[c]...)
		sort.SliceStable(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		for _, n := range members {
			if _, dup := p.index[n.ID]; dup {
				return nil, errors.Errorf("extract: duplicate node n%d", n.ID)
			}
			p.index[n.ID] = len(p.Nodes)
			p.members[c] = append(p.members[c], len(p.Nodes))
			p.Nodes = append(p.Nodes, n)
		}
	}
	return p, nil
}

// FromEGraph builds the problem for the classes of g reachable from root, priced by table.
// A reachable node missing from table is an error wrapping cost.ErrMissingCost.
func FromEGraph(g *egraph.EGraph, table cost.Table, root egraph.ClassID) (*Problem, error) {
	root = g.Find(root)
	var nodes []Node
	seen := map[egraph.ClassID]bool{root: true}
	queue := []egraph.ClassID{root}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, nid := range g.Class(c).Nodes {
			en := g.Node(nid)
			price, err := table.Lookup(nid)
			if err != nil {
				return nil, err
			}
			n := Node{ID: nid, Class: g.NodeClass(nid), Cost: price, Label: en.Kind.Short()}
			if en.Leaf.Name != "" {
				n.Label = en.Leaf.Name
			}
			for _, child := range en.Children {
				child = g.Find(child)
				n.Children = append(n.Children, child)
				if !seen[child] {
					seen[child] = true
					queue = append(queue, child)
				}
			}
			nodes = append(nodes, n)
		}
	}
	return NewProblem(root, nodes)
}

// Members returns the variable indices of the nodes of class c.
func (p *Problem) Members(c egraph.ClassID) []int {
	return p.members[c]
}

// Index returns the variable index of node id.
func (p *Problem) Index(id egraph.NodeID) (int, bool) {
	i, ok := p.index[id]
	return i, ok
}

// Node returns the node with the given id.
func (p *Problem) Node(id egraph.NodeID) (Node, bool) {
	i, ok := p.index[id]
	if !ok {
		return Node{}, false
	}
	return p.Nodes[i], true
}
