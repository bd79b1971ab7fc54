// Package egraph implements an e-graph over the tile language: hash-consed e-nodes grouped
// into e-classes under a union-find, with congruence closure restored by Rebuild and a
// per-class analysis summary kept at a fixpoint.
//
// E-nodes and e-classes live in flat arenas and refer to each other only by index; every
// class reference goes through Find before use.
package egraph

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tileopt/internal/util"
	"tileopt/tile"
)

// ClassID names an e-class. Ids of merged classes stay valid: Find maps them to the
// surviving canonical id.
type ClassID int

// NodeID indexes an e-node in the arena.
type NodeID int

// Node is one operator applied to child e-classes.
type Node struct {
	Kind tile.Kind
	// Leaf identifies an input tile; only set for tile.KindInput.
	Leaf     tile.Spec
	Children []ClassID
}

// Class is an equivalence class of e-nodes.
type Class struct {
	ID ClassID
	// Nodes are the live members, in insertion order.
	Nodes []NodeID
	// Parents are nodes that have this class as a child. May contain dead nodes and
	// duplicates until the next Rebuild.
	Parents []NodeID
	Data    tile.Summary
}

// nodeKey is the hash-consing key of a node with canonical children.
type nodeKey struct {
	kind tile.Kind
	leaf tile.Spec
	a, b ClassID
}

func keyOf(n Node) nodeKey {
	k := nodeKey{kind: n.Kind, leaf: n.Leaf, a: -1, b: -1}
	if len(n.Children) > 0 {
		k.a = n.Children[0]
	}
	if len(n.Children) > 1 {
		k.b = n.Children[1]
	}
	return k
}

// EGraph owns all e-nodes and e-classes of one optimization run. It is not safe for
// concurrent use.
type EGraph struct {
	analysis Analysis

	nodes     []Node
	nodeClass []ClassID
	nodeKeys  []nodeKey
	dead      []bool

	parent []ClassID
	rank   []uint8

	classes map[ClassID]*Class
	memo    map[nodeKey]NodeID
	pending []ClassID

	unions int
}

// New creates an empty e-graph whose class summaries are maintained by analysis.
func New(analysis Analysis) *EGraph {
	return &EGraph{
		analysis: analysis,
		classes:  make(map[ClassID]*Class),
		memo:     make(map[nodeKey]NodeID),
	}
}

// Find returns the canonical id of the class containing id.
func (g *EGraph) Find(id ClassID) ClassID {
	root := id
	for g.parent[root] != root {
		root = g.parent[root]
	}
	for id != root {
		next := g.parent[id]
		g.parent[id] = root
		id = next
	}
	return root
}

func (g *EGraph) canonical(n Node) Node {
	children := make([]ClassID, len(n.Children))
	for i, c := range n.Children {
		children[i] = g.Find(c)
	}
	n.Children = children
	if n.Kind != tile.KindInput {
		n.Leaf = tile.Spec{}
	}
	return n
}

// Lookup returns the class of a node structurally identical to n, if there is one.
func (g *EGraph) Lookup(n Node) (ClassID, bool) {
	if len(n.Children) != n.Kind.Arity() {
		return -1, false
	}
	nid, ok := g.memo[keyOf(g.canonical(n))]
	if !ok {
		return -1, false
	}
	return g.Find(g.nodeClass[nid]), true
}

// Add inserts n and returns its class. If an identical node already exists its class is
// returned and nothing is added.
func (g *EGraph) Add(n Node) (ClassID, error) {
	if len(n.Children) != n.Kind.Arity() {
		return -1, errors.Errorf("egraph: %s expects %d children, got %d", n.Kind, n.Kind.Arity(), len(n.Children))
	}
	for _, c := range n.Children {
		if c < 0 || int(c) >= len(g.parent) {
			return -1, errors.Errorf("egraph: %s refers to unknown e-class %d", n.Kind, c)
		}
	}
	n = g.canonical(n)
	k := keyOf(n)
	if nid, ok := g.memo[k]; ok {
		return g.Find(g.nodeClass[nid]), nil
	}
	data, err := g.analysis.Make(g, n)
	if err != nil {
		return -1, &AnalysisConflict{Node: -1, Kind: n.Kind, Err: err}
	}

	nid := NodeID(len(g.nodes))
	cid := ClassID(len(g.parent))
	g.nodes = append(g.nodes, n)
	g.nodeClass = append(g.nodeClass, cid)
	g.nodeKeys = append(g.nodeKeys, k)
	g.dead = append(g.dead, false)
	g.parent = append(g.parent, cid)
	g.rank = append(g.rank, 0)
	g.classes[cid] = &Class{ID: cid, Nodes: []NodeID{nid}, Data: data}
	for _, c := range util.Unique(n.Children) {
		cls := g.classes[c]
		cls.Parents = append(cls.Parents, nid)
	}
	g.memo[k] = nid
	klog.V(3).Infof("egraph: add n%d %s%v -> c%d (%s)", nid, n.Kind.Short(), n.Children, cid, data)
	return cid, nil
}

// AddExpr inserts every sub-expression of e and returns the class of e itself.
func (g *EGraph) AddExpr(e *tile.Expr) (ClassID, error) {
	added := make(map[*tile.Expr]ClassID)
	var add func(*tile.Expr) (ClassID, error)
	add = func(x *tile.Expr) (ClassID, error) {
		if id, ok := added[x]; ok {
			return id, nil
		}
		children := make([]ClassID, len(x.Args))
		for i, arg := range x.Args {
			id, err := add(arg)
			if err != nil {
				return -1, err
			}
			children[i] = id
		}
		id, err := g.Add(Node{Kind: x.Kind, Leaf: x.Leaf, Children: children})
		if err != nil {
			return -1, errors.WithMessagef(err, "adding %s", x)
		}
		added[x] = id
		return id, nil
	}
	return add(e)
}

// Union merges the classes of a and b and returns the canonical id of the result.
// Merging classes whose summaries cannot be joined returns an *AnalysisConflict and leaves
// the graph unchanged. Call Rebuild to restore congruence afterwards.
func (g *EGraph) Union(a, b ClassID) (ClassID, error) {
	ra, rb := g.Find(a), g.Find(b)
	if ra == rb {
		return ra, nil
	}
	ca, cb := g.classes[ra], g.classes[rb]
	joined, err := g.analysis.Join(ca.Data, cb.Data)
	if err != nil {
		return ra, &AnalysisConflict{Classes: []ClassID{ra, rb}, Node: -1, Err: err}
	}

	// union by rank
	if g.rank[ra] < g.rank[rb] {
		ra, rb = rb, ra
		ca, cb = cb, ca
	}
	g.parent[rb] = ra
	if g.rank[ra] == g.rank[rb] {
		g.rank[ra]++
	}
	ca.Nodes = append(ca.Nodes, cb.Nodes...)
	ca.Parents = append(ca.Parents, cb.Parents...)
	ca.Data = joined
	delete(g.classes, rb)

	g.pending = append(g.pending, ra)
	g.unions++
	klog.V(3).Infof("egraph: union c%d <- c%d", ra, rb)
	return ra, nil
}

// Rebuild restores the hash-consing and congruence invariants after unions: parents of
// merged classes are re-canonicalized, nodes that became identical are deduplicated and
// their classes merged (which may cascade), and then the analysis is run to a fixpoint.
func (g *EGraph) Rebuild() error {
	for len(g.pending) > 0 {
		todo := g.pending
		g.pending = nil
		repaired := make(map[ClassID]bool, len(todo))
		for _, id := range todo {
			c := g.Find(id)
			if repaired[c] {
				continue
			}
			repaired[c] = true
			if err := g.repair(c); err != nil {
				return err
			}
		}
	}
	return g.propagate()
}

func (g *EGraph) repair(c ClassID) error {
	cls := g.classes[c]
	parents := cls.Parents
	cls.Parents = nil

	kept := make([]NodeID, 0, len(parents))
	for _, p := range parents {
		if g.dead[p] {
			continue
		}
		if owner, ok := g.memo[g.nodeKeys[p]]; ok && owner == p {
			delete(g.memo, g.nodeKeys[p])
		}
		n := &g.nodes[p]
		for i, child := range n.Children {
			n.Children[i] = g.Find(child)
		}
		k := keyOf(*n)
		g.nodeKeys[p] = k

		if q, ok := g.memo[k]; ok && q != p {
			// Congruent duplicate: keep q, drop p and merge their classes.
			g.kill(p)
			if _, err := g.Union(g.nodeClass[p], g.nodeClass[q]); err != nil {
				return err
			}
			kept = append(kept, q)
			continue
		}
		g.memo[k] = p
		kept = append(kept, p)
	}

	root := g.classes[g.Find(c)]
	root.Parents = util.Unique(append(root.Parents, kept...))
	return nil
}

func (g *EGraph) kill(p NodeID) {
	g.dead[p] = true
	owner := g.classes[g.Find(g.nodeClass[p])]
	for i, nid := range owner.Nodes {
		if nid == p {
			owner.Nodes = append(owner.Nodes[:i], owner.Nodes[i+1:]...)
			break
		}
	}
}

// propagate recomputes every class summary from its members until nothing changes.
func (g *EGraph) propagate() error {
	for round := 1; ; round++ {
		changed := false
		for _, id := range g.ClassIDs() {
			cls := g.classes[id]
			for _, nid := range cls.Nodes {
				data, err := g.analysis.Make(g, g.nodes[nid])
				if err != nil {
					return &AnalysisConflict{Classes: []ClassID{id}, Node: nid, Kind: g.nodes[nid].Kind, Err: err}
				}
				joined, err := g.analysis.Join(cls.Data, data)
				if err != nil {
					return &AnalysisConflict{Classes: []ClassID{id}, Node: nid, Kind: g.nodes[nid].Kind, Err: err}
				}
				if joined != cls.Data {
					cls.Data = joined
					changed = true
				}
			}
		}
		if !changed {
			klog.V(3).Infof("egraph: analysis stable after %d sweep(s)", round)
			return nil
		}
	}
}

// ClassIDs returns the canonical class ids in ascending order.
func (g *EGraph) ClassIDs() []ClassID {
	return util.SortedKeys(g.classes)
}

// Class returns the canonical class containing id. The result must not be modified.
func (g *EGraph) Class(id ClassID) *Class {
	return g.classes[g.Find(id)]
}

// Data returns the analysis summary of the class containing id.
func (g *EGraph) Data(id ClassID) tile.Summary {
	return g.classes[g.Find(id)].Data
}

// Node returns the node with the given id. Children are canonical as of the last Rebuild.
func (g *EGraph) Node(id NodeID) Node {
	return g.nodes[id]
}

// NodeClass returns the canonical class owning node id.
func (g *EGraph) NodeClass(id NodeID) ClassID {
	return g.Find(g.nodeClass[id])
}

// NumClasses is the number of canonical classes.
func (g *EGraph) NumClasses() int {
	return len(g.classes)
}

// NumNodes is the number of live (non-duplicate) nodes.
func (g *EGraph) NumNodes() int {
	n := 0
	for _, d := range g.dead {
		if !d {
			n++
		}
	}
	return n
}

// Unions counts the merges performed so far, including those triggered by Rebuild.
func (g *EGraph) Unions() int {
	return g.unions
}

// Clean reports whether there are no pending repairs, i.e. Rebuild has been called after
// the last Union.
func (g *EGraph) Clean() bool {
	return len(g.pending) == 0
}

// String dumps the classes, their members and summaries, one class per line.
func (g *EGraph) String() string {
	var sb strings.Builder
	for _, id := range g.ClassIDs() {
		cls := g.classes[id]
		fmt.Fprintf(&sb, "c%d [%s]:", id, cls.Data)
		for _, nid := range cls.Nodes {
			fmt.Fprintf(&sb, " n%d=%s", nid, g.FormatNode(nid))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatNode prints a node with its children as class references, e.g. "WGMMA(c3, c5)".
func (g *EGraph) FormatNode(id NodeID) string {
	n := g.nodes[id]
	if n.Kind == tile.KindInput {
		return n.Leaf.Name
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = fmt.Sprintf("c%d", g.Find(c))
	}
	return fmt.Sprintf("%s(%s)", n.Kind.Short(), strings.Join(parts, ", "))
}
