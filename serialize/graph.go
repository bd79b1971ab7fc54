// Package serialize reads and writes e-graphs in the egglog-style JSON consumed by the
// inspection and rendering tools, and writes extraction results.
//
// Every tile e-class carries its analysis summary as property nodes ("·.rows", "·.cols",
// "·.dtype_bytes", "·.loop_iters", "·.mem_region"). A property node's e-class is the value
// it stands for, which also holds the literal value node ("128", "MemRegion.SHARED").
package serialize

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tileopt/cost"
	"tileopt/egraph"
	"tileopt/internal/util"
	"tileopt/tile"
)

// Node is one serialized e-node. Children are node ids; the child e-class is the e-class of
// the referenced node.
type Node struct {
	Op       string   `json:"op"`
	Children []string `json:"children"`
	EClass   string   `json:"eclass"`
	Cost     float64  `json:"cost"`
	Subsumed bool     `json:"subsumed,omitempty"`
}

// ClassData describes an e-class.
type ClassData struct {
	Type string `json:"type"`
}

// Graph is a serialized e-graph.
type Graph struct {
	Nodes        map[string]Node      `json:"nodes"`
	RootEClasses []string             `json:"root_eclasses"`
	ClassData    map[string]ClassData `json:"class_data"`
}

// Property ops.
const (
	PropRows       = "·.rows"
	PropCols       = "·.cols"
	PropDTypeBytes = "·.dtype_bytes"
	PropLoopIters  = "·.loop_iters"
	PropMemRegion  = "·.mem_region"
)

// ClassName is the serialized e-class id of an e-graph class.
func ClassName(id egraph.ClassID) string { return fmt.Sprintf("Tile-%d", id) }

// NodeName is the serialized node id of an e-graph node.
func NodeName(id egraph.NodeID) string { return fmt.Sprintf("Tile-n%d", id) }

type encoder struct {
	out *Graph
}

func (e *encoder) add(id string, n Node, typ string) {
	if n.Children == nil {
		n.Children = []string{}
	}
	e.out.Nodes[id] = n
	e.out.ClassData[n.EClass] = ClassData{Type: typ}
}

// intValue returns the node id of the literal v, adding it if needed.
func (e *encoder) intValue(v int) string {
	id := fmt.Sprintf("i64-%d", v)
	if _, ok := e.out.Nodes[id]; !ok {
		e.add(id, Node{Op: strconv.Itoa(v), EClass: id}, "i64")
	}
	return id
}

func (e *encoder) stringValue(s string) string {
	id := "String-" + s
	if _, ok := e.out.Nodes[id]; !ok {
		e.add(id, Node{Op: strconv.Quote(s), EClass: id}, "String")
	}
	return id
}

func (e *encoder) memValue(m tile.MemRegion) string {
	id := m.String()
	if _, ok := e.out.Nodes[id]; !ok {
		e.add(id, Node{Op: id, EClass: "MemRegion-" + strings.TrimPrefix(id, "MemRegion.")}, "MemRegion")
	}
	return id
}

// Encode serializes g, pricing tile nodes with table. Only classes reachable from the roots
// are written.
func Encode(g *egraph.EGraph, table cost.Table, roots ...egraph.ClassID) (*Graph, error) {
	e := &encoder{out: &Graph{
		Nodes:     make(map[string]Node),
		ClassData: make(map[string]ClassData),
	}}

	reachable := make(map[egraph.ClassID]bool)
	var queue []egraph.ClassID
	for _, r := range roots {
		r = g.Find(r)
		e.out.RootEClasses = append(e.out.RootEClasses, ClassName(r))
		if !reachable[r] {
			reachable[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, nid := range g.Class(c).Nodes {
			for _, child := range g.Node(nid).Children {
				child = g.Find(child)
				if !reachable[child] {
					reachable[child] = true
					queue = append(queue, child)
				}
			}
		}
	}

	for _, c := range g.ClassIDs() {
		if !reachable[c] {
			continue
		}
		cls := g.Class(c)
		for _, nid := range cls.Nodes {
			n := g.Node(nid)
			price, err := table.Lookup(nid)
			if err != nil {
				return nil, err
			}
			var children []string
			if n.Kind == tile.KindInput {
				children = []string{
					e.stringValue(n.Leaf.Name),
					e.intValue(n.Leaf.Rows),
					e.intValue(n.Leaf.Cols),
					e.intValue(n.Leaf.DTypeBytes),
				}
			}
			for _, child := range n.Children {
				children = append(children, NodeName(g.Class(child).Nodes[0]))
			}
			e.add(NodeName(nid), Node{Op: n.Kind.String(), Children: children, EClass: ClassName(c), Cost: float64(price)}, "Tile")
		}

		data := cls.Data
		if !data.Known() {
			return nil, errors.Errorf("serialize: e-class c%d has no summary", c)
		}
		self := []string{NodeName(cls.Nodes[0])}
		for _, prop := range []struct {
			op    string
			value int
		}{
			{PropRows, data.Rows},
			{PropCols, data.Cols},
			{PropDTypeBytes, data.DTypeBytes},
			{PropLoopIters, data.LoopIters},
		} {
			v := e.intValue(prop.value)
			e.add(fmt.Sprintf("%s%s", ClassName(c), prop.op), Node{Op: prop.op, Children: self, EClass: e.out.Nodes[v].EClass}, "i64")
		}
		mem := e.memValue(data.Mem)
		e.add(ClassName(c)+PropMemRegion, Node{Op: PropMemRegion, Children: self, EClass: e.out.Nodes[mem].EClass}, "MemRegion")
	}
	return e.out, nil
}

// ReadGraph loads a serialized e-graph from filename.
func ReadGraph(filename string) (*Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading e-graph file")
	}
	g, err := Decode(data)
	return g, errors.Wrapf(err, "decoding %s", filename)
}

// Decode parses a serialized e-graph and checks that it has a root, that every child
// reference resolves and that every tile node has as many tile children as its kind takes.
// Inputs carry their name and shape as literal children; other tile nodes have tile
// children only.
func Decode(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, "parsing e-graph JSON")
	}
	if len(g.RootEClasses) == 0 {
		return nil, errors.New("serialize: graph has no root e-class")
	}
	for _, id := range util.SortedKeys(g.Nodes) {
		n := g.Nodes[id]
		kind, isTile := tile.ParseKind(n.Op)
		var tiles int
		for _, child := range n.Children {
			cn, ok := g.Nodes[child]
			if !ok {
				return nil, errors.Errorf("serialize: node %q refers to unknown node %q", id, child)
			}
			if _, ok := tile.ParseKind(cn.Op); ok {
				tiles++
			} else if isTile && kind != tile.KindInput {
				return nil, errors.Errorf("serialize: %s node %q has non-tile child %q", n.Op, id, child)
			}
		}
		if isTile && tiles != kind.Arity() {
			return nil, errors.Errorf("serialize: %s node %q has %d tile children, want %d", n.Op, id, tiles, kind.Arity())
		}
	}
	return &g, nil
}

// WriteGraph saves g to filename as indented JSON.
func WriteGraph(filename string, g *Graph) error {
	return writeJSON(filename, g)
}

func writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling JSON")
	}
	return errors.Wrapf(os.WriteFile(filename, data, 0644), "writing %s", filename)
}
