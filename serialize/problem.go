package serialize

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tileopt/egraph"
	"tileopt/extract"
	"tileopt/internal/util"
	"tileopt/tile"
)

// Names maps the integer ids of a problem built from a serialized graph back to the
// serialized ids.
type Names struct {
	Classes []string
	Nodes   []string
	Ops     []string
}

// Namer names classes and nodes for export.
type Namer interface {
	ClassName(egraph.ClassID) string
	NodeName(egraph.NodeID) string
}

// ClassName implements Namer.
func (n *Names) ClassName(id egraph.ClassID) string { return n.Classes[id] }

// NodeName implements Namer.
func (n *Names) NodeName(id egraph.NodeID) string { return n.Nodes[id] }

// EGraphNames names classes and nodes the way Encode does.
type EGraphNames struct{}

// ClassName implements Namer.
func (EGraphNames) ClassName(id egraph.ClassID) string { return ClassName(id) }

// NodeName implements Namer.
func (EGraphNames) NodeName(id egraph.NodeID) string { return NodeName(id) }

// Problem builds the extraction problem of g: its tile nodes only, property and literal
// nodes filtered out. costs overrides the serialized node costs where present (typically
// TrafficCosts(g)). Classes and nodes are numbered in sorted id order.
func (g *Graph) Problem(costs map[string]int64) (*extract.Problem, *Names, error) {
	if len(g.RootEClasses) == 0 {
		return nil, nil, errors.New("serialize: graph has no root e-class")
	}
	names := &Names{}
	classIDs := make(map[string]egraph.ClassID)
	var tileNodes []string
	for id, n := range g.Nodes {
		if _, ok := tile.ParseKind(n.Op); ok {
			tileNodes = append(tileNodes, id)
			classIDs[n.EClass] = 0
		}
	}
	sort.Strings(tileNodes)
	for _, ec := range util.SortedKeys(classIDs) {
		classIDs[ec] = egraph.ClassID(len(names.Classes))
		names.Classes = append(names.Classes, ec)
	}

	root, ok := classIDs[g.RootEClasses[0]]
	if !ok {
		return nil, nil, errors.Errorf("serialize: root %q is not a tile e-class", g.RootEClasses[0])
	}

	nodes := make([]extract.Node, 0, len(tileNodes))
	for i, id := range tileNodes {
		n := g.Nodes[id]
		price, ok := costs[id]
		if !ok {
			price = int64(math.Round(n.Cost))
		}
		node := extract.Node{
			ID:    egraph.NodeID(i),
			Class: classIDs[n.EClass],
			Cost:  price,
			Label: strings.TrimPrefix(n.Op, "Tile."),
		}
		for _, child := range n.Children {
			cn := g.Nodes[child]
			if c, ok := classIDs[cn.EClass]; ok {
				node.Children = append(node.Children, c)
			} else if n.Op == tile.KindInput.String() && node.Label == "input" {
				// The first literal child of an input is its name.
				if name, err := strconv.Unquote(cn.Op); err == nil {
					node.Label = name
				}
			}
		}
		nodes = append(nodes, node)
		names.Nodes = append(names.Nodes, id)
		names.Ops = append(names.Ops, n.Op)
	}
	p, err := extract.NewProblem(root, nodes)
	if err != nil {
		return nil, nil, err
	}
	return p, names, nil
}
