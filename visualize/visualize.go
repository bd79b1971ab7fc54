// Package visualize draws serialized e-graphs as Graphviz DOT, one cluster per e-class, with
// the nodes of an extraction highlighted.
package visualize

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"tileopt/internal/util"
	"tileopt/serialize"
	"tileopt/tile"
)

// Colors used for nodes.
const (
	ColorSelected    = "palegreen"
	ColorAlternative = "lightgray"
	ColorRoot        = "tomato"
)

// Options controls what is highlighted.
type Options struct {
	// Title is printed in the legend.
	Title string
	// Selected holds the serialized ids of the chosen nodes. Empty means nothing is chosen.
	Selected map[string]bool
	// Tags maps node ids to "always", "sometimes" or "never", shown under the op.
	Tags map[string]string
	// Costs overrides the node costs; nil means serialize.TrafficCosts(g).
	Costs map[string]int64
}

// checkGraphviz verifies that the 'dot' command is available.
func checkGraphviz() error {
	if _, err := exec.LookPath("dot"); err != nil {
		return errors.New("graphviz 'dot' command not found, please install graphviz")
	}
	return nil
}

// Render converts a .dot file to .png using Graphviz.
func Render(dotFile, pngFile string) error {
	if err := checkGraphviz(); err != nil {
		return err
	}
	cmd := exec.Command("dot", "-Tpng", dotFile, "-o", pngFile)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "graphviz error, output: %s", output)
	}
	if _, err := os.Stat(pngFile); os.IsNotExist(err) {
		return errors.Errorf("PNG file was not created: %s", pngFile)
	}
	return nil
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// escape makes s safe inside a double-quoted DOT string. Line breaks are added after
// escaping, so the "\n" separators survive.
func escape(s string) string {
	return dotEscaper.Replace(s)
}

// nodeID turns a serialized id into a quoted DOT identifier.
func nodeID(id string) string {
	return `"n_` + escape(id) + `"`
}

func classLabel(ec string, s tile.Summary, price int64) string {
	label := escape(ec)
	if s.Known() {
		label += fmt.Sprintf("\\n%dx%d %dB %s ×%d", s.Rows, s.Cols, s.DTypeBytes,
			strings.TrimPrefix(s.Mem.String(), "MemRegion."), s.LoopIters)
	}
	if price > 0 {
		label += "\\n" + humanize.Bytes(uint64(price))
	}
	return label
}

// DOT renders the tile nodes of g. Property and literal nodes are omitted; input names are
// folded into the input's label. Without opts.Costs the costs are recomputed from the
// property nodes, and a graph that cannot be priced is an error.
func DOT(g *serialize.Graph, opts Options) (string, error) {
	costs := opts.Costs
	if costs == nil {
		var err error
		if costs, err = serialize.TrafficCosts(g); err != nil {
			return "", errors.Wrap(err, "pricing e-graph")
		}
	}
	summaries := g.Summaries()

	classes := make(map[string][]string)
	for _, id := range util.SortedKeys(g.Nodes) {
		if _, ok := tile.ParseKind(g.Nodes[id].Op); ok {
			ec := g.Nodes[id].EClass
			classes[ec] = append(classes[ec], id)
		}
	}
	roots := make(map[string]bool)
	for _, r := range g.RootEClasses {
		roots[r] = true
	}

	var sb strings.Builder
	sb.WriteString("digraph EGraph {\n")
	sb.WriteString("  compound=true;\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=\"rounded,filled\", fontname=\"Arial\"];\n")
	sb.WriteString("  edge [fontname=\"Arial\", fontsize=10];\n\n")

	var total int64
	for i, ec := range util.SortedKeys(classes) {
		// A class is priced by its chosen node, or by its cheapest member.
		price := int64(-1)
		for _, id := range classes[ec] {
			c := costs[id]
			if opts.Selected[id] {
				price = c
				total += c
				break
			}
			if price < 0 || c < price {
				price = c
			}
		}

		sb.WriteString(fmt.Sprintf("  subgraph cluster_%d {\n", i))
		sb.WriteString(fmt.Sprintf("    label=\"%s\";\n", classLabel(ec, summaries[ec], price)))
		sb.WriteString("    style=rounded;\n")
		if roots[ec] {
			sb.WriteString("    color=\"red\";\n")
		}
		for _, id := range classes[ec] {
			n := g.Nodes[id]
			label := escape(strings.TrimPrefix(n.Op, "Tile."))
			if n.Op == tile.KindInput.String() && len(n.Children) > 0 {
				label = escape(inputName(g.Nodes[n.Children[0]].Op))
			}
			if c := costs[id]; c > 0 {
				label += "\\n" + humanize.Comma(c) + " B"
			}
			if tag, ok := opts.Tags[id]; ok {
				label += "\\n(" + escape(tag) + ")"
			}
			color := "white"
			if len(opts.Selected) > 0 {
				color = ColorAlternative
				if opts.Selected[id] {
					color = ColorSelected
					if roots[ec] {
						color = ColorRoot
					}
				}
			}
			sb.WriteString(fmt.Sprintf("    %s [label=\"%s\", fillcolor=\"%s\"];\n", nodeID(id), label, color))
		}
		sb.WriteString("  }\n\n")
	}

	clusterOf := make(map[string]int)
	for i, ec := range util.SortedKeys(classes) {
		clusterOf[ec] = i
	}
	for _, ec := range util.SortedKeys(classes) {
		for _, id := range classes[ec] {
			for pos, child := range g.Nodes[id].Children {
				cec := g.Nodes[child].EClass
				members, ok := classes[cec]
				if !ok {
					continue
				}
				attrs := fmt.Sprintf("lhead=cluster_%d", clusterOf[cec])
				if g.Nodes[id].Op == tile.KindWGMMA.String() {
					side := "A"
					if pos == 1 {
						side = "B"
					}
					attrs += fmt.Sprintf(", label=\"%s\"", side)
				}
				if opts.Selected[id] {
					attrs += ", penwidth=2"
				} else if len(opts.Selected) > 0 {
					attrs += ", style=dashed, color=gray"
				}
				sb.WriteString(fmt.Sprintf("  %s -> %s [%s];\n", nodeID(id), nodeID(members[0]), attrs))
			}
		}
	}

	legend := "selected: green, alternative: gray, root: red"
	if opts.Title != "" {
		legend = escape(opts.Title) + "\\n" + legend
	}
	if len(opts.Selected) > 0 {
		legend += fmt.Sprintf("\\ntotal traffic: %s (%s B)", humanize.Bytes(uint64(total)), humanize.Comma(total))
	}
	sb.WriteString(fmt.Sprintf("\n  legend [shape=note, fillcolor=\"lightyellow\", label=\"%s\"];\n", legend))
	sb.WriteString("}\n")
	return sb.String(), nil
}

// inputName decodes the quoted name literal of an input.
func inputName(op string) string {
	if name, err := strconv.Unquote(op); err == nil {
		return name
	}
	return strings.Trim(op, `"`)
}

// WriteDOT writes DOT(g, opts) to dotFile and, when pngFile is not empty, renders it.
// A missing Graphviz installation only fails the rendering step.
func WriteDOT(g *serialize.Graph, opts Options, dotFile, pngFile string) error {
	dot, err := DOT(g, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dotFile, []byte(dot), 0644); err != nil {
		return errors.Wrap(err, "writing DOT file")
	}
	if pngFile == "" {
		return nil
	}
	return Render(dotFile, pngFile)
}
