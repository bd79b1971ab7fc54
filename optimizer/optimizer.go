// Package optimizer runs the whole pipeline on one kernel: build the naive program, saturate
// it with the rewrite rules, price every e-node and extract all minimum-traffic programs.
package optimizer

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tileopt/analysis"
	"tileopt/config"
	"tileopt/cost"
	"tileopt/egraph"
	"tileopt/extract"
	"tileopt/kernels"
	"tileopt/rewrite"
	"tileopt/serialize"
	"tileopt/tile"
)

// Result is everything a run produced. It is only returned when every stage succeeded.
type Result struct {
	Config config.Config
	// Program is the naive kernel as written.
	Program   *tile.Expr
	NaiveCost int64

	Graph  *egraph.EGraph
	Root   egraph.ClassID
	Report rewrite.Report
	Costs  cost.Table

	Problem   *extract.Problem
	Solutions []*extract.Solution
	// Stopped is set when more optimal solutions existed than Config.MaxSolutions.
	Stopped bool
	Tags    map[egraph.NodeID]extract.Selection
	// Greedy is the tree-cost baseline.
	Greedy *extract.Solution

	// Weights is the attention-weights class, -1 for kernels without one.
	Weights egraph.ClassID
	// Variants are the member programs of Weights.
	Variants []string
}

// Best is the first optimal solution.
func (r *Result) Best() *extract.Solution { return r.Solutions[0] }

// Saving is the traffic the optimum saves over the naive program.
func (r *Result) Saving() int64 { return r.NaiveCost - r.Best().Total }

// build returns the naive program of the configured kernel and, for attention, its weights
// sub-expression.
func build(c config.Config) (out, weights *tile.Expr) {
	if c.Kernel == config.KernelGEMM {
		return kernels.GEMM(c.Spec("A"), c.Spec("B")), nil
	}
	return kernels.Attention(c.Spec("Q"), c.Spec("K"), c.Spec("V"))
}

// Run optimizes the kernel described by c. solver may be nil for the default
// branch-and-bound.
func Run(c config.Config, solver extract.Solver) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.WithMessage(err, "optimizer: invalid config")
	}
	r := &Result{Config: c, Weights: -1}
	var weights *tile.Expr
	r.Program, weights = build(c)

	var err error
	if r.NaiveCost, err = cost.Expr(r.Program, c.AccumDTypeBytes); err != nil {
		return nil, errors.WithMessage(err, "optimizer: pricing the naive program")
	}
	klog.V(1).Infof("optimizer: naive program %s costs %s B", r.Program, humanize.Comma(r.NaiveCost))

	r.Graph = egraph.New(analysis.New(c.AccumDTypeBytes))
	if r.Root, err = r.Graph.AddExpr(r.Program); err != nil {
		return nil, errors.WithMessage(err, "optimizer: building the e-graph")
	}
	if weights != nil {
		// Hash-consing returns the class the program already holds.
		if r.Weights, err = r.Graph.AddExpr(weights); err != nil {
			return nil, errors.WithMessage(err, "optimizer: locating the weights class")
		}
	}

	runner := rewrite.NewRunner()
	runner.MaxIterations = c.MaxIterations
	if r.Report, err = runner.Run(r.Graph); err != nil {
		return nil, err
	}
	if err := r.Report.Err(); err != nil {
		klog.Warningf("optimizer: %v, extracting from the partial e-graph", err)
	}
	klog.V(1).Infof("optimizer: %s, %d classes, %d nodes", r.Report, r.Graph.NumClasses(), r.Graph.NumNodes())
	r.Root = r.Graph.Find(r.Root)
	if r.Weights >= 0 {
		r.Weights = r.Graph.Find(r.Weights)
		r.Variants = Variants(r.Graph, r.Weights)
	}

	if r.Costs, err = cost.Compute(r.Graph); err != nil {
		return nil, err
	}
	if r.Problem, err = extract.FromEGraph(r.Graph, r.Costs, r.Root); err != nil {
		return nil, err
	}
	it := extract.AllOptimal(r.Problem, extract.Options{MaxSolutions: c.MaxSolutions, Solver: solver})
	if r.Solutions, err = extract.Collect(it); err != nil {
		return nil, err
	}
	r.Stopped = it.Stopped()
	r.Tags = extract.Tag(r.Problem, r.Solutions)
	if r.Greedy, err = extract.Greedy(r.Problem); err != nil {
		return nil, err
	}
	klog.V(1).Infof("optimizer: %d optimal solution(s) at %s B, greedy %s B",
		len(r.Solutions), humanize.Comma(r.Best().Total), humanize.Comma(r.Greedy.Total))
	return r, nil
}

// Variants lists one program per member of class c, each child class expanded through its
// first member.
func Variants(g *egraph.EGraph, c egraph.ClassID) []string {
	c = g.Find(c)
	var out []string
	for _, id := range g.Class(c).Nodes {
		var sb strings.Builder
		expandNode(g, id, map[egraph.ClassID]bool{c: true}, &sb)
		out = append(out, sb.String())
	}
	return out
}

func expandNode(g *egraph.EGraph, id egraph.NodeID, onPath map[egraph.ClassID]bool, sb *strings.Builder) {
	n := g.Node(id)
	if n.Kind == tile.KindInput {
		sb.WriteString(n.Leaf.Name)
		return
	}
	sb.WriteString(n.Kind.Short())
	sb.WriteByte('(')
	for i, child := range n.Children {
		if i > 0 {
			sb.WriteString(", ")
		}
		child = g.Find(child)
		if onPath[child] {
			fmt.Fprintf(sb, "c%d", child)
			continue
		}
		onPath[child] = true
		expandNode(g, g.Class(child).Nodes[0], onPath, sb)
		delete(onPath, child)
	}
	sb.WriteByte(')')
}

// Encode serializes the saturated e-graph.
func (r *Result) Encode() (*serialize.Graph, error) {
	return serialize.Encode(r.Graph, r.Costs, r.Root)
}

// Export describes the best solution.
func (r *Result) Export() *serialize.Export {
	return serialize.NewExport(r.Problem, serialize.EGraphNames{}, r.Best(), r.Tags, len(r.Solutions))
}

// Summary is a human-readable report of the run.
func (r *Result) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "config:     %s\n", r.Config)
	fmt.Fprintf(&sb, "naive:      %s\n", r.Program)
	fmt.Fprintf(&sb, "            %s B (%s)\n", humanize.Comma(r.NaiveCost), humanize.Bytes(uint64(r.NaiveCost)))
	fmt.Fprintf(&sb, "saturation: %s\n", r.Report)
	for _, name := range ruleNames(r.Report) {
		fmt.Fprintf(&sb, "            %s: %d\n", name, r.Report.PerRule[name])
	}
	fmt.Fprintf(&sb, "e-graph:    %d classes, %d nodes\n", r.Graph.NumClasses(), r.Graph.NumNodes())
	if r.Weights >= 0 {
		fmt.Fprintf(&sb, "weights c%d: %s\n", r.Weights, strings.Join(r.Variants, " | "))
	}
	best := r.Best()
	fmt.Fprintf(&sb, "optimum:    %s B (%s), saves %s B\n",
		humanize.Comma(best.Total), humanize.Bytes(uint64(best.Total)), humanize.Comma(r.Saving()))
	fmt.Fprintf(&sb, "greedy:     %s B\n", humanize.Comma(r.Greedy.Total))
	more := ""
	if r.Stopped {
		more = " (more exist)"
	}
	fmt.Fprintf(&sb, "solutions:  %d%s\n", len(r.Solutions), more)
	for i, s := range r.Solutions {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, extract.Format(r.Problem, s))
	}
	return sb.String()
}

func ruleNames(r rewrite.Report) []string {
	var names []string
	for _, rule := range rewrite.DefaultRules() {
		if _, ok := r.PerRule[rule.Name]; ok {
			names = append(names, rule.Name)
		}
	}
	return names
}
