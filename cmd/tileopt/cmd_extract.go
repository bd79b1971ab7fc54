package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tileopt/extract"
	"tileopt/serialize"
)

var (
	extractMaxSolutions int
	extractNoLP         bool
	extractGreedy       bool
)

var extractCmd = &cobra.Command{
	Use:   "extract EGRAPH [OUTPUT]",
	Short: "Extract the cheapest programs from a serialized e-graph",
	Long: `Read a serialized e-graph, recompute every node's cost from its tile properties,
and enumerate the minimum-traffic programs. With OUTPUT the first one is written as an
extraction file.

Examples:
  tileopt extract egraph.json
  tileopt extract egraph.json extraction.json --max-solutions 4`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVar(&extractMaxSolutions, "max-solutions", extract.DefaultMaxSolutions, "bound on enumerated optima")
	extractCmd.Flags().BoolVar(&extractNoLP, "no-lp", false, "bound the search without LP relaxations")
	extractCmd.Flags().BoolVar(&extractGreedy, "greedy", false, "also report the greedy tree-cost extraction")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	g, err := serialize.ReadGraph(args[0])
	if err != nil {
		return err
	}
	costs, err := serialize.TrafficCosts(g)
	if err != nil {
		return err
	}
	p, names, err := g.Problem(costs)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Problem: %d e-classes, %d e-nodes, root %s\n", len(p.Classes), len(p.Nodes), names.ClassName(p.Root))

	solver := &extract.BranchAndBound{DisableLP: extractNoLP}
	it := extract.AllOptimal(p, extract.Options{MaxSolutions: extractMaxSolutions, Solver: solver})
	sols, err := extract.Collect(it)
	if err != nil {
		return err
	}
	stats := solver.Stats()
	fmt.Fprintf(out, "Optimum: %s B (%s), %d solution(s)\n", humanize.Comma(it.Optimum()), humanize.Bytes(uint64(it.Optimum())), len(sols))
	if it.Stopped() {
		fmt.Fprintf(out, "  more optimal solutions exist, raise --max-solutions\n")
	}
	fmt.Fprintf(out, "  last solve: %d search node(s), %d LP solve(s), %d pruned\n", stats.Nodes, stats.LPSolves, stats.Pruned)
	for i, s := range sols {
		fmt.Fprintf(out, "  %d. %s\n", i+1, extract.Format(p, s))
	}
	if extractGreedy {
		greedy, err := extract.Greedy(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Greedy:  %s B  %s\n", humanize.Comma(greedy.Total), extract.Format(p, greedy))
	}

	if len(args) < 2 {
		return nil
	}
	e := serialize.NewExport(p, names, sols[0], extract.Tag(p, sols), len(sols))
	if err := serialize.WriteExport(args[1], e); err != nil {
		return err
	}
	fmt.Fprintf(out, "Extraction written to %s\n", args[1])
	return nil
}
