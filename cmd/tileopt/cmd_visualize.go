package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"tileopt/serialize"
	"tileopt/visualize"
)

var (
	visualizeOutput string
	visualizePNG    bool
)

var visualizeCmd = &cobra.Command{
	Use:   "visualize EGRAPH [EXTRACTION]",
	Short: "Render a serialized e-graph as Graphviz DOT",
	Long: `Draw one cluster per e-class. With an extraction file the chosen nodes are
green, the root red and the alternatives gray, and the legend shows the total traffic.

Examples:
  tileopt visualize egraph.json
  tileopt visualize egraph.json extraction.json --png`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runVisualize,
}

func init() {
	visualizeCmd.Flags().StringVarP(&visualizeOutput, "output", "o", "", "DOT file, defaults to EGRAPH with a .dot extension")
	visualizeCmd.Flags().BoolVar(&visualizePNG, "png", false, "render a PNG next to the DOT file with Graphviz")
	rootCmd.AddCommand(visualizeCmd)
}

func runVisualize(cmd *cobra.Command, args []string) error {
	g, err := serialize.ReadGraph(args[0])
	if err != nil {
		return err
	}
	opts := visualize.Options{Title: filepath.Base(args[0])}
	if len(args) == 2 {
		e, err := serialize.ReadExport(args[1])
		if err != nil {
			return err
		}
		opts.Selected = selectedNodes(e)
		opts.Tags = e.Tags
		opts.Title += fmt.Sprintf(" (run %s)", e.RunID)
	}

	dotFile := visualizeOutput
	if dotFile == "" {
		dotFile = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".dot"
	}
	pngFile := ""
	if visualizePNG {
		pngFile = strings.TrimSuffix(dotFile, filepath.Ext(dotFile)) + ".png"
	}
	if err := visualize.WriteDOT(g, opts, dotFile, pngFile); err != nil {
		if pngFile != "" {
			klog.Warningf("could not render PNG: %v", err)
			fmt.Fprintf(cmd.OutOrStdout(), "Or manually convert: dot -Tpng %s -o %s\n", dotFile, pngFile)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created DOT file: %s\n", dotFile)
	if pngFile != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s\n", pngFile)
	}
	return nil
}
