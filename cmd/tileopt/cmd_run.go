package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"tileopt/config"
	"tileopt/extract"
	"tileopt/optimizer"
	"tileopt/serialize"
	"tileopt/visualize"
)

var (
	runConfigPath    string
	runOutDir        string
	runMaxIterations int
	runMaxSolutions  int
	runNoLP          bool
	runPNG           bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Optimize a kernel",
	Long: `Build the naive kernel program, saturate it, and extract every minimum-traffic
program. Without --config the attention block with Q 128x64, K 64x128 and V 128x64
fp16 tiles is optimized.

Output files (in --out):
  egraph.json      - the saturated e-graph with costs and tile properties
  extraction.json  - the best program, its transactions and selection tags
  egraph.dot       - the e-graph with the best program highlighted

Examples:
  tileopt run
  tileopt run --config tiles.yaml --out results --png
  tileopt run --max-solutions 1 -v 1`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "tile configuration (YAML or JSON)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "", "directory for output files, none written if empty")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "saturation budget, overrides the config")
	runCmd.Flags().IntVar(&runMaxSolutions, "max-solutions", 0, "bound on enumerated optima, overrides the config")
	runCmd.Flags().BoolVar(&runNoLP, "no-lp", false, "bound the search without LP relaxations")
	runCmd.Flags().BoolVar(&runPNG, "png", false, "render egraph.png with Graphviz")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if runConfigPath != "" {
		var err error
		if c, err = config.Load(runConfigPath); err != nil {
			return err
		}
	}
	if runMaxIterations > 0 {
		c.MaxIterations = runMaxIterations
	}
	if runMaxSolutions > 0 {
		c.MaxSolutions = runMaxSolutions
	}

	r, err := optimizer.Run(c, &extract.BranchAndBound{DisableLP: runNoLP})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), r.Summary())

	if runOutDir == "" {
		return nil
	}
	if err := os.MkdirAll(runOutDir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	enc, err := r.Encode()
	if err != nil {
		return err
	}
	egraphFile := filepath.Join(runOutDir, "egraph.json")
	if err := serialize.WriteGraph(egraphFile, enc); err != nil {
		return err
	}
	export := r.Export()
	if err := serialize.WriteExport(filepath.Join(runOutDir, "extraction.json"), export); err != nil {
		return err
	}
	klog.Infof("run %s: wrote %s and extraction.json", export.RunID, egraphFile)

	pngFile := ""
	if runPNG {
		pngFile = filepath.Join(runOutDir, "egraph.png")
	}
	opts := visualize.Options{Title: r.Config.String(), Selected: selectedNodes(export), Tags: export.Tags}
	if err := visualize.WriteDOT(enc, opts, filepath.Join(runOutDir, "egraph.dot"), pngFile); err != nil {
		// The DOT file is kept when only rendering failed.
		klog.Warningf("could not render the e-graph: %v", err)
	}
	return nil
}

func selectedNodes(e *serialize.Export) map[string]bool {
	selected := make(map[string]bool, len(e.Choices))
	for _, choice := range e.Choices {
		selected[choice.Node] = true
	}
	return selected
}
