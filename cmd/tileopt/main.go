// tileopt optimizes the memory traffic of tile programs by equality saturation and
// exact extraction.
//
//	tileopt run [--config tiles.yaml] [--out dir]
//	tileopt extract egraph.json [extraction.json]
//	tileopt visualize egraph.json [extraction.json]
package main

import (
	"flag"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var rootCmd = &cobra.Command{
	Use:   "tileopt",
	Short: "Minimize memory traffic of tile programs with e-graphs",
	Long: `tileopt rewrites a tile program into every equivalent form reachable with its
rewrite rules, then extracts the forms that move the fewest bytes.

Subcommands:
  run        - optimize a kernel described by a tile configuration
  extract    - extract from a serialized e-graph
  visualize  - render a serialized e-graph, optionally with an extraction`,
	SilenceUsage: true,
}

func main() {
	fs := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(fs)
	rootCmd.PersistentFlags().AddGoFlagSet(fs)
	defer klog.Flush()

	if err := rootCmd.Execute(); err != nil {
		klog.Exitf("tileopt: %v", err)
	}
}
