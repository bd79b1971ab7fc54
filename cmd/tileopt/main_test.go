package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileopt/serialize"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()

	out := execute(t, "run", "--out", dir)
	assert.Contains(t, out, "optimum:    1,081,344 B")
	assert.Contains(t, out, "solutions:  2\n")
	for _, name := range []string{"egraph.json", "extraction.json", "egraph.dot"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	run, err := serialize.ReadExport(filepath.Join(dir, "extraction.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(1_081_344), run.Total)

	egraphFile := filepath.Join(dir, "egraph.json")
	again := filepath.Join(dir, "again.json")
	out = execute(t, "extract", egraphFile, again, "--greedy")
	assert.Contains(t, out, "Problem: 13 e-classes, 15 e-nodes")
	assert.Contains(t, out, "Optimum: 1,081,344 B")
	assert.Contains(t, out, "2 solution(s)")
	assert.Contains(t, out, "Greedy:")
	e, err := serialize.ReadExport(again)
	require.NoError(t, err)
	assert.Equal(t, run.Total, e.Total)
	assert.Equal(t, run.Root, e.Root)

	dotFile := filepath.Join(dir, "selected.dot")
	out = execute(t, "visualize", egraphFile, again, "--output", dotFile)
	assert.Contains(t, out, "Created DOT file")
	data, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "total traffic")
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kernel: gemm
tiles:
  A: {rows: 128, cols: 64, dtype_bytes: 2, loop_iters: 1}
  B: {rows: 64, cols: 128, dtype_bytes: 2, loop_iters: 8}
`), 0644))
	out := execute(t, "run", "--config", path, "--out", "", "--no-lp")
	assert.Contains(t, out, "STG(STS(WGMMA(LDR(LDS(A)), LDS(B))))")
	assert.Contains(t, out, "1,343,488 B")
}
