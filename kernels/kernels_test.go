package kernels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tileopt/tile"
)

func TestAttention(t *testing.T) {
	q := tile.Spec{Name: "Q", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1}
	k := tile.Spec{Name: "K", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8}
	v := tile.Spec{Name: "V", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 8}
	out, weights := Attention(q, k, v)
	require.Equal(t, "STG(STS(WGMMA(Elementwise(WGMMA(LDS(Q), LDS(K))), LDS(V))))", out.String())
	require.Equal(t, "Elementwise(WGMMA(LDS(Q), LDS(K)))", weights.String())
	require.Same(t, weights, out.Args[0].Args[0].Args[0])
}

func TestGEMM(t *testing.T) {
	a := tile.Spec{Name: "A", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1}
	b := tile.Spec{Name: "B", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 4}
	require.Equal(t, "STG(STS(WGMMA(LDS(A), LDS(B))))", GEMM(a, b).String())
}
