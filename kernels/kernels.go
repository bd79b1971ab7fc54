// Package kernels builds the initial, unoptimized tile programs fed to the optimizer.
package kernels

import "tileopt/tile"

// Attention is the naive single-head attention dataflow:
//
//	STG(STS(WGMMA(Elementwise(WGMMA(LDS(Q), LDS(K))), LDS(V))))
//
// It returns the program and its attention-weights sub-expression
// Elementwise(WGMMA(LDS(Q), LDS(K))), whose e-class is where the rewrites find
// alternatives.
func Attention(q, k, v tile.Spec) (out, weights *tile.Expr) {
	qs := tile.LDS(tile.Input(q))
	ks := tile.LDS(tile.Input(k))
	vs := tile.LDS(tile.Input(v))

	weights = tile.Elementwise(tile.WGMMA(qs, ks))
	out = tile.STG(tile.STS(tile.WGMMA(weights, vs)))
	return out, weights
}

// GEMM is a single matmul with both operands staged through shared memory:
//
//	STG(STS(WGMMA(LDS(A), LDS(B))))
func GEMM(a, b tile.Spec) *tile.Expr {
	return tile.STG(tile.STS(tile.WGMMA(tile.LDS(tile.Input(a)), tile.LDS(tile.Input(b)))))
}
