package tile

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindArity(t *testing.T) {
	want := map[Kind]int{
		KindInput:       0,
		KindLDS:         1,
		KindLDR:         1,
		KindWGMMA:       2,
		KindElementwise: 1,
		KindSTS:         1,
		KindSTG:         1,
	}
	for _, k := range Kinds() {
		require.Equal(t, want[k], k.Arity(), "arity of %s", k)
		parsed, ok := ParseKind(k.String())
		require.True(t, ok)
		require.Equal(t, k, parsed)
	}
	_, ok := ParseKind("Tile.Nope")
	require.False(t, ok)
}

func TestInfer(t *testing.T) {
	q := Spec{Name: "Q", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1}
	k := Spec{Name: "K", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8}

	qIn, err := Infer(KindInput, q, nil, 4)
	require.NoError(t, err)
	require.Equal(t, Summary{Rows: 128, Cols: 64, DTypeBytes: 2, Mem: MemGlobal, LoopIters: 1}, qIn)
	require.Equal(t, int64(16384), qIn.Bytes())

	qSmem, err := Infer(KindLDS, Spec{}, []Summary{qIn}, 4)
	require.NoError(t, err)
	require.Equal(t, MemShared, qSmem.Mem)

	qReg, err := Infer(KindLDR, Spec{}, []Summary{qSmem}, 4)
	require.NoError(t, err)
	require.Equal(t, MemRegisters, qReg.Mem)
	require.Equal(t, 1, qReg.LoopIters)

	kIn, err := Infer(KindInput, k, nil, 4)
	require.NoError(t, err)
	kSmem, err := Infer(KindLDS, Spec{}, []Summary{kIn}, 4)
	require.NoError(t, err)

	qk, err := Infer(KindWGMMA, Spec{}, []Summary{qSmem, kSmem}, 4)
	require.NoError(t, err)
	require.Equal(t, Summary{Rows: 128, Cols: 128, DTypeBytes: 4, Mem: MemRegisters, LoopIters: 8}, qk)

	ew, err := Infer(KindElementwise, Spec{}, []Summary{qk}, 4)
	require.NoError(t, err)
	require.Equal(t, qk, ew)

	sts, err := Infer(KindSTS, Spec{}, []Summary{qk}, 4)
	require.NoError(t, err)
	require.Equal(t, MemShared, sts.Mem)
	stg, err := Infer(KindSTG, Spec{}, []Summary{sts}, 4)
	require.NoError(t, err)
	require.Equal(t, MemGlobal, stg.Mem)

	// Unknown children propagate as unknown.
	unknown, err := Infer(KindLDS, Spec{}, []Summary{{}}, 4)
	require.NoError(t, err)
	require.False(t, unknown.Known())

	// Inner dimension mismatch.
	_, err = Infer(KindWGMMA, Spec{}, []Summary{qSmem, qSmem}, 4)
	require.True(t, errors.Is(err, ErrShape))

	_, err = Infer(KindLDS, Spec{}, nil, 4)
	require.Error(t, err)
	_, err = Infer(KindInput, Spec{Name: "bad"}, nil, 4)
	require.Error(t, err)
}

func TestExprString(t *testing.T) {
	q := Input(Spec{Name: "Q", Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1})
	k := Input(Spec{Name: "K", Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8})
	e := STG(STS(Elementwise(WGMMA(LDS(q), LDS(k)))))
	require.Equal(t, "STG(STS(Elementwise(WGMMA(LDS(Q), LDS(K)))))", e.String())

	var kinds []Kind
	shared := LDS(q)
	WGMMA(shared, shared).Walk(func(x *Expr) { kinds = append(kinds, x.Kind) })
	require.Equal(t, []Kind{KindInput, KindLDS, KindWGMMA}, kinds)
}
