package tile

import (
	"fmt"

	"github.com/pkg/errors"
)

// Summary is the metadata known about a tile: its logical shape, element width, where it
// lives and how many times the operation producing it executes.
//
// The zero value is the "unknown" summary: nothing has been derived yet.
type Summary struct {
	Rows       int
	Cols       int
	DTypeBytes int
	Mem        MemRegion
	LoopIters  int
}

// Known reports whether the summary has been derived.
func (s Summary) Known() bool {
	return s.Rows > 0
}

// Bytes is the size of one copy of the tile.
func (s Summary) Bytes() int64 {
	return int64(s.Rows) * int64(s.Cols) * int64(s.DTypeBytes)
}

// Traffic is the bytes moved when the whole tile is transferred once per loop iteration.
func (s Summary) Traffic() int64 {
	return s.Bytes() * int64(s.LoopIters)
}

func (s Summary) String() string {
	if !s.Known() {
		return "?"
	}
	return fmt.Sprintf("%dx%d %dB %s iters=%d", s.Rows, s.Cols, s.DTypeBytes, s.Mem, s.LoopIters)
}

// ErrShape is returned by Infer when a matmul's operands have incompatible inner dimensions.
var ErrShape = errors.New("tile: incompatible matmul operand shapes")

// Infer computes the summary produced by an operator of the given kind from its children's
// summaries. leaf is only used by KindInput. accumBytes is the element width of matmul
// accumulators.
//
// If any child summary is still unknown the result is unknown and no error is returned.
func Infer(kind Kind, leaf Spec, children []Summary, accumBytes int) (Summary, error) {
	if len(children) != kind.Arity() {
		return Summary{}, errors.Errorf("tile: %s expects %d children, got %d", kind, kind.Arity(), len(children))
	}
	for _, c := range children {
		if !c.Known() {
			return Summary{}, nil
		}
	}
	switch kind {
	case KindInput:
		if leaf.Rows <= 0 || leaf.Cols <= 0 || leaf.DTypeBytes <= 0 || leaf.LoopIters <= 0 {
			return Summary{}, errors.Errorf("tile: invalid input spec %s", leaf)
		}
		return Summary{
			Rows:       leaf.Rows,
			Cols:       leaf.Cols,
			DTypeBytes: leaf.DTypeBytes,
			Mem:        MemGlobal,
			LoopIters:  leaf.LoopIters,
		}, nil
	case KindLDS, KindSTS:
		return moved(children[0], MemShared), nil
	case KindLDR:
		return moved(children[0], MemRegisters), nil
	case KindSTG:
		return moved(children[0], MemGlobal), nil
	case KindElementwise:
		return children[0], nil
	case KindWGMMA:
		a, b := children[0], children[1]
		if a.Cols != b.Rows {
			return Summary{}, errors.Wrapf(ErrShape, "%dx%d @ %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
		}
		return Summary{
			Rows:       a.Rows,
			Cols:       b.Cols,
			DTypeBytes: accumBytes,
			Mem:        MemRegisters,
			LoopIters:  max(a.LoopIters, b.LoopIters),
		}, nil
	}
	return Summary{}, errors.Errorf("tile: unknown kind %d", kind)
}

func moved(s Summary, to MemRegion) Summary {
	s.Mem = to
	return s
}
