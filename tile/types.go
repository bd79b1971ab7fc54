// Package tile defines the dataflow language the optimizer rewrites: the closed set of
// operator kinds that move matrix tiles through the memory hierarchy (global memory, shared
// memory, registers) or compute on them, and the metadata each operator produces.
package tile

import "fmt"

// Kind is one operator of the tile language.
type Kind uint8

const (
	// KindInput is a named tile resident in global memory.
	KindInput Kind = iota
	// KindLDS loads a tile from global into shared memory.
	KindLDS
	// KindLDR loads a tile from shared memory into registers.
	KindLDR
	// KindWGMMA multiplies two tiles; the accumulator lands in registers.
	// Operands still in shared memory are loaded implicitly on every iteration.
	KindWGMMA
	// KindElementwise is pure compute on one tile, no data movement.
	KindElementwise
	// KindSTS stores a tile from registers into shared memory.
	KindSTS
	// KindSTG stores a tile from shared into global memory.
	KindSTG

	numKinds
)

var kindNames = [numKinds]string{
	KindInput:       "Tile.input",
	KindLDS:         "Tile.LDS",
	KindLDR:         "Tile.LDR",
	KindWGMMA:       "Tile.WGMMA",
	KindElementwise: "Tile.Elementwise",
	KindSTS:         "Tile.STS",
	KindSTG:         "Tile.STG",
}

// Kinds lists every operator kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := KindInput; k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Arity is the fixed number of child expressions of the kind.
func (k Kind) Arity() int {
	switch k {
	case KindInput:
		return 0
	case KindWGMMA:
		return 2
	case KindLDS, KindLDR, KindElementwise, KindSTS, KindSTG:
		return 1
	}
	panic(fmt.Sprintf("tile: unknown kind %d", k))
}

// IsTransfer reports whether the kind is one of the four explicit data movements.
func (k Kind) IsTransfer() bool {
	switch k {
	case KindLDS, KindLDR, KindSTS, KindSTG:
		return true
	}
	return false
}

// String returns the operator name used in serialized graphs, e.g. "Tile.LDS".
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Tile.Kind(%d)", k)
}

// Short returns the name without the "Tile." prefix, as used when printing expressions.
func (k Kind) Short() string {
	switch k {
	case KindInput:
		return "input"
	case KindLDS:
		return "LDS"
	case KindLDR:
		return "LDR"
	case KindWGMMA:
		return "WGMMA"
	case KindElementwise:
		return "Elementwise"
	case KindSTS:
		return "STS"
	case KindSTG:
		return "STG"
	}
	return k.String()
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// MemRegion is where a tile currently resides.
// The zero value is MemUnknown: the region has not been derived yet.
type MemRegion uint8

const (
	MemUnknown MemRegion = iota
	MemGlobal
	MemShared
	MemRegisters
)

// String returns the region name used in serialized graphs, e.g. "MemRegion.SHARED".
func (m MemRegion) String() string {
	switch m {
	case MemGlobal:
		return "MemRegion.GLOBAL"
	case MemShared:
		return "MemRegion.SHARED"
	case MemRegisters:
		return "MemRegion.REGISTERS"
	}
	return "MemRegion.UNKNOWN"
}

// ParseMemRegion is the inverse of MemRegion.String.
func ParseMemRegion(s string) (MemRegion, bool) {
	for _, m := range []MemRegion{MemGlobal, MemShared, MemRegisters} {
		if m.String() == s {
			return m, true
		}
	}
	return MemUnknown, false
}

// Spec describes a named input tile.
// Bytes = Rows * Cols * DTypeBytes; LoopIters is how many times the tile is streamed
// (1 = loaded once outside the main loop).
type Spec struct {
	Name       string
	Rows       int
	Cols       int
	DTypeBytes int
	LoopIters  int
}

// Bytes is the size of one copy of the tile.
func (s Spec) Bytes() int64 {
	return int64(s.Rows) * int64(s.Cols) * int64(s.DTypeBytes)
}

func (s Spec) String() string {
	return fmt.Sprintf("%s[%dx%d, %dB, iters=%d]", s.Name, s.Rows, s.Cols, s.DTypeBytes, s.LoopIters)
}
