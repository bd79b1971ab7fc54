package tile

import "strings"

// Expr is a tree (or DAG, when sub-expressions are shared) of tile operations.
// It is the form in which programs enter the optimizer and leave the extractor.
type Expr struct {
	Kind Kind
	// Leaf is set only for KindInput.
	Leaf Spec
	Args []*Expr
}

// Input creates a named tile in global memory.
func Input(spec Spec) *Expr {
	return &Expr{Kind: KindInput, Leaf: spec}
}

// LDS loads src from global into shared memory.
func LDS(src *Expr) *Expr { return &Expr{Kind: KindLDS, Args: []*Expr{src}} }

// LDR loads src from shared memory into registers.
func LDR(src *Expr) *Expr { return &Expr{Kind: KindLDR, Args: []*Expr{src}} }

// WGMMA multiplies a by b.
func WGMMA(a, b *Expr) *Expr { return &Expr{Kind: KindWGMMA, Args: []*Expr{a, b}} }

// Elementwise applies a pure compute operation to src.
func Elementwise(src *Expr) *Expr { return &Expr{Kind: KindElementwise, Args: []*Expr{src}} }

// STS stores src from registers into shared memory.
func STS(src *Expr) *Expr { return &Expr{Kind: KindSTS, Args: []*Expr{src}} }

// STG stores src from shared into global memory.
func STG(src *Expr) *Expr { return &Expr{Kind: KindSTG, Args: []*Expr{src}} }

// String prints the expression as nested calls, e.g. "STG(STS(WGMMA(LDS(Q), LDS(K))))".
func (e *Expr) String() string {
	var sb strings.Builder
	e.write(&sb)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder) {
	if e == nil {
		sb.WriteString("<nil>")
		return
	}
	if e.Kind == KindInput {
		sb.WriteString(e.Leaf.Name)
		return
	}
	sb.WriteString(e.Kind.Short())
	sb.WriteByte('(')
	for i, arg := range e.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		arg.write(sb)
	}
	sb.WriteByte(')')
}

// Walk visits e and its arguments in post-order. Shared sub-expressions are visited once.
func (e *Expr) Walk(fn func(*Expr)) {
	seen := make(map[*Expr]bool)
	var visit func(*Expr)
	visit = func(x *Expr) {
		if x == nil || seen[x] {
			return
		}
		seen[x] = true
		for _, arg := range x.Args {
			visit(arg)
		}
		fn(x)
	}
	visit(e)
}
