package rewrite

import (
	"tileopt/egraph"
	"tileopt/tile"
)

// Rule rewrites LHS into RHS. The RHS is added next to the matched node, never replacing
// it. Guard, if set, filters matches using the class summaries of the bindings.
type Rule struct {
	Name  string
	LHS   *Pattern
	RHS   *Pattern
	Guard func(g *egraph.EGraph, s Subst) bool
}

// InShared returns a guard that holds when variable v is bound to a tile in shared memory.
func InShared(v string) func(*egraph.EGraph, Subst) bool {
	return func(g *egraph.EGraph, s Subst) bool {
		return g.Data(s[v]).Mem == tile.MemShared
	}
}

// HoistElementwise moves an elementwise op applied to a matmul result onto the matmul's left
// operand, loaded into registers first:
//
//	Elementwise(WGMMA(a, b)) => WGMMA(Elementwise(LDR(a)), b)
//
// The elementwise op is linear in a. Only fires while a is still in shared memory, so it
// never stacks LDR(LDR(...)).
func HoistElementwise() Rule {
	return Rule{
		Name:  "hoist-elementwise",
		LHS:   P(tile.KindElementwise, P(tile.KindWGMMA, V("a"), V("b"))),
		RHS:   P(tile.KindWGMMA, P(tile.KindElementwise, P(tile.KindLDR, V("a"))), V("b")),
		Guard: InShared("a"),
	}
}

// ExplicitRegisterLoad loads a matmul's left operand into registers once instead of letting
// the matmul read it from shared memory on every iteration:
//
//	WGMMA(a, b) => WGMMA(LDR(a), b)
//
// Blocked once a is in registers, which is what makes saturation terminate.
func ExplicitRegisterLoad() Rule {
	return Rule{
		Name:  "explicit-register-load",
		LHS:   P(tile.KindWGMMA, V("a"), V("b")),
		RHS:   P(tile.KindWGMMA, P(tile.KindLDR, V("a")), V("b")),
		Guard: InShared("a"),
	}
}

// DefaultRules returns the tile-language rules in application order.
func DefaultRules() []Rule {
	return []Rule{HoistElementwise(), ExplicitRegisterLoad()}
}
