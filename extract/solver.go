package extract

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
	"k8s.io/klog/v2"
)

var (
	// ErrInfeasible means no selection satisfies the constraints.
	ErrInfeasible = errors.New("extract: infeasible")
	// ErrNodeLimit means the solver gave up before proving optimality.
	ErrNodeLimit = errors.New("extract: search node limit reached")
)

// Solver finds a minimum-objective binary assignment of a Model. It returns ErrInfeasible
// when there is none. Solve must not modify m.
type Solver interface {
	Solve(m *Model) (x []bool, objective int64, err error)
}

// BranchAndBound is an exact 0-1 solver: depth-first search over variable fixings in index
// order (1 before 0), with bound propagation on every row and LP relaxation bounds from
// gonum's simplex. If the LP cannot be solved numerically the search continues with the
// weaker bound from fixed variables only.
type BranchAndBound struct {
	// DisableLP turns off the relaxation bound.
	DisableLP bool
	// MaxNodes bounds the number of search nodes; 0 means no bound.
	MaxNodes int

	last Stats
}

var _ Solver = (*BranchAndBound)(nil)

// Stats counts the work done by one Solve.
type Stats struct {
	Nodes, LPSolves, LPFailures, Pruned int
}

// Stats returns the counters of the last Solve.
func (b *BranchAndBound) Stats() Stats {
	return b.last
}

type search struct {
	m       *Model
	cfg     *BranchAndBound
	stats   Stats
	best    []bool
	bestObj int64
	found   bool
}

// Solve implements Solver.
func (b *BranchAndBound) Solve(m *Model) ([]bool, int64, error) {
	s := &search{m: m, cfg: b}
	defer func() { b.last = s.stats }()
	lo := make([]int8, m.NumVars)
	hi := make([]int8, m.NumVars)
	for i := range hi {
		hi[i] = 1
	}
	err := s.branch(lo, hi)
	klog.V(2).Infof("extract: branch-and-bound: %d node(s), %d LP solve(s), %d LP failure(s), %d pruned",
		s.stats.Nodes, s.stats.LPSolves, s.stats.LPFailures, s.stats.Pruned)
	if err != nil {
		return nil, 0, err
	}
	if !s.found {
		return nil, 0, ErrInfeasible
	}
	return s.best, s.bestObj, nil
}

func (s *search) branch(lo, hi []int8) error {
	s.stats.Nodes++
	if s.cfg.MaxNodes > 0 && s.stats.Nodes > s.cfg.MaxNodes {
		return errors.Wrapf(ErrNodeLimit, "%d nodes", s.cfg.MaxNodes)
	}
	if !propagate(s.m, lo, hi) {
		return nil
	}
	if s.found && fixedBound(s.m, lo, hi) >= s.bestObj {
		s.stats.Pruned++
		return nil
	}

	free := -1
	for i := range lo {
		if lo[i] != hi[i] {
			free = i
			break
		}
	}
	if free < 0 {
		x := make([]bool, len(lo))
		for i, v := range lo {
			x[i] = v == 1
		}
		if !s.m.Feasible(x) {
			return nil
		}
		if obj := s.m.Value(x); !s.found || obj < s.bestObj {
			s.best, s.bestObj, s.found = x, obj, true
		}
		return nil
	}

	if !s.cfg.DisableLP {
		s.stats.LPSolves++
		bound, feasible, err := relax(s.m, lo, hi)
		switch {
		case err != nil:
			s.stats.LPFailures++
			klog.V(3).Infof("extract: LP relaxation failed, using fixed-variable bound: %v", err)
		case !feasible:
			s.stats.Pruned++
			return nil
		case s.found && ceilBound(bound) >= s.bestObj:
			s.stats.Pruned++
			return nil
		}
	}

	for _, v := range []int8{1, 0} {
		clo := append([]int8(nil), lo...)
		chi := append([]int8(nil), hi...)
		clo[free], chi[free] = v, v
		if err := s.branch(clo, chi); err != nil {
			return err
		}
	}
	return nil
}

// ceilBound rounds an LP bound up to the next integer objective, allowing for round-off.
func ceilBound(bound float64) int64 {
	tol := 1e-6 * math.Max(1, math.Abs(bound))
	return int64(math.Ceil(bound - tol))
}

// fixedBound is the smallest objective compatible with the current domains.
func fixedBound(m *Model, lo, hi []int8) int64 {
	var b int64
	for i, c := range m.Objective {
		if c > 0 && lo[i] == 1 || c < 0 && hi[i] == 1 {
			b += c
		}
	}
	return b
}

// activity returns the smallest and largest values the row's left-hand side can take.
func activity(r Row, lo, hi []int8) (minAct, maxAct int64) {
	for _, t := range r.Terms {
		if t.Coef > 0 {
			minAct += t.Coef * int64(lo[t.Var])
			maxAct += t.Coef * int64(hi[t.Var])
		} else {
			minAct += t.Coef * int64(hi[t.Var])
			maxAct += t.Coef * int64(lo[t.Var])
		}
	}
	return minAct, maxAct
}

// propagate tightens lo/hi until no row implies more fixings. It returns false if some row
// cannot be satisfied.
func propagate(m *Model, lo, hi []int8) bool {
	for changed := true; changed; {
		changed = false
		for _, r := range m.Rows {
			if r.Sense != GE {
				minAct, _ := activity(r, lo, hi)
				if minAct > r.RHS {
					return false
				}
				for _, t := range r.Terms {
					if lo[t.Var] == hi[t.Var] || minAct+abs(t.Coef) <= r.RHS {
						continue
					}
					if t.Coef > 0 {
						hi[t.Var] = 0
					} else {
						lo[t.Var] = 1
					}
					changed = true
				}
			}
			if r.Sense != LE {
				_, maxAct := activity(r, lo, hi)
				if maxAct < r.RHS {
					return false
				}
				for _, t := range r.Terms {
					if lo[t.Var] == hi[t.Var] || maxAct-abs(t.Coef) >= r.RHS {
						continue
					}
					if t.Coef > 0 {
						lo[t.Var] = 1
					} else {
						hi[t.Var] = 0
					}
					changed = true
				}
			}
		}
	}
	return true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// relax solves the LP relaxation of m with the fixed variables substituted and the free
// ones in [0, 1]. It returns the relaxation's optimum (a lower bound), or feasible=false.
//
// lp.Simplex takes the standard form min c·x, Ax = b, x >= 0 with A of full row rank, so
// each constraint gets its own slack column and rows are flipped to keep b >= 0.
func relax(m *Model, lo, hi []int8) (bound float64, feasible bool, err error) {
	col := make(map[int]int)
	var free []int
	for i := range lo {
		if lo[i] != hi[i] {
			col[i] = len(free)
			free = append(free, i)
		}
	}

	type lpRow struct {
		coefs []float64
		rhs   float64
		slack float64
	}
	var rows []lpRow
	add := func(coefs []float64, rhs, slack float64) {
		scale := 0.0
		for _, c := range coefs {
			scale = math.Max(scale, math.Abs(c))
		}
		for k := range coefs {
			coefs[k] /= scale
		}
		rhs /= scale
		if rhs < 0 {
			for k := range coefs {
				coefs[k] = -coefs[k]
			}
			rhs, slack = -rhs, -slack
		}
		rows = append(rows, lpRow{coefs: coefs, rhs: rhs, slack: slack})
	}

	var fixedObj float64
	for i, c := range m.Objective {
		if lo[i] == hi[i] {
			fixedObj += float64(c) * float64(lo[i])
		}
	}
	for _, r := range m.Rows {
		coefs := make([]float64, len(free))
		rhs := float64(r.RHS)
		nonzero := false
		for _, t := range r.Terms {
			if k, ok := col[t.Var]; ok {
				coefs[k] = float64(t.Coef)
				nonzero = true
			} else {
				rhs -= float64(t.Coef) * float64(lo[t.Var])
			}
		}
		if !nonzero {
			// Fully fixed rows were already checked by propagate.
			continue
		}
		switch r.Sense {
		case LE:
			add(coefs, rhs, 1)
		case GE:
			add(coefs, rhs, -1)
		case EQ:
			add(append([]float64(nil), coefs...), rhs, 1)
			add(coefs, rhs, -1)
		}
	}
	for k := range free {
		coefs := make([]float64, len(free))
		coefs[k] = 1
		add(coefs, 1, 1)
	}

	nRows, nCols := len(rows), len(free)+len(rows)
	a := mat.NewDense(nRows, nCols, nil)
	b := make([]float64, nRows)
	for i, r := range rows {
		for k, c := range r.coefs {
			a.Set(i, k, c)
		}
		a.Set(i, len(free)+i, r.slack)
		b[i] = r.rhs
	}
	c := make([]float64, nCols)
	for k, i := range free {
		c[k] = float64(m.Objective[i])
	}

	optF, err := simplex(c, a, b)
	if errors.Is(err, lp.ErrInfeasible) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return fixedObj + optF, true, nil
}

// simplex calls lp.Simplex, turning its panics on malformed input into errors.
func simplex(c []float64, a mat.Matrix, b []float64) (optF float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("lp: ", r))
		}
	}()
	optF, _, err = lp.Simplex(c, a, b, 1e-10, nil)
	return optF, err
}
