package rewrite

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tileopt/egraph"
)

// DefaultMaxIterations bounds saturation when Runner.MaxIterations is not set.
const DefaultMaxIterations = 10

// ErrSaturationIncomplete means the iteration budget ran out before a fixpoint. It is not
// fatal: the e-graph is still consistent and can be extracted from.
var ErrSaturationIncomplete = errors.New("rewrite: saturation did not reach a fixpoint")

// Runner applies rules to an e-graph until saturation.
type Runner struct {
	Rules         []Rule
	MaxIterations int
}

// NewRunner returns a runner with the default rules and budget.
func NewRunner() *Runner {
	return &Runner{Rules: DefaultRules(), MaxIterations: DefaultMaxIterations}
}

// Report summarizes a saturation run.
type Report struct {
	// Iterations is the number of rounds executed, including the final no-op round when
	// saturated.
	Iterations int
	Saturated  bool
	NodesAdded int
	Unions     int
	// PerRule counts the matches each rule applied (by rule name).
	PerRule map[string]int
}

// Err returns ErrSaturationIncomplete when the budget was exhausted, nil otherwise.
func (r Report) Err() error {
	if r.Saturated {
		return nil
	}
	return errors.Wrapf(ErrSaturationIncomplete, "after %d iterations", r.Iterations)
}

func (r Report) String() string {
	state := "saturated"
	if !r.Saturated {
		state = "budget exhausted"
	}
	return fmt.Sprintf("%s after %d iteration(s): %d node(s) added, %d union(s)",
		state, r.Iterations, r.NodesAdded, r.Unions)
}

// Run saturates g. Within a round every rule is searched against the same e-graph, then
// the matches are applied rule by rule in class-id order and the graph is rebuilt. Errors
// (an *egraph.AnalysisConflict in practice) are fatal; running out of budget is reported
// through Report.Err.
func (r *Runner) Run(g *egraph.EGraph) (Report, error) {
	maxIter := r.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	report := Report{PerRule: make(map[string]int, len(r.Rules))}
	if err := g.Rebuild(); err != nil {
		return report, err
	}
	for report.Iterations < maxIter {
		report.Iterations++
		added, unions, err := r.round(g, &report)
		if err != nil {
			return report, errors.WithMessagef(err, "saturation round %d", report.Iterations)
		}
		report.NodesAdded += added
		report.Unions += unions
		klog.V(1).Infof("rewrite: round %d: +%d node(s), %d union(s), %d classes, %d nodes",
			report.Iterations, added, unions, g.NumClasses(), g.NumNodes())
		if added == 0 && unions == 0 {
			report.Saturated = true
			break
		}
	}
	return report, nil
}

func (r *Runner) round(g *egraph.EGraph, report *Report) (added, unions int, err error) {
	unionsBefore := g.Unions()
	matches := make([][]Match, len(r.Rules))
	for i, rule := range r.Rules {
		for _, m := range Search(g, rule.LHS) {
			if rule.Guard != nil && !rule.Guard(g, m.Subst) {
				continue
			}
			matches[i] = append(matches[i], m)
		}
	}
	for i, rule := range r.Rules {
		for _, m := range matches[i] {
			id, err := instantiate(g, rule.RHS, m.Subst, &added)
			if err != nil {
				return added, 0, errors.WithMessagef(err, "applying %s", rule.Name)
			}
			if _, err := g.Union(m.Class, id); err != nil {
				return added, 0, errors.WithMessagef(err, "applying %s", rule.Name)
			}
			report.PerRule[rule.Name]++
			klog.V(2).Infof("rewrite: %s matched c%d %v -> c%d", rule.Name, m.Class, m.Subst, g.Find(id))
		}
	}
	if err := g.Rebuild(); err != nil {
		return added, 0, err
	}
	return added, g.Unions() - unionsBefore, nil
}
