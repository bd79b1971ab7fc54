package serialize

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"tileopt/egraph"
	"tileopt/extract"
	"tileopt/internal/util"
)

// Choice is the chosen node of one e-class.
type Choice struct {
	EClass string `json:"eclass"`
	Node   string `json:"node"`
	Op     string `json:"op"`
	Cost   int64  `json:"cost"`
	// Tag is "always", "sometimes" or "never" across the enumerated optima.
	Tag string `json:"tag,omitempty"`
}

// Export is the extraction result written for downstream tools.
type Export struct {
	RunID   string   `json:"run_id"`
	Root    string   `json:"root"`
	Total   int64    `json:"total"`
	Program string   `json:"program"`
	Choices []Choice `json:"choices"`
	// Transactions maps every e-class whose chosen node moves data to its byte cost.
	Transactions map[string]int64 `json:"transactions"`
	// Solutions is the number of tied optimal solutions found.
	Solutions int `json:"solutions"`
	// Tags covers every node of the problem, chosen or not.
	Tags map[string]string `json:"tags,omitempty"`
}

// Transactions is the transaction dict of a solution: e-class to bytes moved, for the
// classes whose chosen node has a non-zero cost.
func Transactions(s *extract.Solution) map[egraph.ClassID]int64 {
	out := make(map[egraph.ClassID]int64)
	for c, v := range s.Costs {
		if v > 0 {
			out[c] = v
		}
	}
	return out
}

// NewExport describes best, one of n optimal solutions of p. tags may be nil.
func NewExport(p *extract.Problem, names Namer, best *extract.Solution, tags map[egraph.NodeID]extract.Selection, n int) *Export {
	e := &Export{
		RunID:        uuid.NewString(),
		Root:         names.ClassName(best.Root),
		Total:        best.Total,
		Program:      extract.Format(p, best),
		Transactions: make(map[string]int64),
		Solutions:    n,
	}
	for _, c := range util.SortedKeys(best.Choices) {
		id := best.Choices[c]
		node, _ := p.Node(id)
		choice := Choice{
			EClass: names.ClassName(c),
			Node:   names.NodeName(id),
			Op:     node.Label,
			Cost:   best.Costs[c],
		}
		if tags != nil {
			choice.Tag = tags[id].String()
		}
		e.Choices = append(e.Choices, choice)
	}
	for c, v := range Transactions(best) {
		e.Transactions[names.ClassName(c)] = v
	}
	if tags != nil {
		e.Tags = make(map[string]string, len(tags))
		for id, tag := range tags {
			e.Tags[names.NodeName(id)] = tag.String()
		}
	}
	return e
}

// WriteExport saves e to filename as indented JSON.
func WriteExport(filename string, e *Export) error {
	return writeJSON(filename, e)
}

// ReadExport loads an extraction written by WriteExport.
func ReadExport(filename string) (*Export, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading extraction file")
	}
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrapf(err, "parsing extraction %s", filename)
	}
	return &e, nil
}
