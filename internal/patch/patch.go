// Package patch applies proposed search/replace edits to a document, falling back
// through progressively looser matching strategies when the quoted search text no
// longer matches the document exactly.
package patch

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"siteeditor/api/internal/util"
)

// FailedSearchPreview is the rune limit for search text recorded on failure.
const FailedSearchPreview = 80

// StrategyNone labels proposals that no strategy could place.
const StrategyNone = "none"

var (
	strategyHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siteeditor_patch_strategy_total",
		Help: "Proposals placed per matching strategy (none = unplaced)",
	}, []string{"strategy"})

	batchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siteeditor_patch_batches_total",
		Help: "Patch batches by result",
	}, []string{"result"})
)

// Proposal is a single search/replace pair from the edit-proposal service.
type Proposal struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// Outcome records how one proposal was handled.
type Outcome struct {
	Search   string `json:"search"`
	Strategy string `json:"strategy"`
	Applied  bool   `json:"applied"`
}

// Result is the outcome of applying a batch.
type Result struct {
	Content        string    `json:"-"`
	Applied        int       `json:"applied"`
	FailedSearches []string  `json:"failedSearches"`
	Outcomes       []Outcome `json:"outcomes"`
}

// OK reports whether the batch may be persisted: an empty batch is trivially OK,
// a non-empty batch needs at least one applied proposal.
func (r Result) OK() bool {
	return len(r.Outcomes) == 0 || r.Applied > 0
}

// Partial reports whether some but not all proposals were applied.
func (r Result) Partial() bool {
	return r.Applied > 0 && len(r.FailedSearches) > 0
}

// Applier runs proposals through an ordered strategy list.
type Applier struct {
	strategies []Strategy
}

// NewApplier creates an applier; with no strategies it uses DefaultStrategies.
func NewApplier(strategies ...Strategy) *Applier {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Applier{strategies: strategies}
}

// Apply uses the default strategy cascade.
func Apply(document string, proposals []Proposal) Result {
	return NewApplier().Apply(document, proposals)
}

// Apply places each proposal in order against the progressively edited document.
// A proposal no strategy can place is recorded and skipped.
func (a *Applier) Apply(document string, proposals []Proposal) Result {
	result := Result{
		Content:        document,
		FailedSearches: []string{},
		Outcomes:       make([]Outcome, 0, len(proposals)),
	}

	for _, proposal := range proposals {
		outcome := Outcome{Search: util.Truncate(proposal.Search, FailedSearchPreview), Strategy: StrategyNone}
		for _, strategy := range a.strategies {
			match, ok := strategy.Attempt(result.Content, proposal)
			if !ok {
				continue
			}
			result.Content = splice(result.Content, match)
			outcome.Strategy = strategy.Name()
			outcome.Applied = true
			break
		}
		strategyHits.WithLabelValues(outcome.Strategy).Inc()
		if outcome.Applied {
			result.Applied++
		} else {
			result.FailedSearches = append(result.FailedSearches, outcome.Search)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	switch {
	case len(proposals) == 0:
	case result.Applied == 0:
		batchResults.WithLabelValues("failed").Inc()
	case result.Partial():
		batchResults.WithLabelValues("partial").Inc()
	default:
		batchResults.WithLabelValues("applied").Inc()
	}
	return result
}

// ApplyFullDocument handles the proposal service's whole-document fallback. A
// blank replacement is never accepted.
func ApplyFullDocument(document, full string) Result {
	outcome := Outcome{Search: "(full document)", Strategy: "full_document"}
	if strings.TrimSpace(full) == "" {
		outcome.Strategy = StrategyNone
		batchResults.WithLabelValues("failed").Inc()
		return Result{
			Content:        document,
			FailedSearches: []string{outcome.Search},
			Outcomes:       []Outcome{outcome},
		}
	}
	outcome.Applied = true
	batchResults.WithLabelValues("applied").Inc()
	return Result{
		Content:        full,
		Applied:        1,
		FailedSearches: []string{},
		Outcomes:       []Outcome{outcome},
	}
}

func splice(document string, match Match) string {
	return document[:match.Start] + match.Replacement + document[match.End:]
}
