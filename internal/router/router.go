// Package router implements the Query Router (spec.md §4.4): token- and
// pattern-based classification of a raw query string into a retrieval plan,
// with no LLM involved.
//
// Grounded structurally on the teacher's internal/llm/chunker.go
// tokenization helpers (no LLM call here — spec.md explicitly says "no LLM
// required").
package router

import (
	"regexp"
	"strings"

	"github.com/scrypster/engramind/internal/retriever"
	"github.com/scrypster/engramind/internal/store"
)

// Intent classifies the query's apparent purpose.
type Intent string

const (
	IntentSemantic    Intent = "semantic"
	IntentLexical     Intent = "lexical"
	IntentTemporal    Intent = "temporal"
	IntentAggregative Intent = "aggregative"
)

// ConfidenceThreshold is the floor below which the router falls back to
// balanced semantic retrieval (spec.md §4.4 "Confidence").
const ConfidenceThreshold = 0.55

// Redirect instructs the caller to use list(sort=recent, ...) instead of
// retrieve(), the "temporal redirect" from spec.md §4.4.
type Redirect struct {
	Category string
	Limit    int
}

// Plan is the RetrievalPlan spec.md §4.4 names.
type Plan struct {
	Intent     Intent
	Confidence float64
	Weights    retriever.Weights
	Filters    retriever.Filters
	K          int
	Redirect   *Redirect
}

var (
	quotedPattern     = regexp.MustCompile(`"[^"]+"`)
	identifierPattern = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9_]*\.[A-Za-z0-9_.]+\b|\b[a-z]+[A-Z][A-Za-z0-9]*\b`)
	datePattern       = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

var temporalMarkers = []string{"latest", "yesterday", "today", "recent", "last week", "most recent"}

var aggregativeMarkers = []string{"how many", "count", "all ", "total number"}

// Route classifies queryText and produces a RetrievalPlan. category, when
// non-empty, seeds the temporal redirect's filter (e.g. the caller already
// knows it wants "plan" engrams).
func Route(queryText string, k int, category string) Plan {
	lower := strings.ToLower(queryText)

	if _, ok := matchesAny(lower, temporalMarkers); ok {
		return Plan{
			Intent:     IntentTemporal,
			Confidence: 0.9,
			K:          k,
			Redirect: &Redirect{
				Category: category,
				Limit:    defaultRedirectLimit(k),
			},
			Weights: retriever.DefaultWeights(),
			Filters: retriever.Filters{Category: category, ExcludeSuperseded: true},
		}
	}
	if datePattern.MatchString(queryText) {
		return Plan{
			Intent:     IntentTemporal,
			Confidence: 0.8,
			K:          k,
			Redirect:   &Redirect{Category: category, Limit: defaultRedirectLimit(k)},
			Weights:    retriever.DefaultWeights(),
			Filters:    retriever.Filters{Category: category, ExcludeSuperseded: true},
		}
	}

	if _, ok := matchesAny(lower, aggregativeMarkers); ok {
		return Plan{
			Intent:     IntentAggregative,
			Confidence: 0.75,
			K:          k,
			Weights:    retriever.DefaultWeights(),
			Filters:    retriever.Filters{Category: category, ExcludeSuperseded: true},
		}
	}

	if quotedPattern.MatchString(queryText) || identifierPattern.MatchString(queryText) {
		plan := Plan{
			Intent:     IntentLexical,
			Confidence: 0.8,
			K:          k,
			Weights:    retriever.Weights{Vector: 0.2, Lexical: 0.6, Graph: 0.1, Recency: 0.1},
			Filters:    retriever.Filters{Category: category, ExcludeSuperseded: true},
		}
		return plan.withConfidenceFloor()
	}

	plan := Plan{
		Intent:     IntentSemantic,
		Confidence: 0.6,
		K:          k,
		Weights:    retriever.DefaultWeights(),
		Filters:    retriever.Filters{Category: category, ExcludeSuperseded: true},
	}
	return plan.withConfidenceFloor()
}

// withConfidenceFloor falls back to balanced semantic retrieval whenever
// confidence drops below ConfidenceThreshold, per spec.md §4.4.
func (p Plan) withConfidenceFloor() Plan {
	if p.Confidence >= ConfidenceThreshold {
		return p
	}
	p.Intent = IntentSemantic
	p.Weights = retriever.DefaultWeights()
	return p
}

func matchesAny(lower string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

func defaultRedirectLimit(k int) int {
	if k <= 0 {
		return 5
	}
	return k
}

// ListOptionsFromRedirect converts a Redirect into store.ListOptions for the
// engine to execute directly against the Engram Store, bypassing the
// Hybrid Retriever entirely as spec.md §4.4 specifies.
func ListOptionsFromRedirect(r *Redirect) store.ListOptions {
	return store.ListOptions{
		Limit: r.Limit,
		Sort:  store.SortRecent,
		Filter: store.Filter{
			Category:          r.Category,
			ExcludeSuperseded: true,
		},
	}
}
