// Package engram defines the core data structures of the Engramind memory
// engine: the Engram unit itself, its category/supersession vocabulary, and
// the validation rules that storage backends must enforce.
package engram

import "time"

// Category classifies the nature of a memory. The built-in categories cover
// the common cases; callers may also use arbitrary user-defined strings.
type Category string

// Built-in categories.
const (
	CategoryFact           Category = "fact"
	CategoryObservation    Category = "observation"
	CategoryAction         Category = "action"
	CategoryPlan           Category = "plan"
	CategoryEntityAnchor   Category = "entity_anchor"
	CategorySynthesis      Category = "synthesis"
)

// SupersessionType describes the relationship between a successor engram and
// the engram it supersedes.
type SupersessionType string

const (
	SupersessionUpdate     SupersessionType = "update"
	SupersessionCorrection SupersessionType = "correction"
	SupersessionRefinement SupersessionType = "refinement"
	SupersessionMerge      SupersessionType = "merge"
)

// Engram is a single unit of memory: text content plus metadata, temporal
// validity, supersession links, decay parameters, and two embedding
// representations.
type Engram struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	Category string `json:"category"`

	Importance  float64 `json:"importance"`
	Protected   bool    `json:"protected"`
	AccessCount int64   `json:"access_count"`
	DecayRate   float64 `json:"decay_rate"`

	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	EmbeddingF32 []float32 `json:"embedding_f32,omitempty"`
	EmbeddingI8  []int8    `json:"embedding_i8,omitempty"`

	SupersedesID     *int64            `json:"supersedes_id,omitempty"`
	SupersededAt     *time.Time        `json:"superseded_at,omitempty"`
	SupersessionType *SupersessionType `json:"supersession_type,omitempty"`

	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	ValiditySource  string     `json:"validity_source,omitempty"`

	InsertedAt time.Time `json:"inserted_at"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsActive reports whether this engram is the current (non-superseded) member
// of its supersession chain.
func (e *Engram) IsActive() bool {
	return e.SupersededAt == nil
}

// IsSuperseded reports the opposite of IsActive, for readability at call sites.
func (e *Engram) IsSuperseded() bool {
	return e.SupersededAt != nil
}

// HasEmbedding reports whether this engram carries an embedding. Per
// invariant 4, the float32 and int8 forms are either both present or both
// absent, so checking one suffices.
func (e *Engram) HasEmbedding() bool {
	return len(e.EmbeddingF32) > 0
}

// ValidAt reports whether the engram's valid-time window contains instant t.
// An engram with no ValidFrom/ValidUntil set is considered always valid.
func (e *Engram) ValidAt(t time.Time) bool {
	if e.ValidFrom != nil && t.Before(*e.ValidFrom) {
		return false
	}
	if e.ValidUntil != nil && !t.Before(*e.ValidUntil) {
		return false
	}
	return true
}

// Draft is the set of fields a caller supplies to create a new Engram; the
// store assigns ID, InsertedAt, and DecayRate.
type Draft struct {
	Content        string
	Category       string
	Importance     float64
	Protected      bool
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	ValiditySource string
	Metadata       map[string]any
}

// DecayRateForImportance derives decay_rate from importance per the table in
// spec.md §4.6: higher importance decays slower.
func DecayRateForImportance(importance float64) float64 {
	switch {
	case importance >= 0.9:
		return 0.0001
	case importance >= 0.7:
		return 0.001
	case importance >= 0.5:
		return 0.005
	case importance >= 0.3:
		return 0.02
	default:
		return 0.1
	}
}
