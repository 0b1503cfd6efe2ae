package store

import (
	"context"
	"time"

	"github.com/scrypster/engramind/pkg/engram"
)

// EngramStore is the durable CRUD interface over engrams (spec.md §4.1).
// Implementations must serialize all mutating calls through a single writer
// (spec.md §5 "the write serializer is the only mutable-shared critical
// section in the Store") so supersession updates never interleave into a
// cycle or a dual-active chain.
type EngramStore interface {
	// Insert assigns an id, sets InsertedAt, derives DecayRate from
	// Importance, and persists the engram. Returns ErrInvalidField on
	// invalid input.
	Insert(ctx context.Context, draft engram.Draft) (int64, error)

	// Get retrieves an engram by id. Returns ErrNoSuchEngram if absent.
	Get(ctx context.Context, id int64) (*engram.Engram, error)

	// UpdateAccess increments access_count and sets last_accessed_at. It is
	// a no-op (not an error) if the engram is missing.
	UpdateAccess(ctx context.Context, id int64, now time.Time) error

	// MarkSuperseded sets superseded_at only if it is currently null.
	// Returns ErrAlreadySuperseded otherwise.
	MarkSuperseded(ctx context.Context, id int64, at time.Time) error

	// SetSupersedes validates predecessorID exists and is now marked
	// superseded, then records the link and its SupersessionType.
	SetSupersedes(ctx context.Context, id, predecessorID int64, typ engram.SupersessionType) error

	// Delete removes an engram permanently. Returns ErrProtected if the
	// engram's Protected flag is set.
	Delete(ctx context.Context, id int64) error

	// Count returns the total number of engrams (including superseded ones).
	Count(ctx context.Context) (int, error)

	// List returns a page of engrams per opts.
	List(ctx context.Context, opts ListOptions) (*Page, error)

	// ByCategory returns all active engrams in the given category, most
	// recent first. Used by decay-engine stages that scan one category.
	ByCategory(ctx context.Context, category string, limit int) ([]*engram.Engram, error)

	// SetEmbedding stores the float32/int8 embedding pair for an engram.
	// Returns ErrInvalidField if the pair fails ValidateEmbeddingPair.
	SetEmbedding(ctx context.Context, id int64, f32 []float32, i8 []int8) error

	// UpdateDecayRate rewrites the stored decay_rate for an engram, used
	// when importance is recomputed by consolidation.
	UpdateDecayRate(ctx context.Context, id int64, rate float64) error

	// Stats returns aggregate counters for memory.stats (spec.md §6).
	Stats(ctx context.Context) (Stats, error)

	// Close releases resources held by the store.
	Close() error
}

// Stats aggregates the fields memory.stats returns.
type Stats struct {
	Total         int
	ByCategory    map[string]int
	AvgImportance float64
	Oldest        *time.Time
	Newest        *time.Time
}
