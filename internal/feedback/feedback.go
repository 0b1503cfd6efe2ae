// Package feedback implements Usage Feedback (spec.md §4.7): tracking which
// engrams callers found useful or noisy, and turning that into a
// helpfulness multiplier the Hybrid Retriever applies to every score.
//
// Grounded on the teacher's sync.RWMutex-guarded cache idiom, generalized
// per spec.md §5 ("Caches ... use copy-on-write maps; readers never block
// writers") into an atomically-swapped snapshot map.
package feedback

import (
	"sync"
	"sync/atomic"
	"time"
)

// SmoothingK smooths the helpfulness factor for ids with little evidence
// (spec.md §4.7 default k=5).
const SmoothingK = 5.0

// StaleAfter is how long a factor survives with no new evidence before the
// sleep cycle's stale-edge cleanup removes it (spec.md §4.7 default 7 days).
const StaleAfter = 7 * 24 * time.Hour

// MinFactor and MaxFactor bound the helpfulness multiplier (spec.md §4.3/§4.7).
const (
	MinFactor = 0.5
	MaxFactor = 1.5
)

type counts struct {
	positive   int64
	negative   int64
	lastUpdate time.Time
}

type signal struct {
	id       int64
	positive bool
}

// Config holds the tuning knobs spec.md §6 names for the helpfulness
// tracker. A zero field falls back to this package's default constant.
type Config struct {
	SmoothingK float64
	StaleAfter time.Duration
}

// DefaultConfig returns the package's historical fixed defaults.
func DefaultConfig() Config {
	return Config{SmoothingK: SmoothingK, StaleAfter: StaleAfter}
}

func (c *Config) applyDefaults() {
	if c.SmoothingK <= 0 {
		c.SmoothingK = SmoothingK
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = StaleAfter
	}
}

// Tracker accumulates useful/noise signals per id and exposes the resulting
// helpfulness factor. Pending signals are buffered until Flush; Factor
// reads only the last-flushed snapshot, so readers never block writers.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	pending []signal

	snapshot atomic.Pointer[map[int64]*counts]
}

// New constructs an empty Tracker tuned by cfg.
func New(cfg Config) *Tracker {
	cfg.applyDefaults()
	t := &Tracker{cfg: cfg}
	empty := map[int64]*counts{}
	t.snapshot.Store(&empty)
	return t
}

// SignalUseful appends a positive signal for each id, attributed to
// sessionID. sessionID is accepted for API symmetry with spec.md but is not
// currently attributed to individual counters — helpfulness is tracked
// per-id, not per-(session,id).
func (t *Tracker) SignalUseful(sessionID string, ids []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.pending = append(t.pending, signal{id: id, positive: true})
	}
}

// SignalNoise appends a negative signal for each id.
func (t *Tracker) SignalNoise(sessionID string, ids []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.pending = append(t.pending, signal{id: id, positive: false})
	}
}

// Flush synchronously processes pending events into a new snapshot.
func (t *Tracker) Flush() {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	current := *t.snapshot.Load()
	next := make(map[int64]*counts, len(current))
	for id, c := range current {
		cp := *c
		next[id] = &cp
	}

	now := time.Now()
	for _, s := range pending {
		c, ok := next[s.id]
		if !ok {
			c = &counts{}
			next[s.id] = c
		}
		if s.positive {
			c.positive++
		} else {
			c.negative++
		}
		c.lastUpdate = now
	}

	t.snapshot.Store(&next)
}

// Factor returns the helpfulness multiplier for id, clamped to
// [MinFactor, MaxFactor]. Unknown ids are neutral (1.0).
func (t *Tracker) Factor(id int64) float64 {
	snapshot := *t.snapshot.Load()
	c, ok := snapshot[id]
	if !ok {
		return 1.0
	}
	return t.adjustedFactor(c.positive, c.negative)
}

// AdjustSimilarity multiplies score by id's helpfulness factor, per
// spec.md §4.7's adjust_similarity(score, id) -> score'.
func (t *Tracker) AdjustSimilarity(score float64, id int64) float64 {
	return score * t.Factor(id)
}

func (t *Tracker) adjustedFactor(positive, negative int64) float64 {
	h := 1 + (float64(positive)-float64(negative))/(float64(positive)+float64(negative)+t.cfg.SmoothingK)
	if h < MinFactor {
		return MinFactor
	}
	if h > MaxFactor {
		return MaxFactor
	}
	return h
}

// PruneStale removes factors with no evidence newer than cfg.StaleAfter,
// returning the number of ids removed. Called by the sleep cycle's
// maintenance stage.
func (t *Tracker) PruneStale(now time.Time) int {
	current := *t.snapshot.Load()
	next := make(map[int64]*counts, len(current))
	removed := 0
	for id, c := range current {
		if now.Sub(c.lastUpdate) > t.cfg.StaleAfter {
			removed++
			continue
		}
		cp := *c
		next[id] = &cp
	}
	if removed > 0 {
		t.snapshot.Store(&next)
	}
	return removed
}
