// Package decay implements the Decay & Consolidation Engine (spec.md §4.6):
// the decay-score formula, at-risk detection, forgetting-time prediction,
// and the sleep-cycle background coordinator.
//
// Grounded on the teacher's internal/engine/decay.go (ComputeDecayScore,
// exponential half-life) and internal/engine/decay_manager.go (DecayManager,
// configurable half-life), generalized from the teacher's fixed 60-day
// half-life into spec.md's importance-bucketed decay_rate table.
package decay

import (
	"math"
	"time"

	"github.com/scrypster/engramind/pkg/engram"
)

// Threshold is the default decay score below which an engram is "at risk"
// (spec.md §4.6 names no explicit default; 0.2 keeps roughly the bottom
// quintile flagged without the prune stage cannibalizing active memories).
const Threshold = 0.2

// Score computes s = importance * exp(-decay_rate * age_days) *
// (1 + log(1 + access_count)), clipped to [0,1], as of now.
func Score(e *engram.Engram, now time.Time) float64 {
	ageDays := now.Sub(e.InsertedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	s := e.Importance * math.Exp(-e.DecayRate*ageDays) * (1 + math.Log(1+float64(e.AccessCount)))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// AtRisk reports whether e's current decay score is below threshold.
// threshold of 0 uses Threshold.
func AtRisk(e *engram.Engram, now time.Time, threshold float64) bool {
	if threshold == 0 {
		threshold = Threshold
	}
	return Score(e, now) < threshold
}

// PredictedForgettingDays returns the smallest integer number of days from
// now until e's decay score would cross threshold, or -1 if it is already
// below threshold, or a very large sentinel if decay_rate is zero (the
// engram's score asymptotically approaches importance*(1+log(1+access))
// and never crosses if that floor is already above threshold).
func PredictedForgettingDays(e *engram.Engram, now time.Time, threshold float64) int {
	if threshold == 0 {
		threshold = Threshold
	}
	if AtRisk(e, now, threshold) {
		return -1
	}
	if e.DecayRate <= 0 {
		return math.MaxInt32
	}

	accessBoost := 1 + math.Log(1+float64(e.AccessCount))
	floor := e.Importance * accessBoost
	if floor <= threshold {
		return math.MaxInt32
	}

	// s(t) = importance * exp(-rate*t) * accessBoost = threshold
	// => t = -ln(threshold / (importance*accessBoost)) / rate
	currentAgeDays := now.Sub(e.InsertedAt).Hours() / 24
	targetAgeDays := -math.Log(threshold/floor) / e.DecayRate
	remaining := targetAgeDays - currentAgeDays
	if remaining < 0 {
		return 0
	}
	return int(math.Ceil(remaining))
}
