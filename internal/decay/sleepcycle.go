package decay

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/engramind/internal/feedback"
	"github.com/scrypster/engramind/internal/graph"
	"github.com/scrypster/engramind/internal/index/hnsw"
	"github.com/scrypster/engramind/internal/quantize"
	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/internal/telemetry"
	"github.com/scrypster/engramind/pkg/engram"
)

// QuietPeriod is the default idle duration before an automatic sleep cycle
// may run (spec.md §4.6 default 5 minutes).
const QuietPeriod = 5 * time.Minute

// MinimumGap is the minimum time since the last automatic cycle, 2x the
// quiet period per spec.md §4.6.
const MinimumGap = 2 * QuietPeriod

// EdgePredictionSimilarity is the default threshold for materializing a
// graph edge between two high-similarity engrams (spec.md §4.6).
const EdgePredictionSimilarity = 0.75

// EdgePredictionCapPerCycle bounds how many edges stage 5 materializes in
// one cycle.
const EdgePredictionCapPerCycle = 200

// MinMemoriesForPattern is the minimum group size before pattern extraction
// (stage 3) emits an entity_anchor engram.
const MinMemoriesForPattern = 5

// StaleAnchorDays is how long an entity_anchor engram survives unaccessed
// before quality maintenance (stage 2) prunes it.
const StaleAnchorDays = 30

// MinEntityAnchorLength floors how short a surviving entity_anchor's
// content may be.
const MinEntityAnchorLength = 20

// PruneThreshold is the decay score below which an unprotected engram is
// deleted during pruning (stage 6).
const PruneThreshold = 0.05

// Config holds the per-stage tuning knobs spec.md §6's "Configuration
// (recognized options)" names for the sleep cycle, threaded in from
// internal/config rather than baked in as package constants. A zero Config
// field falls back to this package's default constant.
type Config struct {
	QuietPeriod               time.Duration
	MinimumGap                time.Duration
	MinMemoriesForPattern     int
	EdgePredictionSimilarity  float64
	EdgePredictionCapPerCycle int
	StaleAnchorDays           int
	MinEntityAnchorLength     int
}

// DefaultConfig returns the package's historical fixed defaults.
func DefaultConfig() Config {
	return Config{
		QuietPeriod:               QuietPeriod,
		MinimumGap:                MinimumGap,
		MinMemoriesForPattern:     MinMemoriesForPattern,
		EdgePredictionSimilarity:  EdgePredictionSimilarity,
		EdgePredictionCapPerCycle: EdgePredictionCapPerCycle,
		StaleAnchorDays:           StaleAnchorDays,
		MinEntityAnchorLength:     MinEntityAnchorLength,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.MinimumGap <= 0 {
		c.MinimumGap = d.MinimumGap
	}
	if c.MinMemoriesForPattern <= 0 {
		c.MinMemoriesForPattern = d.MinMemoriesForPattern
	}
	if c.EdgePredictionSimilarity <= 0 {
		c.EdgePredictionSimilarity = d.EdgePredictionSimilarity
	}
	if c.EdgePredictionCapPerCycle <= 0 {
		c.EdgePredictionCapPerCycle = d.EdgePredictionCapPerCycle
	}
	if c.StaleAnchorDays <= 0 {
		c.StaleAnchorDays = d.StaleAnchorDays
	}
	if c.MinEntityAnchorLength <= 0 {
		c.MinEntityAnchorLength = d.MinEntityAnchorLength
	}
}

// Report is the per-cycle counters spec.md §4.6 names.
type Report struct {
	PatternsExtracted  int
	ProceduresCreated  int
	MemoriesPruned     int
	EdgesPredicted     int
	DuplicatesMerged   int
	QualityIssuesFixed int
	StageErrors        []error
}

// Supersessor is the subset of internal/chain.Manager the pruning stage
// needs to merge near-duplicates.
type Supersessor interface {
	Supersede(ctx context.Context, oldID, newID int64, typ engram.SupersessionType) error
}

// SleepCycle coordinates the six ordered maintenance stages (spec.md §4.6).
type SleepCycle struct {
	Store    store.EngramStore
	Index    *hnsw.Index
	Graph    *graph.Adapter
	Feedback *feedback.Tracker
	Chain    Supersessor
	Bus      *telemetry.Bus
	cfg      Config

	mu           sync.Mutex
	lastActivity time.Time
	lastRun      time.Time
}

// New constructs a SleepCycle wired to its dependencies. bus is optional; a
// nil bus silently drops the stage-1 index-rebuild event. A zero-value cfg
// field falls back to DefaultConfig()'s constant.
func New(s store.EngramStore, idx *hnsw.Index, g *graph.Adapter, fb *feedback.Tracker, chain Supersessor, bus *telemetry.Bus, cfg Config) *SleepCycle {
	cfg.applyDefaults()
	return &SleepCycle{Store: s, Index: idx, Graph: g, Feedback: fb, Chain: chain, Bus: bus, cfg: cfg, lastActivity: time.Now()}
}

// NoteActivity records that the caller performed a user-initiated
// operation, resetting the quiet-period clock.
func (sc *SleepCycle) NoteActivity(now time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.lastActivity = now
}

// ShouldRun reports whether an automatic trigger may run a cycle now: the
// quiet period must have elapsed since the last activity, and the minimum
// gap must have elapsed since the last cycle.
func (sc *SleepCycle) ShouldRun(now time.Time) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if now.Sub(sc.lastActivity) < sc.cfg.QuietPeriod {
		return false
	}
	if !sc.lastRun.IsZero() && now.Sub(sc.lastRun) < sc.cfg.MinimumGap {
		return false
	}
	return true
}

// Run executes one cycle. force=true (manual trigger) bypasses the
// quiet-period and minimum-gap checks. A per-stage error is recorded in the
// report and does not abort the remaining stages, per spec.md §4.6
// "Concurrency".
func (sc *SleepCycle) Run(ctx context.Context, force bool) (Report, error) {
	now := time.Now()
	if !force && !sc.ShouldRun(now) {
		return Report{}, fmt.Errorf("decay: sleep cycle skipped: quiet period or minimum gap not elapsed")
	}

	sc.mu.Lock()
	sc.lastRun = now
	sc.mu.Unlock()

	var report Report

	sc.runStage(&report, "index_health", func() error { return sc.stageIndexHealth(ctx) })
	sc.runStage(&report, "quality_maintenance", func() error { return sc.stageQualityMaintenance(ctx, &report) })
	sc.runStage(&report, "pattern_extraction", func() error { return sc.stagePatternExtraction(ctx, &report) })
	sc.runStage(&report, "procedure_codification", func() error { return sc.stageProcedureCodification(ctx, &report) })
	sc.runStage(&report, "edge_prediction", func() error { return sc.stageEdgePrediction(ctx, &report) })
	sc.runStage(&report, "pruning", func() error { return sc.stagePruning(ctx, &report) })

	return report, nil
}

func (sc *SleepCycle) runStage(report *Report, name string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("decay: sleep cycle stage %q failed: %v", name, err)
		report.StageErrors = append(report.StageErrors, fmt.Errorf("%s: %w", name, err))
	}
}

// stageIndexHealth is stage 1: rebuild the vector index if needed.
func (sc *SleepCycle) stageIndexHealth(ctx context.Context) error {
	if sc.Index == nil {
		return nil
	}
	scanner, ok := sc.Store.(interface {
		ScanEmbeddings(ctx context.Context, fn func(id int64, f32 []float32) error) error
	})
	if !ok {
		return nil
	}
	outcome, err := sc.Index.RebuildIfNeeded(func(fn func(int64, []float32) error) error {
		return scanner.ScanEmbeddings(ctx, fn)
	})
	if err != nil {
		return err
	}
	if outcome.Rebuilt && sc.Bus != nil {
		sc.Bus.Publish(telemetry.Event{
			Type:   telemetry.EventIndexRebuild,
			Fields: map[string]any{"count": outcome.Count},
		})
	}
	return nil
}

// stageQualityMaintenance is stage 2: prune stale entity_anchor engrams,
// flag duplicate synthesis entries (reported as quality issues fixed), and
// evict helpfulness factors with no evidence newer than feedback.StaleAfter
// (spec.md §4.7's "stale-factor cleanup runs alongside the sleep cycle").
func (sc *SleepCycle) stageQualityMaintenance(ctx context.Context, report *Report) error {
	anchors, err := sc.Store.ByCategory(ctx, string(engram.CategoryEntityAnchor), 1000)
	if err != nil {
		return err
	}
	now := time.Now()

	if sc.Feedback != nil {
		sc.Feedback.PruneStale(now)
	}

	for _, a := range anchors {
		stale := a.LastAccessedAt == nil || now.Sub(*a.LastAccessedAt) > time.Duration(sc.cfg.StaleAnchorDays)*24*time.Hour
		short := len(a.Content) < sc.cfg.MinEntityAnchorLength
		if stale && short && !a.Protected {
			if err := sc.Store.Delete(ctx, a.ID); err != nil {
				continue
			}
			report.QualityIssuesFixed++
		}
	}

	synth, err := sc.Store.ByCategory(ctx, string(engram.CategorySynthesis), 1000)
	if err != nil {
		return err
	}
	for _, dup := range FindNearDuplicates(synth) {
		if sc.Chain != nil {
			if err := sc.Chain.Supersede(ctx, dup.OlderID, dup.NewerID, engram.SupersessionMerge); err == nil {
				report.QualityIssuesFixed++
			}
		}
	}
	return nil
}

// stagePatternExtraction is stage 3: group recent observation engrams by
// topic (approximated here by shared significant tokens) and, when a group
// has at least MinMemoriesForPattern members, emit an entity_anchor engram.
func (sc *SleepCycle) stagePatternExtraction(ctx context.Context, report *Report) error {
	observations, err := sc.Store.ByCategory(ctx, string(engram.CategoryObservation), 1000)
	if err != nil {
		return err
	}

	groups := groupByTopic(observations)
	for topic, group := range groups {
		if len(group) < sc.cfg.MinMemoriesForPattern {
			continue
		}
		content := fmt.Sprintf("Pattern detected across %d observations: %s", len(group), topic)
		_, err := sc.Store.Insert(ctx, engram.Draft{
			Content:    content,
			Category:   string(engram.CategoryEntityAnchor),
			Importance: 0.6,
			Metadata:   map[string]any{"source": "sleep_cycle", "pattern_topic": topic, "member_count": len(group)},
		})
		if err != nil {
			continue
		}
		report.PatternsExtracted++
	}
	return nil
}

// stageProcedureCodification is stage 4: detect repeated action sequences
// and emit workflow-summary engrams, deduplicating by name against a
// substring existence check (spec.md §4.6).
func (sc *SleepCycle) stageProcedureCodification(ctx context.Context, report *Report) error {
	actions, err := sc.Store.ByCategory(ctx, string(engram.CategoryAction), 1000)
	if err != nil {
		return err
	}
	groups := groupByTopic(actions)
	existingSynth, err := sc.Store.ByCategory(ctx, string(engram.CategorySynthesis), 1000)
	if err != nil {
		return err
	}

	for topic, group := range groups {
		if len(group) < sc.cfg.MinMemoriesForPattern {
			continue
		}
		name := fmt.Sprintf("workflow: %s", topic)
		if containsSubstring(existingSynth, name) {
			continue
		}
		content := fmt.Sprintf("%s (observed %d times)", name, len(group))
		_, err := sc.Store.Insert(ctx, engram.Draft{
			Content:    content,
			Category:   string(engram.CategorySynthesis),
			Importance: 0.6,
			Metadata:   map[string]any{"source": "sleep_cycle", "workflow_name": name},
		})
		if err != nil {
			continue
		}
		report.ProceduresCreated++
	}
	return nil
}

// stageEdgePrediction is stage 5: for high-similarity pairs, materialize
// relationship edges in the Knowledge Graph adapter, bounded per cycle.
func (sc *SleepCycle) stageEdgePrediction(ctx context.Context, report *Report) error {
	if sc.Graph == nil {
		return nil
	}
	page, err := sc.Store.List(ctx, store.ListOptions{Limit: 500, Sort: store.SortRecent})
	if err != nil {
		return err
	}

	predicted := 0
	for i := 0; i < len(page.Engrams) && predicted < sc.cfg.EdgePredictionCapPerCycle; i++ {
		for j := i + 1; j < len(page.Engrams) && predicted < sc.cfg.EdgePredictionCapPerCycle; j++ {
			a, b := page.Engrams[i], page.Engrams[j]
			if !a.HasEmbedding() || !b.HasEmbedding() {
				continue
			}
			sim, err := cosineOrZero(a, b)
			if err != nil || sim < sc.cfg.EdgePredictionSimilarity {
				continue
			}
			sc.Graph.AddEdge(graph.Edge{From: a.ID, To: b.ID, RelationType: "related", Weight: float64(sim), Content: a.Content})
			predicted++
			report.EdgesPredicted++
		}
	}
	return nil
}

// stagePruning is stage 6: merge near-duplicates and delete unprotected
// engrams whose decay score is below PruneThreshold.
func (sc *SleepCycle) stagePruning(ctx context.Context, report *Report) error {
	page, err := sc.Store.List(ctx, store.ListOptions{Limit: 1000, Sort: store.SortRecent})
	if err != nil {
		return err
	}

	for _, dup := range FindNearDuplicates(page.Engrams) {
		if sc.Chain == nil {
			continue
		}
		if err := sc.Chain.Supersede(ctx, dup.OlderID, dup.NewerID, engram.SupersessionMerge); err == nil {
			report.DuplicatesMerged++
		}
	}

	now := time.Now()
	for _, e := range page.Engrams {
		if e.Protected || e.IsSuperseded() {
			continue
		}
		if Score(e, now) < PruneThreshold {
			if err := sc.Store.Delete(ctx, e.ID); err == nil {
				report.MemoriesPruned++
			}
		}
	}
	return nil
}

func cosineOrZero(a, b *engram.Engram) (float32, error) {
	return quantize.CosineF32(a.EmbeddingF32, b.EmbeddingF32)
}

// groupByTopic buckets engrams by their most frequent significant token, a
// cheap stand-in for true topic modeling appropriate for the sleep cycle's
// best-effort pattern extraction.
func groupByTopic(engrams []*engram.Engram) map[string][]*engram.Engram {
	groups := make(map[string][]*engram.Engram)
	for _, e := range engrams {
		topic := dominantToken(e.Content)
		if topic == "" {
			continue
		}
		groups[topic] = append(groups[topic], e)
	}
	return groups
}

func dominantToken(content string) string {
	tokens := tokenPattern.FindAllString(strings.ToLower(content), -1)
	counts := map[string]int{}
	for _, t := range tokens {
		if len(t) < 4 {
			continue
		}
		counts[t]++
	}
	var best string
	var bestCount int
	for t, c := range counts {
		if c > bestCount || (c == bestCount && t < best) {
			best, bestCount = t, c
		}
	}
	return best
}

func containsSubstring(engrams []*engram.Engram, substr string) bool {
	for _, e := range engrams {
		if strings.Contains(e.Content, substr) {
			return true
		}
	}
	return false
}
