package decay_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/internal/chain"
	"github.com/scrypster/engramind/internal/decay"
	"github.com/scrypster/engramind/internal/feedback"
	"github.com/scrypster/engramind/internal/graph"
	"github.com/scrypster/engramind/internal/index/hnsw"
	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/internal/store/sqlite"
	"github.com/scrypster/engramind/internal/telemetry"
	"github.com/scrypster/engramind/pkg/engram"
)

type recordingSink struct {
	events []telemetry.Event
}

func (r *recordingSink) Emit(e telemetry.Event) { r.events = append(r.events, e) }

func TestScore_DecaysWithAgeAndBoostsWithAccess(t *testing.T) {
	now := time.Now()
	fresh := &engram.Engram{Importance: 0.8, DecayRate: 0.01, InsertedAt: now}
	old := &engram.Engram{Importance: 0.8, DecayRate: 0.01, InsertedAt: now.Add(-365 * 24 * time.Hour)}

	assert.Greater(t, decay.Score(fresh, now), decay.Score(old, now))

	accessed := &engram.Engram{Importance: 0.8, DecayRate: 0.01, InsertedAt: now, AccessCount: 10}
	assert.Greater(t, decay.Score(accessed, now), decay.Score(fresh, now))
}

func TestAtRisk_UsesDefaultThresholdWhenZero(t *testing.T) {
	now := time.Now()
	stale := &engram.Engram{Importance: 0.05, DecayRate: 0.1, InsertedAt: now.Add(-90 * 24 * time.Hour)}
	assert.True(t, decay.AtRisk(stale, now, 0))

	fresh := &engram.Engram{Importance: 0.9, DecayRate: 0.0001, InsertedAt: now}
	assert.False(t, decay.AtRisk(fresh, now, 0))
}

func TestJaccard_IdenticalAndDisjointSets(t *testing.T) {
	assert.Equal(t, 1.0, decay.Jaccard("the quick fox", "the quick fox"))
	assert.Equal(t, 0.0, decay.Jaccard("apples oranges", "trains planes"))

	partial := decay.Jaccard("the quarterly report is due friday", "the quarterly report is due on friday")
	assert.Greater(t, partial, decay.JaccardThreshold)
}

func TestFindNearDuplicates_RequiresBothJaccardAndCosine(t *testing.T) {
	base := []float32{1, 0, 0, 0}
	similar := []float32{0.99, 0.01, 0, 0}
	distant := []float32{0, 1, 0, 0}

	t1 := time.Now().Add(-time.Hour)
	t2 := time.Now()

	a := &engram.Engram{ID: 1, Content: "the quarterly report is due friday", EmbeddingF32: base, InsertedAt: t1}
	b := &engram.Engram{ID: 2, Content: "the quarterly report is due on friday", EmbeddingF32: similar, InsertedAt: t2}
	c := &engram.Engram{ID: 3, Content: "a completely unrelated memory about hiking", EmbeddingF32: distant, InsertedAt: t2}

	candidates := decay.FindNearDuplicates([]*engram.Engram{a, b, c})
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(1), candidates[0].OlderID)
	assert.Equal(t, int64(2), candidates[0].NewerID)
}

func TestFindNearDuplicates_SkipsEngramsWithoutEmbeddings(t *testing.T) {
	a := &engram.Engram{ID: 1, Content: "same text same text", InsertedAt: time.Now()}
	b := &engram.Engram{ID: 2, Content: "same text same text", InsertedAt: time.Now()}
	assert.Empty(t, decay.FindNearDuplicates([]*engram.Engram{a, b}))
}

func newTestSleepCycle(t *testing.T) (*decay.SleepCycle, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engramind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	idx := hnsw.New(hnsw.DefaultConfig())
	g := graph.New(graph.Bounds{})
	fb := feedback.New(feedback.DefaultConfig())
	cm := chain.New(s)

	return decay.New(s, idx, g, fb, cm, nil, decay.DefaultConfig()), s
}

func TestSleepCycle_ShouldRun_GatedByQuietPeriodAndMinimumGap(t *testing.T) {
	sc, _ := newTestSleepCycle(t)
	now := time.Now()

	assert.False(t, sc.ShouldRun(now), "fresh cycle's activity clock resets to now, so the quiet period has not elapsed")

	past := now.Add(decay.QuietPeriod + time.Minute)
	assert.True(t, sc.ShouldRun(past))
}

func TestSleepCycle_Run_SkipsWhenNotForcedAndNotDue(t *testing.T) {
	sc, _ := newTestSleepCycle(t)
	_, err := sc.Run(context.Background(), false)
	require.Error(t, err)
}

func TestSleepCycle_Run_ForcedBypassesGate(t *testing.T) {
	sc, _ := newTestSleepCycle(t)
	report, err := sc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, report.StageErrors)
}

func TestSleepCycle_QualityMaintenance_CallsFeedbackPruneStale(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engramind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	idx := hnsw.New(hnsw.DefaultConfig())
	g := graph.New(graph.Bounds{})
	fb := feedback.New(feedback.DefaultConfig())
	cm := chain.New(s)
	sc := decay.New(s, idx, g, fb, cm, nil, decay.DefaultConfig())

	fb.SignalUseful("session-1", []int64{42})
	fb.Flush()
	require.Greater(t, fb.Factor(42), 1.0)

	// A factor freshly flushed is not stale; a sleep cycle run must not wipe
	// it, confirming the quality-maintenance stage calls PruneStale with the
	// current time rather than clobbering live evidence.
	_, err = sc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Greater(t, fb.Factor(42), 1.0, "a fresh helpfulness factor must survive a sleep cycle run")

	removed := fb.PruneStale(time.Now().Add(feedback.StaleAfter + time.Hour))
	assert.Equal(t, 1, removed, "sanity check: PruneStale does remove the factor once it is actually stale")
}

func TestSleepCycle_IndexHealth_PublishesIndexRebuildEventWhenRebuilt(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engramind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	idx := hnsw.New(hnsw.DefaultConfig())
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, idx.Insert(i, []float32{float32(i), 0, 0, 0}))
	}
	for i := int64(1); i <= 5; i++ {
		idx.Remove(i)
	}
	require.GreaterOrEqual(t, idx.TombstoneRatio(), hnsw.DefaultConfig().TombstoneRebuildRatio)

	sink := &recordingSink{}
	bus := telemetry.NewBus(8, sink)
	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	g := graph.New(graph.Bounds{})
	fb := feedback.New(feedback.DefaultConfig())
	cm := chain.New(s)
	sc := decay.New(s, idx, g, fb, cm, bus, decay.DefaultConfig())

	_, err = sc.Run(context.Background(), true)
	require.NoError(t, err)

	cancel()
	bus.Wait()

	require.Len(t, sink.events, 1)
	assert.Equal(t, telemetry.EventIndexRebuild, sink.events[0].Type)
}

func TestSleepCycle_PatternExtraction_EmitsEntityAnchor(t *testing.T) {
	sc, s := newTestSleepCycle(t)
	ctx := context.Background()

	for i := 0; i < decay.MinMemoriesForPattern+1; i++ {
		_, err := s.Insert(ctx, engram.Draft{
			Content:  "deployment pipeline observation about kubernetes rollout",
			Category: string(engram.CategoryObservation),
		})
		require.NoError(t, err)
	}

	report, err := sc.Run(ctx, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.PatternsExtracted, 1)

	page, err := s.List(ctx, store.ListOptions{Limit: 10, Sort: store.SortRecent, Filter: store.Filter{Category: "entity_anchor"}})
	require.NoError(t, err)
	require.NotEmpty(t, page.Engrams)
	assert.Equal(t, "sleep_cycle", page.Engrams[0].Metadata["source"])
}

func TestSleepCycle_Pruning_DeletesLowScoreUnprotectedEngrams(t *testing.T) {
	sc, s := newTestSleepCycle(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, engram.Draft{
		Content:    "transient note nobody needs anymore",
		Category:   "observation",
		Importance: 0.01,
	})
	require.NoError(t, err)

	_, err = sc.Run(ctx, true)
	require.NoError(t, err)

	_, err = s.Get(ctx, id)
	assert.Error(t, err, "a near-zero decay score below PruneThreshold should have been deleted")
}

func TestSleepCycle_Pruning_NeverDeletesProtectedEngrams(t *testing.T) {
	sc, s := newTestSleepCycle(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, engram.Draft{
		Content:    "protected but otherwise decayed memory",
		Category:   "fact",
		Importance: 0.01,
		Protected:  true,
	})
	require.NoError(t, err)

	_, err = sc.Run(ctx, true)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}
