package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/internal/config"
	"github.com/scrypster/engramind/internal/embedclient"
	"github.com/scrypster/engramind/internal/ingest"
	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/internal/telemetry"
	"github.com/scrypster/engramind/pkg/engram"
)

type recordingSink struct {
	events []telemetry.Event
}

func (r *recordingSink) Emit(e telemetry.Event) { r.events = append(r.events, e) }

// newTestEngine builds an Engine over a temp-file sqlite store with a fake
// embedder, matching the teacher's createTestStore idiom but against this
// repository's own config/store wiring.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.Load()
	cfg.Store.Backend = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "engramind.db")
	cfg.Engine.CheckIntervalMS = 60 * 60 * 1000 // keep the scheduler from firing mid-test

	e, err := New(cfg, embedclient.NewFake(16))
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func TestEngine_DoubleStart(t *testing.T) {
	e := newTestEngine(t)

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	// the engine must remain usable after a rejected double-start
	_, err = e.Store(context.Background(), StoreRequest{Content: "still alive", Category: "fact"})
	require.NoError(t, err)
}

func TestEngine_DoubleShutdown(t *testing.T) {
	cfg := config.Load()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "engramind.db")

	e, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))

	err = e.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestEngine_Store_AssignsIDAndEmbeds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Store(ctx, StoreRequest{
		Content:    "the rocket launched at dawn",
		Category:   "fact",
		Importance: 0.8,
	})
	require.NoError(t, err)
	assert.Greater(t, res.ID, int64(0))
	assert.Nil(t, res.Duplicate)

	got, err := e.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "the rocket launched at dawn", got.Content)
	assert.True(t, got.HasEmbedding())
}

func TestEngine_Store_ReportsNearDuplicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Store(ctx, StoreRequest{Content: "the quarterly report is due Friday", Category: "fact"})
	require.NoError(t, err)

	second, err := e.Store(ctx, StoreRequest{Content: "the quarterly report is due on Friday", Category: "fact"})
	require.NoError(t, err)
	require.NotNil(t, second.Duplicate)
	assert.Equal(t, first.ID, *second.Duplicate)
}

func TestEngine_Search_DirectRetrieval(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Content: "paris is the capital of france", Category: "fact"})
	require.NoError(t, err)
	_, err = e.Store(ctx, StoreRequest{Content: "rome is the capital of italy", Category: "fact"})
	require.NoError(t, err)

	resp, err := e.Search(ctx, SearchRequest{Query: "capital of france", Limit: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
	assert.Equal(t, 1.0, resp.Coverage)
}

func TestEngine_Search_PublishesLatencyAndSignalBreakdown(t *testing.T) {
	cfg := config.Load()
	cfg.Store.Backend = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "engramind.db")
	cfg.Engine.CheckIntervalMS = 60 * 60 * 1000

	sink := &recordingSink{}
	e, err := New(cfg, embedclient.NewFake(16), sink)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	ctx := context.Background()
	_, err = e.Store(ctx, StoreRequest{Content: "paris is the capital of france", Category: "fact"})
	require.NoError(t, err)

	_, err = e.Search(ctx, SearchRequest{Query: "capital of france", Limit: 5})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.events) > 0 }, time.Second, time.Millisecond)

	var found bool
	for _, evt := range sink.events {
		if evt.Type == telemetry.EventSearch {
			found = true
			assert.GreaterOrEqual(t, evt.LatencyMS, 0.0)
			assert.Contains(t, evt.Fields, "top_signals")
		}
	}
	assert.True(t, found, "a search must publish an EventSearch with latency and a signal breakdown")
}

func TestEngine_Search_AppliesConfiguredDefaultThresholdWhenCallerOmitsOne(t *testing.T) {
	cfg := config.Load()
	cfg.Store.Backend = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "engramind.db")
	cfg.Engine.CheckIntervalMS = 60 * 60 * 1000
	cfg.Retrieval.DefaultThreshold = 0.5

	e, err := New(cfg, embedclient.NewFake(16))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	ctx := context.Background()
	_, err = e.Store(ctx, StoreRequest{Content: "capital of france trivia", Category: "fact", Importance: 0.1})
	require.NoError(t, err)

	resp, err := e.Search(ctx, SearchRequest{Query: "capital of france", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "a below-default-threshold engram must not surface when the caller specified no explicit threshold")

	resp, err = e.Search(ctx, SearchRequest{Query: "capital of france", Limit: 5, Threshold: 0.0001})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results, "an explicit low caller threshold must override the configured default")
}

func TestEngine_Search_TemporalRedirectBypassesRetriever(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Content: "standup notes for the infra team", Category: "observation"})
	require.NoError(t, err)

	resp, err := e.Search(ctx, SearchRequest{Query: "what's the latest update", Category: "observation", UseRouter: true, Limit: 5})
	require.NoError(t, err)
	assert.True(t, resp.TemporalQuery)
	assert.NotEmpty(t, resp.Results)
	// a redirect hit carries no retriever score, since store.List produced it
	assert.Zero(t, resp.Results[0].Score)
}

func TestEngine_ListGetDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Store(ctx, StoreRequest{Content: "ephemeral note", Category: "observation"})
	require.NoError(t, err)

	page, err := e.List(ctx, store.ListOptions{Limit: 10, Sort: store.SortRecent})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, page.Total, 1)

	ok, err := e.Delete(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.Get(ctx, res.ID)
	assert.Error(t, err)
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Content: "a fact worth keeping", Category: "fact", Importance: 0.9})
	require.NoError(t, err)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByCategory["fact"])
}

func TestEngine_SupersedeAndChain(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	original, err := e.Store(ctx, StoreRequest{Content: "the meeting is at 3pm", Category: "plan"})
	require.NoError(t, err)
	updated, err := e.Store(ctx, StoreRequest{Content: "the meeting is at 4pm", Category: "plan"})
	require.NoError(t, err)

	res, err := e.Supersede(ctx, original.ID, updated.ID, engram.SupersessionUpdate)
	require.NoError(t, err)
	assert.Equal(t, original.ID, res.SupersededID)
	assert.Equal(t, updated.ID, res.SuccessorID)

	chain, err := e.GetChain(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	current, err := e.GetCurrent(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.ID, current.ID)

	first, err := e.GetOriginal(ctx, updated.ID)
	require.NoError(t, err)
	assert.Equal(t, original.ID, first.ID)
}

func TestEngine_FeedbackSignalsAdjustRetrieval(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Store(ctx, StoreRequest{Content: "deployment runbook for the payments service", Category: "fact"})
	require.NoError(t, err)

	e.SignalUseful("session-1", []int64{res.ID})
	e.FlushFeedback()

	assert.Greater(t, e.fb.Factor(res.ID), 1.0)
}

func TestEngine_DecayCheck(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Content: "low priority scratch note", Category: "observation", Importance: 0.1})
	require.NoError(t, err)

	atRisk, err := e.DecayCheck(ctx, 1.0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, atRisk)
}

func TestEngine_RunSleepCycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := e.Store(ctx, StoreRequest{Content: "the payments service uses postgres for storage", Category: "observation"})
		require.NoError(t, err)
	}

	report, err := e.RunSleepCycle(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, report.StageErrors)
}

func TestEngine_Ingest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.Ingest(ctx, ingest.Request{Content: "line one\nline two\nline three", Strategy: ingest.StrategyLines, Category: "fact"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunksCreated)
	assert.Len(t, result.IDs, 3)
}

func TestEngine_Backup_DisabledByDefault(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Backup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

func TestEngine_Backup_WhenEnabled(t *testing.T) {
	cfg := config.Load()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "engramind.db")
	cfg.Backup.Enabled = true
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "backups")
	cfg.Backup.IntervalString = "1h"

	e, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Shutdown(context.Background())

	ctx := context.Background()
	_, err = e.Store(ctx, StoreRequest{Content: "a record worth backing up", Category: "fact"})
	require.NoError(t, err)

	result, err := e.Backup(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Path)
}

func TestEngine_NoteActivity_DelaysAutomaticSleepCycle(t *testing.T) {
	e := newTestEngine(t)
	later := time.Now().Add(e.cfg.Engine.QuietPeriod() + time.Second)
	e.sleep.NoteActivity(later)
	assert.False(t, e.sleep.ShouldRun(later))
}
