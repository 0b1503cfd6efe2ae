package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/pkg/engram"
)

// These tests exercise the engine-level Engine handle against end-to-end
// usage scenarios: store-then-search, supersession, temporal validity,
// temporal redirect routing, feedback-driven re-ranking, and a sleep cycle
// that both extracts a pattern and merges a near-duplicate pair.
//
// embedclient.Fake hashes whitespace tokens into a vector; it has no notion
// of semantic nearness between distinct words. Scenarios below that need a
// query to single out one stored fact lean on literal word overlap (which
// both the Fake embedder's per-token hashing and the lexical BM25 signal
// agree on) rather than on synonyms a real embedding model would place near
// each other.

func TestScenarioA_StoreAndSearchSurfacesTheMatchingFact(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	target, err := e.Store(ctx, StoreRequest{Content: "Alice owns a red bicycle", Category: "fact"})
	require.NoError(t, err)
	_, err = e.Store(ctx, StoreRequest{Content: "the weather in Tokyo was cloudy yesterday", Category: "fact"})
	require.NoError(t, err)
	_, err = e.Store(ctx, StoreRequest{Content: "quarterly revenue grew by ten percent", Category: "fact"})
	require.NoError(t, err)

	resp, err := e.Search(ctx, SearchRequest{Query: "Alice bicycle", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, target.ID, resp.Results[0].Engram.ID, "the fact sharing both query tokens should rank first")
	assert.Greater(t, resp.Results[0].Score, 0.0)
}

func TestScenarioB_SupersessionExcludesTheOldFactFromDefaultSearch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	original, err := e.Store(ctx, StoreRequest{Content: "Bob works at Acme", Category: "fact"})
	require.NoError(t, err)
	updated, err := e.Store(ctx, StoreRequest{Content: "Bob works at Globex", Category: "fact"})
	require.NoError(t, err)

	_, err = e.Supersede(ctx, original.ID, updated.ID, engram.SupersessionCorrection)
	require.NoError(t, err)

	resp, err := e.Search(ctx, SearchRequest{Query: "Bob employer", Category: "fact", Limit: 10})
	require.NoError(t, err)

	var sawOriginal, sawUpdated bool
	for _, hit := range resp.Results {
		if hit.Engram.ID == original.ID {
			sawOriginal = true
		}
		if hit.Engram.ID == updated.ID {
			sawUpdated = true
		}
	}
	assert.False(t, sawOriginal, "a superseded engram must not surface in a default (non-history) search")

	chain, err := e.GetChain(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, chain[1].IsActive())
	_ = sawUpdated
}

func TestScenarioC_TemporalValidityWindowsGateSearchResults(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

	h1Spring, err := e.Store(ctx, StoreRequest{
		Content:    "the office was located on Maple Street",
		Category:   "fact",
		ValidFrom:  &from,
		ValidUntil: &until,
	})
	require.NoError(t, err)

	secondFrom := until
	secondUntil := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	h1Fall, err := e.Store(ctx, StoreRequest{
		Content:    "the office was located on Maple Street",
		Category:   "fact",
		ValidFrom:  &secondFrom,
		ValidUntil: &secondUntil,
	})
	require.NoError(t, err)
	assert.NotEqual(t, h1Spring.ID, h1Fall.ID, "identical content under different validity windows must coexist, not dedupe")

	inside := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	resp, err := e.Search(ctx, SearchRequest{Query: "office Maple Street", Category: "fact", ValidAt: &inside, Limit: 10})
	require.NoError(t, err)
	var foundSpring bool
	for _, hit := range resp.Results {
		if hit.Engram.ID == h1Spring.ID {
			foundSpring = true
		}
		assert.NotEqual(t, h1Fall.ID, hit.Engram.ID, "a fact not yet valid at the query time must not surface")
	}
	assert.True(t, foundSpring)

	outside := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	resp, err = e.Search(ctx, SearchRequest{Query: "office Maple Street", Category: "fact", ValidAt: &outside, Limit: 10})
	require.NoError(t, err)
	for _, hit := range resp.Results {
		assert.NotEqual(t, h1Spring.ID, hit.Engram.ID)
		assert.NotEqual(t, h1Fall.ID, hit.Engram.ID)
	}
}

func TestScenarioD_TemporalPhrasingRedirectsToRecentList(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	older, err := e.Store(ctx, StoreRequest{Content: "sprint plan drafted in january", Category: "plan"})
	require.NoError(t, err)
	newer, err := e.Store(ctx, StoreRequest{Content: "sprint plan drafted in february", Category: "plan"})
	require.NoError(t, err)

	resp, err := e.Search(ctx, SearchRequest{Query: "what's the latest plan", Category: "plan", UseRouter: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "temporal_redirect", resp.QueryType)
	assert.True(t, resp.TemporalQuery)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, newer.ID, resp.Results[0].Engram.ID, "a temporal redirect sorts by recency, newest first")
	assert.Equal(t, older.ID, resp.Results[len(resp.Results)-1].Engram.ID)
}

func TestScenarioE_FeedbackReordersOtherwiseTiedResults(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	r1, err := e.Store(ctx, StoreRequest{Content: "runbook for rotating database credentials", Category: "fact"})
	require.NoError(t, err)
	r2, err := e.Store(ctx, StoreRequest{Content: "runbook for rotating database credentials", Category: "fact"})
	require.NoError(t, err)
	r3, err := e.Store(ctx, StoreRequest{Content: "runbook for rotating database credentials", Category: "fact"})
	require.NoError(t, err)

	before, err := e.Search(ctx, SearchRequest{Query: "rotating database credentials", Category: "fact", Limit: 10})
	require.NoError(t, err)
	require.Len(t, before.Results, 3)

	e.SignalUseful("session-a", []int64{r1.ID})
	e.SignalNoise("session-a", []int64{r2.ID})
	e.SignalNoise("session-a", []int64{r3.ID})
	e.FlushFeedback()

	after, err := e.Search(ctx, SearchRequest{Query: "rotating database credentials", Category: "fact", Limit: 10})
	require.NoError(t, err)
	require.Len(t, after.Results, 3)
	assert.Equal(t, r1.ID, after.Results[0].Engram.ID, "the positively-signaled engram should rank first after feedback is flushed")
}

func TestScenarioF_SleepCycleExtractsPatternAndMergesDuplicates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := e.Store(ctx, StoreRequest{
			Content:  "deployment pipeline observation about kubernetes rollout",
			Category: string(engram.CategoryObservation),
		})
		require.NoError(t, err)
	}

	dupA, err := e.Store(ctx, StoreRequest{Content: "the quarterly report is due friday", Category: "fact", Importance: 0.5})
	require.NoError(t, err)
	dupB, err := e.Store(ctx, StoreRequest{Content: "the quarterly report is due on friday", Category: "fact", Importance: 0.5})
	require.NoError(t, err)

	report, err := e.RunSleepCycle(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, report.StageErrors)
	assert.GreaterOrEqual(t, report.PatternsExtracted, 1)
	assert.GreaterOrEqual(t, report.DuplicatesMerged, 1)

	chain, err := e.GetChain(ctx, dupA.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	var merged *engram.Engram
	for _, eng := range chain {
		if eng.ID == dupB.ID {
			merged = eng
		}
	}
	require.NotNil(t, merged)
	require.NotNil(t, merged.SupersessionType)
	assert.Equal(t, engram.SupersessionMerge, *merged.SupersessionType)
	_ = dupB
}
