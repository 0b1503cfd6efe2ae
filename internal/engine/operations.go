package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/engramind/internal/backup"
	"github.com/scrypster/engramind/internal/decay"
	"github.com/scrypster/engramind/internal/ingest"
	"github.com/scrypster/engramind/internal/retriever"
	"github.com/scrypster/engramind/internal/router"
	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/internal/telemetry"
	"github.com/scrypster/engramind/pkg/engram"
)

// StoreRequest is the input to memory.store (spec.md §6).
type StoreRequest struct {
	Content        string
	Category       string
	Importance     float64
	Protected      bool
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	ValiditySource string
	Tags           []string
	Metadata       map[string]any
}

// StoreResult is the output of memory.store. Duplicate, when non-nil, names
// the id of a near-duplicate engram found in the same category at insert
// time (spec.md §4.6's near-duplicate check applied eagerly rather than
// waiting for the next sleep cycle).
type StoreResult struct {
	ID        int64
	Duplicate *int64
}

// Store inserts a new engram, embeds and indexes it (best-effort, if an
// embedder is configured), and reports a same-category near-duplicate if
// one is found.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	e.noteActivity()

	metadata := req.Metadata
	if len(req.Tags) > 0 {
		metadata = cloneMetadata(metadata)
		metadata["tags"] = req.Tags
	}

	id, err := e.store.Insert(ctx, engram.Draft{
		Content:        req.Content,
		Category:       req.Category,
		Importance:     req.Importance,
		Protected:      req.Protected,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		ValiditySource: req.ValiditySource,
		Metadata:       metadata,
	})
	if err != nil {
		return StoreResult{}, err
	}

	dup := e.findDuplicate(ctx, id, req.Category, req.Content)

	e.embedAndIndex(ctx, e.embedder, id, req.Content)

	e.bus.Publish(telemetry.Event{Type: telemetry.EventInsert, Fields: map[string]any{"id": id, "category": req.Category}})

	return StoreResult{ID: id, Duplicate: dup}, nil
}

// findDuplicate scans recent engrams in category for a Jaccard-similar
// match to content, per spec.md §4.6's near-duplicate token-overlap check.
// It is intentionally cheap (no embedding comparison): the authoritative
// cosine+Jaccard consolidation happens in the sleep cycle; this is an
// early, best-effort signal surfaced to the caller of memory.store.
func (e *Engine) findDuplicate(ctx context.Context, newID int64, category, content string) *int64 {
	if category == "" {
		return nil
	}
	recent, err := e.store.ByCategory(ctx, category, 50)
	if err != nil {
		return nil
	}
	for _, candidate := range recent {
		if candidate.ID == newID {
			continue
		}
		if decay.Jaccard(content, candidate.Content) >= decay.JaccardThreshold {
			id := candidate.ID
			return &id
		}
	}
	return nil
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SearchRequest is the input to memory.search (spec.md §6).
type SearchRequest struct {
	Query     string
	Limit     int
	Threshold float64
	Category  string
	AsOf      *time.Time
	ValidAt   *time.Time
	UseRouter bool
}

// SearchResponse is the output of memory.search (spec.md §6).
type SearchResponse struct {
	Results           []retriever.Hit
	TotalSearched     int
	QueryType         string
	RoutingConfidence float64
	Coverage          float64
	TemporalQuery     bool
}

// Search retrieves engrams ranked by the Hybrid Retriever, optionally
// routed through the Query Router. A temporal redirect bypasses the
// retriever entirely in favor of store.List(sort=recent), per spec.md §4.4.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	e.noteActivity()

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.Retrieval.DefaultLimit
	}

	validAt := req.ValidAt
	if validAt == nil {
		validAt = req.AsOf
	}

	if !req.UseRouter {
		start := time.Now()
		hits, err := e.rtr.Retrieve(ctx, req.Query, limit, e.retrievalWeights(), retriever.Filters{
			Category:          req.Category,
			MinImportance:     e.thresholdOrDefault(req.Threshold),
			ExcludeSuperseded: true,
			ValidAt:           validAt,
		})
		if err != nil {
			return SearchResponse{}, err
		}
		e.publishSearch(req.Query, hits, time.Since(start))
		return SearchResponse{
			Results:       hits,
			TotalSearched: len(hits),
			QueryType:     string(router.IntentSemantic),
			Coverage:      1.0,
		}, nil
	}

	plan := router.Route(req.Query, limit, req.Category)

	if plan.Redirect != nil {
		start := time.Now()
		page, err := e.store.List(ctx, router.ListOptionsFromRedirect(plan.Redirect))
		if err != nil {
			return SearchResponse{}, err
		}
		hits := make([]retriever.Hit, 0, len(page.Engrams))
		for _, eng := range page.Engrams {
			hits = append(hits, retriever.Hit{Engram: eng})
		}
		e.publishSearch(req.Query, hits, time.Since(start))
		return SearchResponse{
			Results:           hits,
			TotalSearched:     len(hits),
			QueryType:         "temporal_redirect",
			RoutingConfidence: plan.Confidence,
			Coverage:          1.0,
			TemporalQuery:     true,
		}, nil
	}

	filters := plan.Filters
	filters.ValidAt = validAt
	filters.MinImportance = e.thresholdOrDefault(req.Threshold)

	start := time.Now()
	hits, err := e.rtr.Retrieve(ctx, req.Query, limit, plan.Weights, filters)
	if err != nil {
		return SearchResponse{}, err
	}
	e.publishSearch(req.Query, hits, time.Since(start))
	return SearchResponse{
		Results:           hits,
		TotalSearched:     len(hits),
		QueryType:         string(plan.Intent),
		RoutingConfidence: plan.Confidence,
		Coverage:          1.0,
	}, nil
}

// retrievalWeights returns spec.md §4.3's default signal weights with the
// recency coefficient overridden by the configured per-process default,
// when one is set.
func (e *Engine) retrievalWeights() retriever.Weights {
	w := retriever.DefaultWeights()
	if e.cfg.Retrieval.RecencyBoost > 0 {
		w.Recency = e.cfg.Retrieval.RecencyBoost
	}
	return w
}

// thresholdOrDefault returns threshold unchanged when the caller specified
// one, else the configured per-process default importance floor.
func (e *Engine) thresholdOrDefault(threshold float64) float64 {
	if threshold > 0 {
		return threshold
	}
	return e.cfg.Retrieval.DefaultThreshold
}

// publishSearch emits a search telemetry event carrying retrieve latency and
// the top hit's per-signal score breakdown (spec.md §6's "search (with
// latency and signal breakdown)").
func (e *Engine) publishSearch(query string, hits []retriever.Hit, latency time.Duration) {
	fields := map[string]any{"query": query, "result_count": len(hits)}
	if len(hits) > 0 {
		top := hits[0].Signals
		fields["top_signals"] = map[string]float64{
			"vector":  top.Vector,
			"lexical": top.Lexical,
			"graph":   top.Graph,
			"helpful": top.Helpful,
			"recency": top.Recency,
		}
	}
	e.bus.Publish(telemetry.Event{
		Type:      telemetry.EventSearch,
		LatencyMS: float64(latency.Microseconds()) / 1000.0,
		Fields:    fields,
	})
}

// List returns a page of engrams per opts (memory.list, spec.md §6).
func (e *Engine) List(ctx context.Context, opts store.ListOptions) (*store.Page, error) {
	return e.store.List(ctx, opts)
}

// Get retrieves a single engram by id (memory.get).
func (e *Engine) Get(ctx context.Context, id int64) (*engram.Engram, error) {
	return e.store.Get(ctx, id)
}

// Delete removes an engram permanently (memory.delete).
func (e *Engine) Delete(ctx context.Context, id int64) (bool, error) {
	e.noteActivity()
	if err := e.store.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// StatsResponse is the output of memory.stats (spec.md §6).
type StatsResponse struct {
	Total         int
	ByCategory    map[string]int
	AvgImportance float64
	AtRiskCount   int
	Oldest        *time.Time
	Newest        *time.Time
}

// Stats aggregates store-wide counters plus an at-risk count derived from
// the decay model.
func (e *Engine) Stats(ctx context.Context) (StatsResponse, error) {
	s, err := e.store.Stats(ctx)
	if err != nil {
		return StatsResponse{}, err
	}

	atRisk, err := e.DecayCheck(ctx, decay.Threshold, 0)
	if err != nil {
		return StatsResponse{}, err
	}

	return StatsResponse{
		Total:         s.Total,
		ByCategory:    s.ByCategory,
		AvgImportance: s.AvgImportance,
		AtRiskCount:   len(atRisk),
		Oldest:        s.Oldest,
		Newest:        s.Newest,
	}, nil
}

// DecayCheck scans up to 1000 active engrams in the store's decay_score
// order (ascending importance) and returns those below threshold (0 means
// decay.Threshold), bounded by limit (0 means unbounded). Results keep that
// store order; they are not re-sorted by the computed decay score.
func (e *Engine) DecayCheck(ctx context.Context, threshold float64, limit int) ([]*engram.Engram, error) {
	pageLimit := 1000
	page, err := e.store.List(ctx, store.ListOptions{Limit: pageLimit, Sort: store.SortDecayScore, Filter: store.Filter{ExcludeSuperseded: true}})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var atRisk []*engram.Engram
	for _, eng := range page.Engrams {
		if decay.AtRisk(eng, now, threshold) {
			atRisk = append(atRisk, eng)
		}
	}

	if limit > 0 && len(atRisk) > limit {
		atRisk = atRisk[:limit]
	}
	return atRisk, nil
}

// GetChain returns the full supersession chain containing id, original
// first (memory.get_chain).
func (e *Engine) GetChain(ctx context.Context, id int64) ([]*engram.Engram, error) {
	return e.cm.GetChain(ctx, id)
}

// GetCurrent returns the current (non-superseded) member of id's chain
// (memory.get_current).
func (e *Engine) GetCurrent(ctx context.Context, id int64) (*engram.Engram, error) {
	return e.cm.GetCurrent(ctx, id)
}

// GetOriginal returns the original (no-predecessor) member of id's chain
// (memory.get_original).
func (e *Engine) GetOriginal(ctx context.Context, id int64) (*engram.Engram, error) {
	return e.cm.GetOriginal(ctx, id)
}

// SupersedeResult is the output of memory.supersede.
type SupersedeResult struct {
	SupersededID int64
	SuccessorID  int64
	Type         engram.SupersessionType
}

// Supersede links newID as oldID's successor (memory.supersede).
func (e *Engine) Supersede(ctx context.Context, oldID, newID int64, typ engram.SupersessionType) (SupersedeResult, error) {
	e.noteActivity()
	if err := e.cm.Supersede(ctx, oldID, newID, typ); err != nil {
		return SupersedeResult{}, err
	}
	e.bus.Publish(telemetry.Event{
		Type:   telemetry.EventSupersede,
		Fields: map[string]any{"superseded_id": oldID, "successor_id": newID, "type": string(typ)},
	})
	return SupersedeResult{SupersededID: oldID, SuccessorID: newID, Type: typ}, nil
}

// Ingest chunks and stores req.Content or the file it names (memory.ingest).
func (e *Engine) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	e.noteActivity()
	result, err := e.pipe.Ingest(ctx, req)
	if err != nil {
		return ingest.Result{}, err
	}
	e.bus.Publish(telemetry.Event{
		Type:   telemetry.EventInsert,
		Fields: map[string]any{"chunks_created": result.ChunksCreated, "source": "ingest"},
	})
	return result, nil
}

// SignalUseful records a positive usage signal for each id
// (feedback.signal_useful).
func (e *Engine) SignalUseful(sessionID string, ids []int64) {
	e.fb.SignalUseful(sessionID, ids)
}

// SignalNoise records a negative usage signal for each id
// (feedback.signal_noise).
func (e *Engine) SignalNoise(sessionID string, ids []int64) {
	e.fb.SignalNoise(sessionID, ids)
}

// FlushFeedback applies all pending usage signals to the helpfulness
// snapshot the Hybrid Retriever reads (feedback.flush).
func (e *Engine) FlushFeedback() {
	e.fb.Flush()
}

// RunSleepCycle triggers a maintenance cycle immediately (force=true bypass
// of the quiet-period/minimum-gap gate), used by cmd/engramctl's manual
// trigger and by Scenario F's test harness.
func (e *Engine) RunSleepCycle(ctx context.Context, force bool) (decay.Report, error) {
	report, err := e.sleep.Run(ctx, force)
	if err != nil {
		return decay.Report{}, err
	}
	e.publishSleepCycleReport(report)
	return report, nil
}

// Backup triggers an immediate backup if the backup service is configured.
func (e *Engine) Backup(ctx context.Context) (*backup.BackupResult, error) {
	if e.backupSvc == nil {
		return nil, fmt.Errorf("engine: backup is not enabled")
	}
	return e.backupSvc.BackupNow(ctx)
}
