// Package engine wires every Engramind component into a single handle: the
// Engram Store, the vector index, the Hybrid Retriever, the Query Router,
// the Temporal Chain Manager, the Decay & Consolidation Engine, Usage
// Feedback, the Ingest Pipeline, and the telemetry bus. It owns the
// background sleep-cycle lifecycle and exposes spec.md §6's operation
// surface as methods.
//
// Grounded on the teacher's internal/engine/memory_engine.go: the
// started/shuttingDown guarded lifecycle, the Start/Shutdown pair, and the
// "fast synchronous write, async enrichment" posture — generalized here
// from LLM enrichment to embedding + index + background maintenance.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/engramind/internal/backup"
	"github.com/scrypster/engramind/internal/chain"
	"github.com/scrypster/engramind/internal/config"
	"github.com/scrypster/engramind/internal/decay"
	"github.com/scrypster/engramind/internal/embedclient"
	"github.com/scrypster/engramind/internal/feedback"
	"github.com/scrypster/engramind/internal/graph"
	"github.com/scrypster/engramind/internal/index/hnsw"
	"github.com/scrypster/engramind/internal/ingest"
	"github.com/scrypster/engramind/internal/quantize"
	"github.com/scrypster/engramind/internal/retriever"
	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/internal/store/postgres"
	"github.com/scrypster/engramind/internal/store/sqlite"
	"github.com/scrypster/engramind/internal/telemetry"
)

// Engine is the single handle a caller embeds: every spec.md §6 verb is a
// method on it.
type Engine struct {
	cfg *config.Config

	store    store.EngramStore
	index    *hnsw.Index
	graph    *graph.Adapter
	fb       *feedback.Tracker
	cm       *chain.Manager
	rtr      *retriever.Retriever
	sleep    *decay.SleepCycle
	pipe     *ingest.Pipeline
	bus      *telemetry.Bus
	embedder embedclient.Embedder

	backupSvc *backup.BackupService

	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an Engine from cfg, an optional embedder (nil disables
// vector search and embedding-backed ingest), and zero or more telemetry
// sinks.
func New(cfg *config.Config, embedder embedclient.Embedder, sinks ...telemetry.Sink) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}

	s, lexical, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	idxCfg := hnsw.DefaultConfig()
	idxCfg.M = cfg.Engine.HNSWM
	idxCfg.EfConstruction = cfg.Engine.HNSWEfConstruction
	idxCfg.EfSearch = cfg.Engine.HNSWEfSearch
	idx := hnsw.New(idxCfg)
	g := graph.New(graph.Bounds{})
	fb := feedback.New(feedback.Config{
		SmoothingK: cfg.Engine.HelpfulnessSmoothingK,
		StaleAfter: time.Duration(cfg.Engine.HelpfulnessTTLDays) * 24 * time.Hour,
	})
	cm := chain.New(s)

	rtr := &retriever.Retriever{
		Store:    s,
		Lexical:  lexical,
		Index:    idx,
		Graph:    g,
		Feedback: fb,
		Embedder: embedder,
	}

	bus := telemetry.NewBus(256, sinks...)

	sleep := decay.New(s, idx, g, fb, cm, bus, decay.Config{
		QuietPeriod:               cfg.Engine.QuietPeriod(),
		MinimumGap:                2 * cfg.Engine.QuietPeriod(),
		MinMemoriesForPattern:     cfg.Engine.MinMemoriesForPattern,
		EdgePredictionSimilarity:  cfg.Engine.EdgePredictionSimilarity,
		EdgePredictionCapPerCycle: cfg.Engine.EdgePredictionCapPerCycle,
		StaleAnchorDays:           cfg.Engine.StaleAnchorDays,
		MinEntityAnchorLength:     cfg.Engine.MinEntityAnchorLength,
	})

	pipe := ingest.New(s, idx, embedder)

	var backupSvc *backup.BackupService
	if cfg.Backup.Enabled {
		interval, parseErr := time.ParseDuration(cfg.Backup.IntervalString)
		if parseErr != nil {
			interval = time.Hour
		}
		backupSvc, err = backup.NewBackupService(backup.BackupConfig{
			DBPath:        cfg.Store.DSN,
			BackupDir:     cfg.Backup.Dir,
			Interval:      interval,
			Retention:     cfg.Backup.Retention,
			VerifyBackups: cfg.Backup.Verify,
		})
		if err != nil {
			log.Printf("engine: backup service disabled, construction failed: %v", err)
			backupSvc = nil
		}
	}

	return &Engine{
		cfg:       cfg,
		store:     s,
		index:     idx,
		graph:     g,
		fb:        fb,
		cm:        cm,
		rtr:       rtr,
		sleep:     sleep,
		pipe:      pipe,
		bus:       bus,
		embedder:  embedder,
		backupSvc: backupSvc,
	}, nil
}

// openStore opens the configured backend. lexical is non-nil only for the
// sqlite backend, which is the only one with an FTS5 lexical index; the
// postgres backend relies on the vector + graph + recency signals alone.
func openStore(cfg config.StoreConfig) (store.EngramStore, *sqlite.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("engine: open sqlite store: %w", err)
		}
		return s, s, nil
	case "postgres":
		s, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("engine: open postgres store: %w", err)
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("engine: unknown store backend %q", cfg.Backend)
	}
}

// Start launches the background telemetry bus, the sleep-cycle scheduler,
// and (if configured) the backup service. It must be called before any
// operation method.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.bus.Run(runCtx)
	}()

	e.wg.Add(1)
	go e.runSleepCycleScheduler(runCtx)

	if e.backupSvc != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.backupSvc.Start(runCtx); err != nil && runCtx.Err() == nil {
				log.Printf("engine: backup service failed to start: %v", err)
			}
		}()
	}

	e.started = true
	return nil
}

// Shutdown stops all background work and closes the store. It blocks until
// in-flight background goroutines have returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return fmt.Errorf("engine: not started")
	}

	e.cancel()
	e.wg.Wait()
	e.bus.Wait()

	if e.backupSvc != nil {
		if err := e.backupSvc.Stop(); err != nil {
			log.Printf("engine: backup service stop error: %v", err)
		}
	}

	e.started = false
	return e.store.Close()
}

// runSleepCycleScheduler polls ShouldRun at the configured check interval
// and fires an automatic (non-forced) cycle when conditions allow.
func (e *Engine) runSleepCycleScheduler(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.Engine.CheckInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.sleep.ShouldRun(time.Now()) {
				continue
			}
			report, err := e.sleep.Run(ctx, false)
			if err != nil {
				continue
			}
			e.publishSleepCycleReport(report)
		}
	}
}

func (e *Engine) publishSleepCycleReport(report decay.Report) {
	e.bus.Publish(telemetry.Event{
		Type: telemetry.EventSleepCycleStage,
		Fields: map[string]any{
			"patterns_extracted":   report.PatternsExtracted,
			"procedures_created":   report.ProceduresCreated,
			"memories_pruned":      report.MemoriesPruned,
			"edges_predicted":      report.EdgesPredicted,
			"duplicates_merged":    report.DuplicatesMerged,
			"quality_issues_fixed": report.QualityIssuesFixed,
			"stage_errors":         len(report.StageErrors),
		},
	})
	if report.MemoriesPruned > 0 {
		e.bus.Publish(telemetry.Event{
			Type:   telemetry.EventDecayPrune,
			Fields: map[string]any{"count": report.MemoriesPruned},
		})
	}
}

// noteActivity resets the sleep cycle's quiet-period clock, per spec.md §4.6
// ("gated by an activity tracker").
func (e *Engine) noteActivity() {
	e.sleep.NoteActivity(time.Now())
}

// embedAndIndex is the shared helper Store uses to compute and persist both
// embedding representations for a freshly inserted engram.
func (e *Engine) embedAndIndex(ctx context.Context, embedder embedclient.Embedder, id int64, content string) {
	if embedder == nil {
		return
	}
	vec, err := embedder.Embed(ctx, content)
	if err != nil {
		log.Printf("engine: embedding failed for id=%d: %v", id, err)
		return
	}
	i8, _ := quantize.Quantize(vec)
	if err := e.store.SetEmbedding(ctx, id, vec, i8); err != nil {
		log.Printf("engine: storing embedding failed for id=%d: %v", id, err)
		return
	}
	if e.index != nil {
		if err := e.index.Insert(id, vec); err != nil {
			log.Printf("engine: indexing embedding failed for id=%d: %v", id, err)
		}
	}
}
