package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/engramind/internal/embedclient"
	"github.com/scrypster/engramind/internal/index/hnsw"
	"github.com/scrypster/engramind/internal/quantize"
	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/pkg/engram"
)

// Bounds caps a single Ingest call, per spec.md §4.8 "Bounds".
type Bounds struct {
	MaxBytes  int
	MaxChunks int
}

// DefaultBounds matches the teacher's practical per-file limits: generous
// enough for real notes/transcripts, tight enough to keep one bad input from
// spamming the store.
func DefaultBounds() Bounds {
	return Bounds{MaxBytes: 2 << 20, MaxChunks: 500}
}

// Request describes one Ingest call (spec.md §6 memory.ingest).
type Request struct {
	Content    string
	Strategy   Strategy
	Category   string
	Importance float64
	Tags       []string
	Metadata   map[string]any
}

// Result is the outcome of Ingest (spec.md §6 memory.ingest output).
type Result struct {
	ChunksCreated int
	IDs           []int64
}

// EmbedRetries is the total number of embedding attempts Pipeline makes for
// a chunk before giving up and leaving the chunk lexically searchable only
// (spec.md §7: "Ingest retries embedder calls ... Beyond the cap they
// become caller-visible" — here logged, not surfaced, since embedding
// failure does not fail the Insert that already committed).
const EmbedRetries = 3

// EmbedBackoffBase is the initial exponential-backoff delay between embed
// retries.
const EmbedBackoffBase = 100 * time.Millisecond

// Pipeline implements the Ingest Pipeline (spec.md §4.8): chunk, insert,
// then embed and index each chunk. Embedding runs inline, so Ingest returns
// only after every chunk's embedding attempts have finished; it is not
// deferred to a background worker.
type Pipeline struct {
	Store    store.EngramStore
	Index    *hnsw.Index
	Embedder embedclient.Embedder
	Bounds   Bounds
}

// New constructs a Pipeline with DefaultBounds.
func New(s store.EngramStore, idx *hnsw.Index, embedder embedclient.Embedder) *Pipeline {
	return &Pipeline{Store: s, Index: idx, Embedder: embedder, Bounds: DefaultBounds()}
}

// Ingest chunks req.Content per req.Strategy, inserts one engram per chunk,
// and — for each successfully inserted chunk — requests an embedding and
// indexes it. Embedding failures are retried with exponential backoff; if
// still failing after EmbedRetries, the engram remains searchable lexically
// and embedding is simply skipped (spec.md §4.8: "the engram remains
// searchable lexically in the meantime").
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	if len(req.Content) > p.Bounds.MaxBytes {
		return Result{}, fmt.Errorf("%w: content is %d bytes, exceeds limit of %d", engram.ErrFileTooLarge, len(req.Content), p.Bounds.MaxBytes)
	}

	chunks, err := Chunk(req.Content, req.Strategy)
	if err != nil {
		return Result{}, err
	}
	if len(chunks) > p.Bounds.MaxChunks {
		return Result{}, fmt.Errorf("%w: %d chunks exceeds limit of %d", engram.ErrTooManyChunks, len(chunks), p.Bounds.MaxChunks)
	}

	result := Result{IDs: make([]int64, 0, len(chunks))}
	for _, chunkText := range chunks {
		metadata := cloneMetadata(req.Metadata)
		if len(req.Tags) > 0 {
			metadata["tags"] = req.Tags
		}

		id, err := p.Store.Insert(ctx, engram.Draft{
			Content:    chunkText,
			Category:   req.Category,
			Importance: req.Importance,
			Metadata:   metadata,
		})
		if err != nil {
			log.Printf("ingest: insert failed for a chunk: %v", err)
			continue
		}
		result.IDs = append(result.IDs, id)
		result.ChunksCreated++

		p.embedAndIndex(ctx, id, chunkText)
	}

	return result, nil
}

// embedAndIndex requests an embedding for id's content with retry, then
// writes both representations to the store and the vector index. Failures
// are logged, never returned — embedding is best-effort enrichment per
// spec.md §4.8.
func (p *Pipeline) embedAndIndex(ctx context.Context, id int64, text string) {
	if p.Embedder == nil {
		return
	}

	var vec []float32
	var err error
	for attempt := 0; attempt < EmbedRetries; attempt++ {
		vec, err = p.Embedder.Embed(ctx, text)
		if err == nil {
			break
		}
		if attempt < EmbedRetries-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(EmbedBackoffBase << attempt):
			}
		}
	}
	if err != nil {
		log.Printf("ingest: embedding failed for id=%d after %d attempts: %v", id, EmbedRetries, err)
		return
	}

	i8, _ := quantize.Quantize(vec)
	if err := p.Store.SetEmbedding(ctx, id, vec, i8); err != nil {
		log.Printf("ingest: storing embedding failed for id=%d: %v", id, err)
		return
	}
	if p.Index != nil {
		if err := p.Index.Insert(id, vec); err != nil {
			log.Printf("ingest: indexing embedding failed for id=%d: %v", id, err)
		}
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
