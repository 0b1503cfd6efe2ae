package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/scrypster/engramind/pkg/engram"
)

// LexicalResult pairs an engram with the FTS5 bm25 rank that produced it
// (more negative is a better match, matching SQLite's bm25() convention).
type LexicalResult struct {
	Engram *engram.Engram
	Rank   float64
}

var ftsTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// sanitizeFTSQuery reduces free text to a space-joined, double-quoted token
// list so punctuation in stored content never trips the FTS5 query parser,
// mirroring the teacher's internal/storage/sqlite/search_provider.go.
func sanitizeFTSQuery(q string) string {
	tokens := ftsTokenPattern.FindAllString(q, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// LexicalSearch ranks active engrams by FTS5 bm25 relevance to query,
// returning at most limit results. Used as the Hybrid Retriever's lexical
// signal and as the sole signal when a query carries no embedding.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, bm25(engrams_fts) AS rank
		FROM engrams_fts
		JOIN engrams e ON e.id = engrams_fts.rowid
		WHERE engrams_fts MATCH ? AND e.superseded_at IS NULL
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical_search: %v", engram.ErrStorageIO, err)
	}
	defer rows.Close()

	var out []LexicalResult
	for rows.Next() {
		var id int64
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("%w: lexical_search scan: %v", engram.ErrStorageIO, err)
		}
		e, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, LexicalResult{Engram: e, Rank: rank})
	}
	return out, rows.Err()
}

// ScanEmbeddings loads id + embedding pairs for active engrams, used by the
// HNSW index to rebuild itself from durable storage. fn is called once per
// row; returning an error from fn stops the scan early.
func (s *Store) ScanEmbeddings(ctx context.Context, fn func(id int64, f32 []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding_f32 FROM engrams
		WHERE embedding_f32 IS NOT NULL AND superseded_at IS NULL
	`)
	if err != nil {
		return fmt.Errorf("%w: scan_embeddings: %v", engram.ErrStorageIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("%w: scan_embeddings row: %v", engram.ErrStorageIO, err)
		}
		f32, err := decodeF32(blob)
		if err != nil {
			return fmt.Errorf("scan_embeddings decode id=%d: %w", id, err)
		}
		if err := fn(id, f32); err != nil {
			return err
		}
	}
	return rows.Err()
}
