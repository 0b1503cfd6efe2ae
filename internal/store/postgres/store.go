package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/google/uuid"

	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/pkg/engram"
)

// Store implements store.EngramStore over PostgreSQL. Unlike the SQLite
// backend, Postgres tolerates concurrent writers natively, but spec.md §5
// still requires supersession updates to be linearized, so writeMu plays
// the same role here as it does in internal/store/sqlite.
type Store struct {
	db                *sql.DB
	writeMu           sync.Mutex
	pgvectorAvailable bool
}

// Open connects to dsn and ensures the Engram Store schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

var _ store.EngramStore = (*Store)(nil)

// EnablePgvector creates the pgvector extension and an embedding_vec column
// sized to dims. It is a best-effort call: when the extension is missing
// from the server, the store keeps working on BYTEA embeddings alone, as the
// teacher's EmbeddingProvider does.
func (s *Store) EnablePgvector(dims int) error {
	if _, err := s.db.Exec(fmt.Sprintf(pgvectorSchemaTemplate, dims)); err != nil {
		log.Printf("postgres: pgvector unavailable, falling back to BYTEA-only embeddings: %v", err)
		s.pgvectorAvailable = false
		return nil
	}
	s.pgvectorAvailable = true
	return nil
}

func (s *Store) Insert(ctx context.Context, draft engram.Draft) (int64, error) {
	if err := engram.ValidateDraft(draft); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var metaJSON []byte
	if draft.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(draft.Metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: metadata: %v", engram.ErrInvalidField, err)
		}
	}

	category := draft.Category
	if category == "" {
		category = string(engram.CategoryFact)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO engrams (
			content, category, importance, protected, decay_rate,
			valid_from, valid_until, validity_source, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		draft.Content, category, draft.Importance, draft.Protected,
		engram.DecayRateForImportance(draft.Importance),
		draft.ValidFrom, draft.ValidUntil, nullableString(draft.ValiditySource),
		nullableBytes(metaJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", engram.ErrStorageIO, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*engram.Engram, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id)
	e, err := scanEngram(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id=%d", engram.ErrNoSuchEngram, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", engram.ErrStorageIO, err)
	}
	return e, nil
}

func (s *Store) UpdateAccess(ctx context.Context, id int64, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2
	`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: update_access: %v", engram.ErrStorageIO, err)
	}
	return nil
}

func (s *Store) MarkSuperseded(ctx context.Context, id int64, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET superseded_at = $1 WHERE id = $2 AND superseded_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: mark_superseded: %v", engram.ErrStorageIO, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: id=%d", engram.ErrAlreadySuperseded, id)
	}
	return nil
}

func (s *Store) SetSupersedes(ctx context.Context, id, predecessorID int64, typ engram.SupersessionType) error {
	pred, err := s.Get(ctx, predecessorID)
	if err != nil {
		return err
	}
	if pred.SupersededAt == nil {
		return fmt.Errorf("%w: predecessor %d is not marked superseded", engram.ErrInvalidField, predecessorID)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", engram.ErrStorageIO, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO supersession_wal (entry_id, old_id, new_id, supersession_type, recorded_at, committed)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, uuid.NewString(), predecessorID, id, string(typ), now); err != nil {
		return fmt.Errorf("%w: wal insert: %v", engram.ErrStorageIO, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE engrams SET supersedes_id = $1, supersession_type = $2 WHERE id = $3
	`, predecessorID, string(typ), id); err != nil {
		return fmt.Errorf("%w: set_supersedes: %v", engram.ErrStorageIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", engram.ErrStorageIO, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Protected {
		return fmt.Errorf("%w: id=%d", engram.ErrProtected, id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM engrams WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete: %v", engram.ErrStorageIO, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", engram.ErrStorageIO, err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Page, error) {
	opts.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !opts.Filter.IncludeHistory || opts.Filter.ExcludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}
	if opts.Filter.Category != "" {
		where = append(where, "category = "+arg(opts.Filter.Category))
	}
	if opts.Filter.MinImportance > 0 {
		where = append(where, "importance >= "+arg(opts.Filter.MinImportance))
	}

	if opts.Limit == 0 {
		total, err := s.Count(ctx)
		if err != nil {
			return nil, err
		}
		return &store.Page{Total: total}, nil
	}

	startID, err := store.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engram.ErrInvalidField, err)
	}

	var orderBy string
	switch opts.Sort {
	case store.SortImportance:
		orderBy = "importance DESC, id DESC"
	case store.SortDecayScore:
		orderBy = "importance ASC, id ASC"
	default:
		orderBy = "id DESC"
	}
	if startID != 0 && opts.Sort == store.SortRecent {
		where = append(where, "id < "+arg(startID))
	}

	limit := opts.Limit

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %s OFFSET %s", orderBy, arg(limit+1), arg(opts.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", engram.ErrStorageIO, err)
	}
	defer rows.Close()

	var results []*engram.Engram
	for rows.Next() {
		e, err := scanEngram(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: list scan: %v", engram.ErrStorageIO, err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list rows: %v", engram.ErrStorageIO, err)
	}

	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}

	var next store.Cursor
	if hasMore && len(results) > 0 {
		next = store.EncodeCursor(results[len(results)-1].ID)
	}

	return &store.Page{Engrams: results, NextCursor: next, HasMore: hasMore, Total: total}, nil
}

func (s *Store) ByCategory(ctx context.Context, category string, limit int) ([]*engram.Engram, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE category = $1 AND superseded_at IS NULL ORDER BY id DESC LIMIT $2
	`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: by_category: %v", engram.ErrStorageIO, err)
	}
	defer rows.Close()

	var out []*engram.Engram
	for rows.Next() {
		e, err := scanEngram(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: by_category scan: %v", engram.ErrStorageIO, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetEmbedding stores both representations in BYTEA columns, and
// additionally into embedding_vec when pgvector is available, falling back
// to BYTEA-only on any pgvector insert error, per the teacher's
// goto-byteaOnly posture in internal/storage/postgres/embedding_provider.go.
func (s *Store) SetEmbedding(ctx context.Context, id int64, f32 []float32, i8 []int8) error {
	if err := engram.ValidateEmbeddingPair(f32, i8); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.pgvectorAvailable {
		vec := pgvector.NewVector(f32)
		_, err := s.db.ExecContext(ctx, `
			UPDATE engrams SET embedding_f32 = $1, embedding_i8 = $2, embedding_vec = $3 WHERE id = $4
		`, encodeF32(f32), encodeI8(i8), vec, id)
		if err == nil {
			return nil
		}
		log.Printf("postgres: embedding_vec update failed, falling back to BYTEA only: %v", err)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET embedding_f32 = $1, embedding_i8 = $2 WHERE id = $3
	`, encodeF32(f32), encodeI8(i8), id)
	if err != nil {
		return fmt.Errorf("%w: set_embedding: %v", engram.ErrStorageIO, err)
	}
	return nil
}

func (s *Store) UpdateDecayRate(ctx context.Context, id int64, rate float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE engrams SET decay_rate = $1 WHERE id = $2`, rate, id)
	if err != nil {
		return fmt.Errorf("%w: update_decay_rate: %v", engram.ErrStorageIO, err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	stats.ByCategory = make(map[string]int)

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM engrams WHERE superseded_at IS NULL GROUP BY category
	`)
	if err != nil {
		return stats, fmt.Errorf("%w: stats by category: %v", engram.ErrStorageIO, err)
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("%w: stats scan: %v", engram.ErrStorageIO, err)
		}
		stats.ByCategory[cat] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("%w: stats rows: %v", engram.ErrStorageIO, err)
	}

	var avgImportance sql.NullFloat64
	var oldest, newest sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(importance), MIN(inserted_at), MAX(inserted_at)
		FROM engrams WHERE superseded_at IS NULL
	`).Scan(&avgImportance, &oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("%w: stats aggregate: %v", engram.ErrStorageIO, err)
	}
	if avgImportance.Valid {
		stats.AvgImportance = avgImportance.Float64
	}
	if oldest.Valid {
		t := oldest.Time
		stats.Oldest = &t
	}
	if newest.Valid {
		t := newest.Time
		stats.Newest = &t
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB, mirroring internal/store/sqlite.Store.DB.
func (s *Store) DB() *sql.DB { return s.db }
