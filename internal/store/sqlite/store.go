package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/pkg/engram"
)

// Store implements store.EngramStore over a SQLite database. Per spec.md §5,
// all mutating operations pass through a single writer (writeMu) so
// supersession updates can never interleave into a cycle or a dual-active
// chain, while readers remain lock-free against the driver's WAL snapshot.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) a SQLite-backed Engram Store at dsn.
// WAL mode is enabled so readers never block the single writer, matching the
// teacher's internal/storage/sqlite/memory_store.go pattern.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	// SQLite allows only one concurrent writer; a single connection avoids
	// SQLITE_BUSY under load and lets writeMu be the sole ordering point.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

var _ store.EngramStore = (*Store)(nil)

// Insert assigns an id, sets InsertedAt, derives DecayRate, and persists.
func (s *Store) Insert(ctx context.Context, draft engram.Draft) (int64, error) {
	if err := engram.ValidateDraft(draft); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	rate := engram.DecayRateForImportance(draft.Importance)

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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO engrams (
			content, category, importance, protected, access_count,
			decay_rate, valid_from, valid_until, validity_source,
			inserted_at, metadata
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
	`,
		draft.Content, category, draft.Importance, boolToInt(draft.Protected),
		rate, nullableTime(draft.ValidFrom), nullableTime(draft.ValidUntil),
		nullableString(draft.ValiditySource), now, nullableBytes(metaJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", engram.ErrStorageIO, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %v", engram.ErrStorageIO, err)
	}
	return id, nil
}

// Get retrieves an engram by id.
func (s *Store) Get(ctx context.Context, id int64) (*engram.Engram, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	e, err := scanEngram(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id=%d", engram.ErrNoSuchEngram, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", engram.ErrStorageIO, err)
	}
	return e, nil
}

// UpdateAccess increments access_count and sets last_accessed_at. No-op if
// the engram does not exist.
func (s *Store) UpdateAccess(ctx context.Context, id int64, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: update_access: %v", engram.ErrStorageIO, err)
	}
	return nil
}

// MarkSuperseded sets superseded_at only if it is currently null.
func (s *Store) MarkSuperseded(ctx context.Context, id int64, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL
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

// SetSupersedes validates predecessorID exists and is marked superseded,
// then records the link. A supersession_wal row (committed=1) is written in
// the same transaction as the link. Open does not read or replay
// supersession_wal, so a crash between MarkSuperseded and SetSupersedes
// leaves the predecessor marked superseded with no successor linked to it.
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

	entryID := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", engram.ErrStorageIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO supersession_wal (entry_id, old_id, new_id, supersession_type, recorded_at, committed)
		VALUES (?, ?, ?, ?, ?, 1)
	`, entryID, predecessorID, id, string(typ), now); err != nil {
		return fmt.Errorf("%w: wal insert: %v", engram.ErrStorageIO, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE engrams SET supersedes_id = ?, supersession_type = ? WHERE id = ?
	`, predecessorID, string(typ), id); err != nil {
		return fmt.Errorf("%w: set_supersedes: %v", engram.ErrStorageIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", engram.ErrStorageIO, err)
	}
	return nil
}

// Delete permanently removes an engram. Protected engrams are never deleted.
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

	if _, err := s.db.ExecContext(ctx, `DELETE FROM engrams WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete: %v", engram.ErrStorageIO, err)
	}
	return nil
}

// Count returns the total number of engrams.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", engram.ErrStorageIO, err)
	}
	return n, nil
}

// List returns a page of engrams per opts.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Page, error) {
	opts.Normalize()

	var (
		where []string
		args  []any
	)

	if !opts.Filter.IncludeHistory {
		where = append(where, "superseded_at IS NULL")
	} else if opts.Filter.ExcludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}
	if opts.Filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, opts.Filter.Category)
	}
	if opts.Filter.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, opts.Filter.MinImportance)
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

	if startID != 0 {
		switch opts.Sort {
		case store.SortRecent:
			where = append(where, "id < ?")
			args = append(args, startID)
		default:
			// Importance/decay-score ordering has no monotonic cursor
			// relationship to id; fall back to the legacy offset for
			// these sorts, per spec.md §4.1 ("offset (legacy)").
		}
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderBy
	limit := opts.Limit
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit+1, opts.Offset)

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

// ByCategory returns active engrams in category, most recent first.
func (s *Store) ByCategory(ctx context.Context, category string, limit int) ([]*engram.Engram, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE category = ? AND superseded_at IS NULL ORDER BY id DESC LIMIT ?
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

// SetEmbedding stores the float32/int8 embedding pair for an engram.
func (s *Store) SetEmbedding(ctx context.Context, id int64, f32 []float32, i8 []int8) error {
	if err := engram.ValidateEmbeddingPair(f32, i8); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET embedding_f32 = ?, embedding_i8 = ? WHERE id = ?
	`, encodeF32(f32), encodeI8(i8), id)
	if err != nil {
		return fmt.Errorf("%w: set_embedding: %v", engram.ErrStorageIO, err)
	}
	return nil
}

// UpdateDecayRate rewrites the stored decay_rate for an engram.
func (s *Store) UpdateDecayRate(ctx context.Context, id int64, rate float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE engrams SET decay_rate = ? WHERE id = ?`, rate, id)
	if err != nil {
		return fmt.Errorf("%w: update_decay_rate: %v", engram.ErrStorageIO, err)
	}
	return nil
}

// Stats returns aggregate counters for memory.stats.
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

// Close releases resources held by the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components that need to compose
// additional queries directly (lexical search, HNSW rebuild scans) without
// widening the EngramStore interface itself.
func (s *Store) DB() *sql.DB { return s.db }

// removeStaleWALIfOrphaned deletes leftover -wal/-shm files from a crashed
// process before a fresh Open, matching the teacher's self-healing pattern.
// It is unexported and nothing in this repository calls it.
func removeStaleWALIfOrphaned(dbPath string) {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: could not remove stale %s: %v", dbPath+suffix, err)
		}
	}
}
