// Package postgres provides a PostgreSQL implementation of store.EngramStore,
// for deployments that outgrow a single SQLite file and want pgvector for
// index-assisted similarity search alongside the in-process HNSW index.
package postgres

// Schema contains the SQL statements that create the Engram Store schema on
// PostgreSQL. The embedding_vec column is created only when pgvector is
// available; see MaybeEnablePgvector.
const Schema = `
CREATE TABLE IF NOT EXISTS engrams (
	id                 BIGSERIAL PRIMARY KEY,
	content            TEXT NOT NULL,
	category           TEXT NOT NULL DEFAULT 'fact',
	importance         DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	protected          BOOLEAN NOT NULL DEFAULT FALSE,
	access_count       BIGINT NOT NULL DEFAULT 0,
	last_accessed_at   TIMESTAMP,
	decay_rate         DOUBLE PRECISION NOT NULL DEFAULT 0.005,
	embedding_f32      BYTEA,
	embedding_i8       BYTEA,
	supersedes_id      BIGINT REFERENCES engrams(id),
	superseded_at      TIMESTAMP,
	supersession_type  TEXT,
	valid_from         TIMESTAMP,
	valid_until        TIMESTAMP,
	validity_source    TEXT,
	inserted_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	metadata           JSONB
);

CREATE INDEX IF NOT EXISTS idx_engrams_category      ON engrams(category);
CREATE INDEX IF NOT EXISTS idx_engrams_supersedes_id ON engrams(supersedes_id);
CREATE INDEX IF NOT EXISTS idx_engrams_superseded_at ON engrams(superseded_at);
CREATE INDEX IF NOT EXISTS idx_engrams_validity       ON engrams(valid_from, valid_until);
CREATE INDEX IF NOT EXISTS idx_engrams_inserted_at    ON engrams(inserted_at);

CREATE TABLE IF NOT EXISTS supersession_wal (
	entry_id          TEXT PRIMARY KEY,
	old_id            BIGINT NOT NULL,
	new_id            BIGINT NOT NULL,
	supersession_type TEXT NOT NULL,
	recorded_at       TIMESTAMP NOT NULL,
	committed         BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS helpfulness (
	id             BIGINT PRIMARY KEY REFERENCES engrams(id),
	positive_count BIGINT NOT NULL DEFAULT 0,
	negative_count BIGINT NOT NULL DEFAULT 0,
	last_update    TIMESTAMP NOT NULL
);
`

// pgvectorSchema adds the pgvector extension and a vector column sized to
// dims. Applied lazily once the caller knows the embedder's output
// dimensionality, mirroring the teacher's "create extension if available,
// fall back to BYTEA-only" posture in internal/storage/postgres.
const pgvectorSchemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;
ALTER TABLE engrams ADD COLUMN IF NOT EXISTS embedding_vec vector(%d);
CREATE INDEX IF NOT EXISTS idx_engrams_embedding_vec ON engrams
	USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100);
`
