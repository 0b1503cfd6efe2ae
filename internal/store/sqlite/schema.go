// Package sqlite implements store.EngramStore on top of modernc.org/sqlite,
// the teacher's CGO-free SQLite driver.
package sqlite

// Schema contains the SQL statements that create the Engram Store schema,
// including secondary indexes per spec.md §4.1 and the FTS5 virtual table
// backing the lexical signal used by the Hybrid Retriever.
const Schema = `
CREATE TABLE IF NOT EXISTS engrams (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	content            TEXT NOT NULL,
	category           TEXT NOT NULL DEFAULT 'fact',
	importance         REAL NOT NULL DEFAULT 0.5,
	protected          INTEGER NOT NULL DEFAULT 0,
	access_count       INTEGER NOT NULL DEFAULT 0,
	last_accessed_at   TIMESTAMP,
	decay_rate         REAL NOT NULL DEFAULT 0.005,
	embedding_f32      BLOB,
	embedding_i8       BLOB,
	supersedes_id      INTEGER REFERENCES engrams(id),
	superseded_at      TIMESTAMP,
	supersession_type  TEXT,
	valid_from         TIMESTAMP,
	valid_until        TIMESTAMP,
	validity_source    TEXT,
	inserted_at        TIMESTAMP NOT NULL,
	metadata           TEXT
);

CREATE INDEX IF NOT EXISTS idx_engrams_category       ON engrams(category);
CREATE INDEX IF NOT EXISTS idx_engrams_supersedes_id  ON engrams(supersedes_id);
CREATE INDEX IF NOT EXISTS idx_engrams_superseded_at  ON engrams(superseded_at);
CREATE INDEX IF NOT EXISTS idx_engrams_validity       ON engrams(valid_from, valid_until);
CREATE INDEX IF NOT EXISTS idx_engrams_inserted_at    ON engrams(inserted_at);

CREATE VIRTUAL TABLE IF NOT EXISTS engrams_fts USING fts5(
	content,
	content='engrams',
	content_rowid='id',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS engrams_fts_ai AFTER INSERT ON engrams BEGIN
	INSERT INTO engrams_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS engrams_fts_ad AFTER DELETE ON engrams BEGIN
	INSERT INTO engrams_fts(engrams_fts, rowid, content) VALUES('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS engrams_fts_au AFTER UPDATE ON engrams BEGIN
	INSERT INTO engrams_fts(engrams_fts, rowid, content) VALUES('delete', old.id, old.content);
	INSERT INTO engrams_fts(rowid, content) VALUES (new.id, new.content);
END;

-- Log of supersession links (spec.md §6): SetSupersedes writes one row in the
-- same transaction as the link. Open does not replay this table.
CREATE TABLE IF NOT EXISTS supersession_wal (
	entry_id       TEXT PRIMARY KEY,
	old_id         INTEGER NOT NULL,
	new_id         INTEGER NOT NULL,
	supersession_type TEXT NOT NULL,
	recorded_at    TIMESTAMP NOT NULL,
	committed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS helpfulness (
	id             INTEGER PRIMARY KEY REFERENCES engrams(id),
	positive_count INTEGER NOT NULL DEFAULT 0,
	negative_count INTEGER NOT NULL DEFAULT 0,
	last_update    TIMESTAMP NOT NULL
);
`
