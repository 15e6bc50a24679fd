// CLAUDE:SUMMARY Corpus SQL schema: instruments, blocks, versions, fragments with FTS5, embedding queue, sync runs.
package store

import "database/sql"

// Schema is the complete corpus schema. Every statement is idempotent.
const Schema = `
-- Legal instruments (norms) tracked by the corpus
CREATE TABLE IF NOT EXISTS instruments (
    id               TEXT PRIMARY KEY,
    title            TEXT NOT NULL,
    rank             TEXT NOT NULL DEFAULT '',
    department       TEXT NOT NULL DEFAULT '',
    scope            TEXT NOT NULL DEFAULT '',
    publication_date TEXT NOT NULL DEFAULT '',
    enactment_date   TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    last_seen_at     INTEGER,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

-- Structural blocks of each instrument's consolidated text.
-- Row absence means the block has never been indexed, which makes it dirty.
CREATE TABLE IF NOT EXISTS blocks (
    instrument_id  TEXT NOT NULL REFERENCES instruments(id) ON DELETE CASCADE,
    block_id       TEXT NOT NULL,
    kind           TEXT NOT NULL DEFAULT '',
    heading        TEXT NOT NULL DEFAULT '',
    updated_marker TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    synced_at      INTEGER,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    PRIMARY KEY (instrument_id, block_id)
);

-- Version history of each block. IDs are content hashes; rows are immutable
-- except effective_end, backfilled by consolidation. Legal dates are
-- YYYY-MM-DD strings so they compare lexicographically; '' means unknown.
CREATE TABLE IF NOT EXISTS versions (
    id               TEXT PRIMARY KEY,
    instrument_id    TEXT NOT NULL,
    block_id         TEXT NOT NULL,
    amending_id      TEXT NOT NULL DEFAULT '',
    publication_date TEXT NOT NULL DEFAULT '',
    effective_start  TEXT NOT NULL DEFAULT '',
    effective_end    TEXT,
    raw_hash         TEXT NOT NULL,
    text_hash        TEXT NOT NULL,
    normalize_mode   TEXT NOT NULL DEFAULT 'structured',
    created_at       INTEGER NOT NULL,
    FOREIGN KEY (instrument_id, block_id)
        REFERENCES blocks(instrument_id, block_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_versions_block
    ON versions(instrument_id, block_id, effective_start);
CREATE INDEX IF NOT EXISTS idx_versions_open
    ON versions(instrument_id, block_id) WHERE effective_end IS NULL;

-- Retrieval fragments cut from each version's normalized text
CREATE TABLE IF NOT EXISTS fragments (
    id            TEXT PRIMARY KEY,
    version_id    TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
    ordinal       INTEGER NOT NULL,
    article_label TEXT NOT NULL DEFAULT '',
    text          TEXT NOT NULL,
    text_hash     TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    UNIQUE (version_id, ordinal)
);
CREATE INDEX IF NOT EXISTS idx_fragments_version ON fragments(version_id);

-- FTS5 on fragments (label + text), diacritics-insensitive for Spanish
CREATE VIRTUAL TABLE IF NOT EXISTS fragments_fts USING fts5(
    article_label, text, content='fragments', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

-- Triggers to keep FTS5 in sync
CREATE TRIGGER IF NOT EXISTS fragments_ai AFTER INSERT ON fragments BEGIN
    INSERT INTO fragments_fts(rowid, article_label, text) VALUES (new.rowid, new.article_label, new.text);
END;
CREATE TRIGGER IF NOT EXISTS fragments_ad AFTER DELETE ON fragments BEGIN
    INSERT INTO fragments_fts(fragments_fts, rowid, article_label, text) VALUES('delete', old.rowid, old.article_label, old.text);
END;
CREATE TRIGGER IF NOT EXISTS fragments_au AFTER UPDATE ON fragments BEGIN
    INSERT INTO fragments_fts(fragments_fts, rowid, article_label, text) VALUES('delete', old.rowid, old.article_label, old.text);
    INSERT INTO fragments_fts(rowid, article_label, text) VALUES (new.rowid, new.article_label, new.text);
END;

-- Embedding queue markers, one per fragment
CREATE TABLE IF NOT EXISTS pending_embeddings (
    fragment_id TEXT PRIMARY KEY REFERENCES fragments(id) ON DELETE CASCADE,
    status      TEXT NOT NULL DEFAULT 'pending',
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    claimed_at  INTEGER,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_embeddings_status
    ON pending_embeddings(status, created_at);

-- Sync run log (observability)
CREATE TABLE IF NOT EXISTS sync_runs (
    id               TEXT PRIMARY KEY,
    mode             TEXT NOT NULL DEFAULT 'window',
    window_from      TEXT NOT NULL DEFAULT '',
    window_to        TEXT NOT NULL DEFAULT '',
    started_at       INTEGER NOT NULL,
    finished_at      INTEGER,
    status           TEXT NOT NULL DEFAULT 'running',
    instruments_seen INTEGER NOT NULL DEFAULT 0,
    blocks_seen      INTEGER NOT NULL DEFAULT 0,
    blocks_dirty     INTEGER NOT NULL DEFAULT 0,
    versions_added   INTEGER NOT NULL DEFAULT 0,
    fragments_added  INTEGER NOT NULL DEFAULT 0,
    failures_json    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`

// ApplySchema creates all tables, indexes and triggers on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
