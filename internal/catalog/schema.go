// Package catalog records encode runs and verification outcomes in SQLite.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	out_dir     TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	generated   DATETIME NOT NULL,
	max_chars   INTEGER NOT NULL,
	part_count  INTEGER NOT NULL,
	total_chars INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_parts (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx     INTEGER NOT NULL,
	file    TEXT NOT NULL,
	chars   INTEGER NOT NULL,
	sha256  TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS verifications (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT REFERENCES runs(id) ON DELETE SET NULL,
	out_dir    TEXT NOT NULL,
	checked_at DATETIME NOT NULL,
	ok         INTEGER NOT NULL,
	failures   INTEGER NOT NULL DEFAULT 0,
	compare_ok INTEGER
);

CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_runs_out_dir ON runs(out_dir);
CREATE INDEX IF NOT EXISTS idx_verifications_run ON verifications(run_id);
`

// DB wraps a sql.DB with catalog operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
