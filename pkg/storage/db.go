// Package storage owns the single SQLite database backing the Pattern
// Store, Backend Registry, and Request Log Store: one combined
// database rather than one per component, since all three stores are
// small and share a lifecycle.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite database at path and
// applies the full schema migration.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dlp_patterns (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			name               TEXT NOT NULL,
			kind               TEXT NOT NULL,
			body               TEXT NOT NULL,
			enabled            INTEGER NOT NULL DEFAULT 1,
			negatives          TEXT NOT NULL DEFAULT '[]',
			negative_kind      TEXT NOT NULL DEFAULT 'regex',
			min_unique_chars   INTEGER NOT NULL DEFAULT 1,
			min_occurrences    INTEGER NOT NULL DEFAULT 1,
			context_window     INTEGER NOT NULL DEFAULT 30,
			placeholder_prefix TEXT NOT NULL,
			action             TEXT NOT NULL DEFAULT 'redact',
			builtin_group      TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS custom_backends (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			name              TEXT NOT NULL,
			path_prefix       TEXT NOT NULL,
			upstream_base_url TEXT NOT NULL,
			header_policy     TEXT NOT NULL DEFAULT 'pass_through',
			dlp_enabled       INTEGER NOT NULL DEFAULT 1,
			rate_limit_requests INTEGER NOT NULL DEFAULT 0,
			rate_limit_minutes  INTEGER NOT NULL DEFAULT 1,
			custom_headers    TEXT NOT NULL DEFAULT '{}',
			upstream_api_key  TEXT NOT NULL DEFAULT '',
			enabled           INTEGER NOT NULL DEFAULT 1,
			builtin           INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id        TEXT NOT NULL UNIQUE,
			timestamp         DATETIME NOT NULL DEFAULT (datetime('now')),
			backend           TEXT NOT NULL,
			model             TEXT,
			method            TEXT,
			path              TEXT,
			status_code       INTEGER,
			latency_ms        INTEGER,
			is_streaming      INTEGER NOT NULL DEFAULT 0,
			input_tokens      INTEGER,
			output_tokens     INTEGER,
			detections_hit    INTEGER NOT NULL DEFAULT 0,
			blocked           INTEGER NOT NULL DEFAULT 0,
			request_headers   TEXT,
			request_body      TEXT,
			response_headers  TEXT,
			response_body     TEXT,
			extra_metadata    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_backend ON requests(backend)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp)`,
		`CREATE TABLE IF NOT EXISTS dlp_detections (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id    TEXT NOT NULL,
			timestamp     DATETIME NOT NULL DEFAULT (datetime('now')),
			pattern_name  TEXT NOT NULL,
			pattern_kind  TEXT NOT NULL,
			placeholder   TEXT NOT NULL,
			message_index INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON dlp_detections(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_pattern ON dlp_detections(pattern_name)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("exec migration %q: %w", s, err)
		}
	}
	return nil
}
