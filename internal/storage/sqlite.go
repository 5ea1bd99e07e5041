package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	db.SetMaxOpenConns(1)

	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			coach_id    TEXT,
			title       TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions(user_id, updated_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(id),
			role        TEXT NOT NULL,
			text        TEXT NOT NULL,
			attachments JSON,
			created_at  TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS tool_runs (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			tool_id         TEXT NOT NULL,
			session_id      TEXT,
			input           JSON,
			output          JSON,
			status          TEXT NOT NULL DEFAULT 'pending',
			execution_token TEXT,
			error           TEXT,
			updated_at      TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS tool_runs_user_idx ON tool_runs(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS effect_records (
			kind           TEXT NOT NULL,
			id             TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			coach_id       TEXT,
			session_id     TEXT,
			tool_run_id    TEXT,
			title          TEXT NOT NULL,
			body           TEXT,
			starts_at      TEXT,
			ends_at        TEXT,
			fire_at        TEXT,
			display_status TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			PRIMARY KEY (kind, id)
		);`,
		`CREATE INDEX IF NOT EXISTS effect_records_user_idx ON effect_records(kind, user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
