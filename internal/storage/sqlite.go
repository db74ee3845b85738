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
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
  id               TEXT PRIMARY KEY,
  pipeline         TEXT NOT NULL,
  pipeline_counter INTEGER NOT NULL,
  stage            TEXT NOT NULL,
  job              TEXT NOT NULL,
  plan             JSON NOT NULL,
  build_cause      JSON NOT NULL,
  state            TEXT NOT NULL,
  agent_uuid       TEXT,
  created_at       TEXT NOT NULL,
  assigned_at      TEXT,
  completed_at     TEXT
);`,
		`CREATE TABLE IF NOT EXISTS outbound_messages (
  id           TEXT PRIMARY KEY,
  topic        TEXT NOT NULL,
  plugin_id    TEXT NOT NULL,
  payload      JSON NOT NULL,
  status       TEXT NOT NULL,
  attempt      INTEGER NOT NULL DEFAULT 0,
  created_at   TEXT NOT NULL,
  expires_at   TEXT NOT NULL,
  delivered_at TEXT,
  last_error   TEXT
);`,
		`CREATE INDEX IF NOT EXISTS scheduled_jobs_state_idx ON scheduled_jobs(state);`,
		`CREATE INDEX IF NOT EXISTS scheduled_jobs_identity_idx ON scheduled_jobs(pipeline, pipeline_counter, stage, job);`,
		`CREATE INDEX IF NOT EXISTS outbound_messages_status_idx ON outbound_messages(status, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
