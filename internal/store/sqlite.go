// Package store ships payload.Store implementations for embedding
// applications: a SQLite-backed store for cases where the worker reads the
// payload from the same database file, and an in-memory store for tests and
// single-process setups.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/warmpool/internal/payload"
)

// SQLiteStore persists payload records in a SQLite table keyed by store key.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the payload table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
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
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS payload_store (
  key        TEXT PRIMARY KEY,
  record_id  TEXT NOT NULL,
  body       BLOB NOT NULL,
  created_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap payload_store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Set writes rec under key, replacing any previous record.
func (s *SQLiteStore) Set(ctx context.Context, key string, rec payload.Record) error {
	if key == "" {
		return fmt.Errorf("payload key is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO payload_store(key, record_id, body, created_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  record_id  = excluded.record_id,
  body       = excluded.body,
  created_at = excluded.created_at;
`, key, rec.ID, rec.Body, now)
	if err != nil {
		return fmt.Errorf("set payload: %w", err)
	}
	return nil
}

// Remove deletes the record under key. Removing an absent key is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("payload key is empty")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM payload_store WHERE key = ?;", key); err != nil {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
