package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// SQLite persists values in a single kv table keyed by (origin, key).
type SQLite struct {
	db     *sql.DB
	origin string
	closed atomic.Bool
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path, origin string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers without relying on busy retries.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &SQLite{db: db, origin: origin}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		origin     TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (origin, key)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Get implements Store.
func (s *SQLite) Get(key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}
	var value string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT value FROM kv WHERE origin = ? AND key = ?", s.origin, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLite) Set(key, value string) error {
	return s.SetAll(map[string]string{key: value})
}

// SetAll implements BatchSetter. All values are written in one transaction.
func (s *SQLite) SetAll(values map[string]string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (origin, key, value) VALUES (?, ?, ?)
			ON CONFLICT(origin, key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
			s.origin, k, v); err != nil {
			return fmt.Errorf("store: set %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLite) Remove(keys ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE origin = ? AND key = ?", s.origin, k); err != nil {
			return fmt.Errorf("store: remove %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
