package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS entries (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// SQLite stores entries in a SQLite database through the pure-Go driver.
// A single connection serializes writes within the process; busy_timeout
// lets concurrent processes wait on each other's locks.
type SQLite struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLite returns a sqlite store for cfg.Path. The database is opened on
// Load or the first Append.
func NewSQLite(cfg Config) *SQLite {
	return &SQLite{path: cfg.Path}
}

func (s *SQLite) openLocked(ctx context.Context) (*sql.DB, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	_, statErr := os.Stat(s.path)
	existed := statErr == nil

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, s.openError(existed, err)
	}
	if _, err := db.ExecContext(ctx, createEntriesTable); err != nil {
		db.Close()
		return nil, s.openError(existed, err)
	}
	s.db = db
	return db, nil
}

func (s *SQLite) openError(existed bool, err error) error {
	if existed {
		return &CorruptError{Path: s.path, Err: err}
	}
	return fmt.Errorf("store: migrate %s: %w", s.path, err)
}

// Load reads every entry.
func (s *SQLite) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	db, err := s.openLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", s.path, err)
	}
	defer rows.Close()

	entries := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", s.path, err)
		}
		if !json.Valid(value) {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("entry %q is not valid JSON", key)}
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query %s: %w", s.path, err)
	}
	return entries, nil
}

// Append stores key unless it is already present.
func (s *SQLite) Append(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	db, err := s.openLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (key, value) VALUES (?, ?)`,
		key, []byte(value),
	); err != nil {
		return fmt.Errorf("store: append %s: %w", s.path, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
