package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot stores the whole mapping as one JSON object. Each Append rewrites
// the file through a temporary sibling and an atomic rename, so readers see
// either the old or the new object, never a mix.
type Snapshot struct {
	path string

	mu      sync.Mutex
	entries map[string]json.RawMessage
	loaded  bool
	closed  bool
}

// NewSnapshot returns a snapshot store for cfg.Path.
func NewSnapshot(cfg Config) *Snapshot {
	return &Snapshot{path: cfg.Path}
}

// Load reads the snapshot file.
func (s *Snapshot) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return maps.Clone(s.entries), nil
}

func (s *Snapshot) loadLocked() error {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.entries = map[string]json.RawMessage{}
	case err != nil:
		return fmt.Errorf("store: read %s: %w", s.path, err)
	case len(bytes.TrimSpace(data)) == 0:
		s.entries = map[string]json.RawMessage{}
	default:
		entries := make(map[string]json.RawMessage)
		if err := json.Unmarshal(data, &entries); err != nil {
			return &CorruptError{Path: s.path, Err: err}
		}
		s.entries = entries
	}
	s.loaded = true
	return nil
}

// Append adds key and rewrites the snapshot.
func (s *Snapshot) Append(ctx context.Context, key string, value json.RawMessage) error {
	return s.AppendAll(ctx, map[string]json.RawMessage{key: value})
}

// AppendAll adds every entry and rewrites the snapshot once. On failure the
// in-memory view is rolled back to match the file.
func (s *Snapshot) AppendAll(ctx context.Context, entries map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return err
		}
	}

	added := make([]string, 0, len(entries))
	for k, v := range entries {
		if _, ok := s.entries[k]; ok {
			continue
		}
		s.entries[k] = v
		added = append(added, k)
	}
	if len(added) == 0 {
		return nil
	}

	if err := s.writeLocked(); err != nil {
		for _, k := range added {
			delete(s.entries, k)
		}
		return err
	}
	return nil
}

func (s *Snapshot) writeLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s.entries); err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	data := buf.Bytes()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: rename %s: %w", s.path, err)
	}
	committed = true
	return nil
}

// Close marks the store closed. There is no open handle to release.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
