package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// entriesBucket holds fingerprint to result pairs.
var entriesBucket = []byte("entries")

// boltOpenTimeout bounds how long Open waits for another process holding
// the file lock.
const boltOpenTimeout = time.Second

// Bolt stores entries in a bbolt database. bbolt commits every update with
// an fsync and takes an exclusive file lock, so one process owns the file at
// a time.
type Bolt struct {
	path string

	mu     sync.Mutex
	db     *bolt.DB
	closed bool
}

// NewBolt returns a bolt store for cfg.Path. The database is opened on Load
// or the first Append.
func NewBolt(cfg Config) *Bolt {
	return &Bolt{path: cfg.Path}
}

func (b *Bolt) openLocked() (*bolt.DB, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if b.db != nil {
		return b.db, nil
	}

	_, statErr := os.Stat(b.path)
	existed := statErr == nil

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		if existed && !errors.Is(err, berrors.ErrTimeout) {
			return nil, &CorruptError{Path: b.path, Err: err}
		}
		return nil, fmt.Errorf("store: open %s: %w", b.path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init %s: %w", b.path, err)
	}
	b.db = db
	return db, nil
}

// Load reads every entry.
func (b *Bolt) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	db, err := b.openLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make(map[string]json.RawMessage)
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			if !json.Valid(v) {
				return &CorruptError{Path: b.path, Err: fmt.Errorf("entry %q is not valid JSON", k)}
			}
			// Slices are only valid inside the transaction.
			entries[string(k)] = append(json.RawMessage(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Append stores key unless it is already present.
func (b *Bolt) Append(ctx context.Context, key string, value json.RawMessage) error {
	return b.AppendAll(ctx, map[string]json.RawMessage{key: value})
}

// AppendAll stores every entry in one transaction.
func (b *Bolt) AppendAll(ctx context.Context, entries map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	db, err := b.openLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(entriesBucket)
		for k, v := range entries {
			if bkt.Get([]byte(k)) != nil {
				continue
			}
			if err := bkt.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: append %s: %w", b.path, err)
	}
	return nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
