package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lingetic/genmemo/observe"
)

// Sentinel errors for store operations.
var (
	// ErrCorrupt is matched by every error reporting a store file that exists
	// but cannot be parsed.
	ErrCorrupt = errors.New("store: cache file is corrupt")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: store is closed")

	// ErrUnknownMode is returned for an unsupported Mode.
	ErrUnknownMode = errors.New("store: unknown mode")

	// ErrMissingPath is returned when Config.Path is empty.
	ErrMissingPath = errors.New("store: path is required")
)

// CorruptError describes where a store failed to parse.
type CorruptError struct {
	Path string
	Line int // 1-based record number, 0 when not applicable
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("store: corrupt cache file %s at line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("store: corrupt cache file %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is reports ErrCorrupt as a match so callers can test with errors.Is.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Store is a durable fingerprint to result mapping.
//
// Contract:
//   - Concurrency: Append is safe to call from many goroutines; physical
//     writes are serialized by the store.
//   - Load returns an empty map when nothing has been stored yet and an error
//     matching ErrCorrupt when the backing file exists but cannot be parsed.
//   - Append must leave the store loadable even if the process dies right
//     after it returns or while it runs.
type Store interface {
	Load(ctx context.Context) (map[string]json.RawMessage, error)
	Append(ctx context.Context, key string, value json.RawMessage) error
	Close() error
}

// BulkAppender is implemented by stores that can record many entries in one
// physical write.
type BulkAppender interface {
	AppendAll(ctx context.Context, entries map[string]json.RawMessage) error
}

// Mode selects a persistence backend.
type Mode string

const (
	ModeLog      Mode = "log"
	ModeSnapshot Mode = "snapshot"
	ModeBolt     Mode = "bolt"
	ModeSQLite   Mode = "sqlite"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeLog, ModeSnapshot, ModeBolt, ModeSQLite}

// ParseMode parses a mode name. The empty string selects ModeLog.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeLog, nil
	}
	m := Mode(s)
	if !slices.Contains(Modes, m) {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Config configures a Store.
type Config struct {
	// Path is the backing file.
	Path string

	// Mode selects the backend. Default: ModeLog.
	Mode Mode

	// Sync forces an fsync after every log append. Snapshot, bolt and
	// sqlite always sync.
	Sync bool

	// Logger receives load warnings such as a skipped torn record.
	Logger observe.Logger
}

// Open returns the Store described by cfg. No file is read until Load.
func Open(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrMissingPath
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeLog
	}

	switch mode {
	case ModeLog:
		return NewLog(cfg), nil
	case ModeSnapshot:
		return NewSnapshot(cfg), nil
	case ModeBolt:
		return NewBolt(cfg), nil
	case ModeSQLite:
		return NewSQLite(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Compact loads every entry from src and records it in dst, returning the
// number of entries copied. Keys are written in sorted order.
func Compact(ctx context.Context, src, dst Store) (int, error) {
	entries, err := src.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load source: %w", err)
	}
	if _, err := dst.Load(ctx); err != nil {
		return 0, fmt.Errorf("load destination: %w", err)
	}

	if bulk, ok := dst.(BulkAppender); ok {
		if err := bulk.AppendAll(ctx, entries); err != nil {
			return 0, err
		}
		return len(entries), nil
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for i, k := range keys {
		if err := dst.Append(ctx, k, entries[k]); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
