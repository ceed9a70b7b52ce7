package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lingetic/genmemo/observe"
)

// record is one line of a log store.
type record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Log is an append-only store of newline-delimited JSON records.
//
// Every Append writes exactly one record with a single write call on a file
// opened with O_APPEND. A process killed mid-write leaves at most a torn final
// line, which Load skips with a warning. Before its first write the store cuts
// such a line off, so it never becomes an interior line that fails to parse.
// A final line that parses but lacks its newline is kept and terminated.
type Log struct {
	path   string
	sync   bool
	logger observe.Logger

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewLog returns a log store for cfg.Path. The file is created on the first
// Append.
func NewLog(cfg Config) *Log {
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Log{path: cfg.Path, sync: cfg.Sync, logger: logger}
}

// Load replays the log. Later records for the same key win, although the
// cache never writes a key twice.
func (l *Log) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", l.path, err)
	}
	defer f.Close()

	entries := make(map[string]json.RawMessage)
	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("store: read %s: %w", l.path, readErr)
		}
		complete := len(raw) > 0 && raw[len(raw)-1] == '\n'
		text := bytes.TrimSpace(raw)

		if len(text) > 0 {
			rec, perr := parseRecord(text)
			switch {
			case perr == nil:
				entries[rec.Key] = rec.Value
			case !complete:
				// A final line without a newline is an interrupted append.
				l.logger.Warn(ctx, "skipping torn record at end of cache file",
					observe.F("path", l.path),
					observe.F("line", line),
					observe.F("error", perr),
				)
			default:
				return nil, &CorruptError{Path: l.path, Line: line, Err: perr}
			}
		}

		if readErr != nil {
			break
		}
	}
	return entries, nil
}

func parseRecord(b []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, err
	}
	if rec.Key == "" {
		return rec, errors.New("record has no key")
	}
	if len(rec.Value) == 0 {
		return rec, errors.New("record has no value")
	}
	return rec, nil
}

// Append writes one record for key.
func (l *Log) Append(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := encodeRecord(key, value)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.openLocked(ctx); err != nil {
		return err
	}

	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("store: append %s: %w", l.path, err)
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("store: sync %s: %w", l.path, err)
		}
	}
	return nil
}

func (l *Log) openLocked(ctx context.Context) error {
	if l.f != nil {
		return nil
	}
	if err := l.repairTail(ctx); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", l.path, err)
	}
	l.f = f
	return nil
}

// encodeRecord renders one newline-terminated record. Values are compacted
// but otherwise kept byte for byte.
func encodeRecord(key string, value json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record{Key: key, Value: value}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// repairTail makes a file that ends mid-line safe to append to. A final line
// that parses as a record is terminated; anything else is truncated back to
// the last newline.
func (l *Log) repairTail(ctx context.Context) error {
	f, err := os.OpenFile(l.path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open %s: %w", l.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("store: stat %s: %w", l.path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	start, err := lastLineStart(f, size)
	if err != nil {
		return fmt.Errorf("store: read %s: %w", l.path, err)
	}
	if start == size {
		return nil
	}

	tail := make([]byte, size-start)
	if _, err := f.ReadAt(tail, start); err != nil {
		return fmt.Errorf("store: read %s: %w", l.path, err)
	}
	text := bytes.TrimSpace(tail)
	if _, perr := parseRecord(text); len(text) > 0 && perr == nil {
		if _, err := f.WriteAt([]byte{'\n'}, size); err != nil {
			return fmt.Errorf("store: repair %s: %w", l.path, err)
		}
	} else {
		l.logger.Warn(ctx, "truncating torn record at end of cache file",
			observe.F("path", l.path),
			observe.F("bytes", size-start),
		)
		if err := f.Truncate(start); err != nil {
			return fmt.Errorf("store: repair %s: %w", l.path, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", l.path, err)
	}
	return nil
}

// lastLineStart returns the offset just past the last newline in the first
// size bytes of f, or 0 when there is none.
func lastLineStart(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		n := int64(chunk)
		if end < n {
			n = end
		}
		off := end - n
		if _, err := f.ReadAt(buf[:n], off); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return off + int64(i) + 1, nil
		}
		end = off
	}
	return 0, nil
}

// Close closes the file handle. Further calls return ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
