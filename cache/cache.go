package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a fingerprint.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
	ErrNilCompute = errors.New("cache: compute function is nil")
	ErrNilStore   = errors.New("cache: store is nil")
	ErrClosed     = errors.New("cache: memo is closed")

	// ErrComputeFailed is matched by every *ComputeError.
	ErrComputeFailed = errors.New("cache: compute failed")

	// ErrComputePanicked is the failure shared with waiters when the
	// computation they were waiting on panicked.
	ErrComputePanicked = errors.New("cache: compute panicked")

	// ErrInvalidResult is returned when a computation produces bytes that
	// are not valid JSON.
	ErrInvalidResult = errors.New("cache: result is not valid JSON")
)

// ComputeFunc produces the result for a fingerprint. It is called at most once
// per successful fingerprint and must return a JSON document.
type ComputeFunc func(ctx context.Context) (json.RawMessage, error)

// ComputeError reports a failed computation. Unwrap yields the error returned
// by the ComputeFunc unchanged.
type ComputeError struct {
	Key string
	Err error

	// Shared is true when the caller did not run the computation itself but
	// was waiting on the one that failed.
	Shared bool
}

func (e *ComputeError) Error() string {
	if e.Shared {
		return fmt.Sprintf("cache: compute %q failed in another caller: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("cache: compute %q failed: %v", e.Key, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// Is reports ErrComputeFailed as a match.
func (e *ComputeError) Is(target error) bool { return target == ErrComputeFailed }

// WriteError reports a result that was computed and indexed but could not be
// persisted. It is only returned when strict writes are enabled.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache: persist %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ValidateKey checks if a fingerprint can be cached and persisted.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Keys are written into line-oriented store records.
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
