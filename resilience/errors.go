package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrMaxRetriesExceeded is returned when max retry attempts are exhausted.
	// The last operation error is joined to it.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")
)

// temporary is implemented by errors that know whether retrying can help.
type temporary interface {
	Temporary() bool
}

// IsTemporary reports whether any error in err's chain declares itself
// temporary. It is meant for RetryConfig.RetryIf.
func IsTemporary(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}
