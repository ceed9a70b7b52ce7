package health

import "errors"

var (
	// ErrCheckTimeout is reported by checks that did not finish before the
	// aggregator's deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckPanicked is reported by checks that panicked.
	ErrCheckPanicked = errors.New("health: check panicked")
)
