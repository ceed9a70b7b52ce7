package resilience

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	for _, err := range []error{ErrMaxRetriesExceeded, ErrRateLimitExceeded} {
		if !strings.HasPrefix(err.Error(), "resilience: ") {
			t.Errorf("%v lacks the package prefix", err)
		}
	}
	if errors.Is(ErrMaxRetriesExceeded, ErrRateLimitExceeded) {
		t.Error("sentinels must be distinct")
	}
}
