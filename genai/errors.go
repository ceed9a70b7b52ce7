package genai

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for generation.
var (
	ErrMissingAPIKey = errors.New("genai: no API key (set api_key or GEMINI_API_KEY)")
	ErrEmptyResponse = errors.New("genai: response has no content")
	ErrInvalidJSON   = errors.New("genai: response is not valid JSON")
	ErrEmptyPrompt   = errors.New("genai: prompt is empty")
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	StatusCode int
	Status     string // API status such as RESOURCE_EXHAUSTED
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("genai: %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("genai: %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed: quota
// exhaustion and server-side failures.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
