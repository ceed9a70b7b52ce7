package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gemini "google.golang.org/genai"

	"github.com/lingetic/genmemo/observe"
	"github.com/lingetic/genmemo/resilience"
)

// Defaults.
const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com"
	DefaultModel          = "gemini-2.5-flash"
	DefaultTimeout        = 60 * time.Second
	DefaultMaxAttempts    = 5
	DefaultRetryBaseDelay = 5 * time.Second

	// EnvAPIKey is consulted when Config.APIKey is empty.
	EnvAPIKey = "GEMINI_API_KEY"

	apiVersion = "v1beta"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxAttempts and RetryBaseDelay drive exponential backoff for
	// temporary failures. The n-th retry waits RetryBaseDelay*2^(n-1) plus
	// up to a fifth of RetryBaseDelay of jitter.
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// RequestsPerMinute paces requests, retries included. Zero disables
	// pacing.
	RequestsPerMinute int

	HTTPClient *http.Client
	Logger     observe.Logger
}

// Request is one generation.
type Request struct {
	Prompt string

	// Schema is an optional OpenAPI-style response schema.
	Schema json.RawMessage
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Response is a successful generation. Value is always valid JSON.
type Response struct {
	Value        json.RawMessage
	FinishReason string
	Usage        Usage
}

// Generator produces structured results for prompts.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Client generates content through the Gemini API.
type Client struct {
	models *gemini.Models
	model  string
	exec   *resilience.Executor
	logger observe.Logger
}

// New creates a Client. ctx is only used while the SDK client is built.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("genai: invalid base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	sdk, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    gemini.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
		HTTPOptions: gemini.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/",
			APIVersion: apiVersion,
			Timeout:    &timeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	logger := cfg.Logger.With(observe.F("model", cfg.Model))
	opts := []resilience.ExecutorOption{
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryBaseDelay,
			Jitter:       true,
			MaxJitter:    cfg.RetryBaseDelay / 5,
			RetryIf:      resilience.IsTemporary,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Warn(context.Background(), "retrying generation",
					observe.F("attempt", attempt),
					observe.F("delay", delay.String()),
					observe.F("error", err),
				)
			},
		})),
	}
	if cfg.RequestsPerMinute > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.PerMinute(cfg.RequestsPerMinute)))
	}

	return &Client{
		models: sdk.Models,
		model:  cfg.Model,
		exec:   resilience.NewExecutor(opts...),
		logger: logger,
	}, nil
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string { return c.model }

// Generate sends req and returns the model's JSON output.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}
	config, err := newContentConfig(req)
	if err != nil {
		return Response{}, err
	}
	contents := []*gemini.Content{gemini.NewContentFromText(req.Prompt, gemini.RoleUser)}

	return resilience.Do(ctx, c.exec, func(ctx context.Context) (Response, error) {
		resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
		if err != nil {
			return Response{}, apiError(err)
		}
		return result(resp)
	})
}

// apiError converts SDK status errors so retry policy can inspect them.
func apiError(err error) error {
	var sdkErr gemini.APIError
	if errors.As(err, &sdkErr) {
		return &APIError{StatusCode: sdkErr.Code, Status: sdkErr.Status, Message: sdkErr.Message}
	}
	return fmt.Errorf("genai: %w", err)
}

// Decode unmarshals a response value into T.
func Decode[T any](resp Response) (T, error) {
	var out T
	if err := json.Unmarshal(resp.Value, &out); err != nil {
		return out, fmt.Errorf("genai: decode value: %w", err)
	}
	return out, nil
}

var _ Generator = (*Client)(nil)
