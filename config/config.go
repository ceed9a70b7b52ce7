package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lingetic/genmemo/batch"
	"github.com/lingetic/genmemo/genai"
	"github.com/lingetic/genmemo/observe"
	"github.com/lingetic/genmemo/store"
)

// Errors returned by Load and Validate.
var (
	ErrMissingEnv      = errors.New("config: missing required environment variables")
	ErrInvalidConfig   = errors.New("config: invalid configuration")
	ErrMultipleConfigs = errors.New("config: file holds more than one document")
)

// Config is the top-level configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	GenAI   GenAIConfig   `yaml:"genai"`
	Batch   BatchConfig   `yaml:"batch"`
	Observe ObserveConfig `yaml:"observe"`
}

// StoreConfig selects the backing file.
type StoreConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
	Sync bool   `yaml:"sync"`
}

// GenAIConfig configures the generation client. An empty APIKey falls back
// to GEMINI_API_KEY.
type GenAIConfig struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// BatchConfig bounds fan-out.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// ObserveConfig configures logging and telemetry.
type ObserveConfig struct {
	ServiceName     string  `yaml:"service_name"`
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"` // console|json
	TracingExporter string  `yaml:"tracing_exporter"`
	SamplePct       float64 `yaml:"sample_pct"`
	MetricsExporter string  `yaml:"metrics_exporter"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path: "genmemo-cache.jsonl",
			Mode: string(store.ModeLog),
		},
		GenAI: GenAIConfig{
			Model:          genai.DefaultModel,
			BaseURL:        genai.DefaultBaseURL,
			Timeout:        genai.DefaultTimeout,
			MaxAttempts:    genai.DefaultMaxAttempts,
			RetryBaseDelay: genai.DefaultRetryBaseDelay,
		},
		Batch: BatchConfig{Concurrency: batch.DefaultConcurrency},
		Observe: ObserveConfig{
			ServiceName:     "genmemo",
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
			SamplePct:       1.0,
			MetricsExporter: "none",
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default, expanding environment
// references in scalar values, and validates the result. Unknown keys are
// rejected.
func Parse(r io.Reader) (Config, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return Config{}, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, ErrMultipleConfigs
	}

	if err := expandNode(&root); err != nil {
		return Config{}, err
	}

	// Re-encode the expanded tree so KnownFields applies.
	var buf bytes.Buffer
	if err := yaml.NewEncoder(&buf).Encode(&root); err != nil {
		return Config{}, err
	}
	cfg := Default()
	strict := yaml.NewDecoder(&buf)
	strict.KnownFields(true)
	if err := strict.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func expandNode(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		v, err := ExpandEnvStrict(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		if v != n.Value {
			// Let the expanded text resolve its own type.
			n.Value, n.Tag, n.Style = v, "", 0
		}
		return nil
	}
	for _, c := range n.Content {
		if err := expandNode(c); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("%w: store.path is required", ErrInvalidConfig))
	}
	if _, err := store.ParseMode(c.Store.Mode); err != nil {
		errs = append(errs, fmt.Errorf("%w: store.mode: %w", ErrInvalidConfig, err))
	}
	if c.GenAI.Timeout < 0 || c.GenAI.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: genai durations must not be negative", ErrInvalidConfig))
	}
	if c.GenAI.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("%w: genai.max_attempts must not be negative", ErrInvalidConfig))
	}
	if c.GenAI.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("%w: genai.requests_per_minute must not be negative", ErrInvalidConfig))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%w: batch.concurrency must be at least 1", ErrInvalidConfig))
	}
	if f := c.Observe.LogFormat; f != "" && f != "console" && f != "json" {
		errs = append(errs, fmt.Errorf("%w: observe.log_format %q", ErrInvalidConfig, f))
	}
	oc := c.ObserveConfig("")
	if err := oc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// StoreConfig converts the store section. The mode has already been
// validated by Load.
func (c Config) StoreConfig(logger observe.Logger) store.Config {
	mode, _ := store.ParseMode(c.Store.Mode)
	return store.Config{
		Path:   c.Store.Path,
		Mode:   mode,
		Sync:   c.Store.Sync,
		Logger: logger,
	}
}

// GenAIConfig converts the genai section.
func (c Config) GenAIConfig(logger observe.Logger) genai.Config {
	return genai.Config{
		APIKey:            c.GenAI.APIKey,
		Model:             c.GenAI.Model,
		BaseURL:           c.GenAI.BaseURL,
		Timeout:           c.GenAI.Timeout,
		MaxAttempts:       c.GenAI.MaxAttempts,
		RetryBaseDelay:    c.GenAI.RetryBaseDelay,
		RequestsPerMinute: c.GenAI.RequestsPerMinute,
		Logger:            logger,
	}
}

// BatchOptions converts the batch section.
func (c Config) BatchOptions(logger observe.Logger) batch.Options {
	return batch.Options{Concurrency: c.Batch.Concurrency, Logger: logger}
}

// ObserveConfig converts the observe section. A non-empty version is
// attached to the telemetry resource.
func (c Config) ObserveConfig(version string) observe.Config {
	o := c.Observe
	return observe.Config{
		ServiceName: o.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   o.TracingExporter != "" && o.TracingExporter != "none",
			Exporter:  o.TracingExporter,
			SamplePct: o.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.MetricsExporter != "" && o.MetricsExporter != "none",
			Exporter: o.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   o.LogLevel,
			Console: o.LogFormat != "json",
		},
	}
}
