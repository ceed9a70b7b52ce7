// Command genmemo runs generation batches through a durable memo cache and
// inspects the cache file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lingetic/genmemo/cache"
	"github.com/lingetic/genmemo/config"
	"github.com/lingetic/genmemo/genai"
	"github.com/lingetic/genmemo/observe"
	"github.com/lingetic/genmemo/store"
)

var version = "dev"

const cacheName = "genmemo"

func main() {
	if err := newRootCmd(defaultGenerator).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// generatorFactory builds the generation backend; tests substitute a fake.
type generatorFactory func(ctx context.Context, cfg genai.Config) (genai.Generator, error)

func defaultGenerator(ctx context.Context, cfg genai.Config) (genai.Generator, error) {
	return genai.New(ctx, cfg)
}

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	storePath  string
	storeMode  string

	newGenerator generatorFactory

	cfg    config.Config
	logger observe.Logger
	obs    observe.Observer
}

func newRootCmd(gen generatorFactory) *cobra.Command {
	a := &app{newGenerator: gen}

	root := &cobra.Command{
		Use:           "genmemo",
		Short:         "Memoize generative AI results in a durable cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.obs == nil {
				return nil
			}
			return a.obs.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&a.storePath, "store", "", "cache file, overrides store.path")
	flags.StringVar(&a.storeMode, "mode", "", "store mode, overrides store.mode (log|snapshot|bolt|sqlite)")

	root.AddCommand(
		newGenerateCmd(a),
		newStatsCmd(a),
		newGetCmd(a),
		newCompactCmd(a),
		newCheckCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Observe.LogLevel = a.logLevel
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if a.storeMode != "" {
		cfg.Store.Mode = a.storeMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	oc := cfg.ObserveConfig(version)
	// The CLI logs to the command's stderr rather than the process's.
	oc.Logging.Enabled = false
	obs, err := observe.NewObserver(cmd.Context(), oc)
	if err != nil {
		return err
	}
	a.obs = obs
	a.logger = newLogger(cfg.Observe, cmd.ErrOrStderr())
	return nil
}

func newLogger(cfg config.ObserveConfig, w io.Writer) observe.Logger {
	var l observe.Logger
	if cfg.LogFormat == "json" {
		l = observe.NewLoggerWithWriter(cfg.LogLevel, w)
	} else {
		l = observe.NewConsoleLogger(cfg.LogLevel, w)
	}
	return l.With(observe.F("service", cfg.ServiceName))
}

func (a *app) storeConfig() store.Config {
	return a.cfg.StoreConfig(a.logger)
}

func (a *app) openMemo(ctx context.Context) (*cache.Memo, error) {
	return cache.Open(ctx, a.storeConfig(),
		cache.WithName(cacheName),
		cache.WithObserver(a.obs),
		cache.WithLogger(a.logger),
	)
}

// errUnhealthy is returned by check so the exit status reflects the report.
var errUnhealthy = errors.New("genmemo: unhealthy")
