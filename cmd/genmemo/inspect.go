package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lingetic/genmemo/cache"
	"github.com/lingetic/genmemo/health"
	"github.com/lingetic/genmemo/store"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.openMemo(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			size := "-"
			if info, err := os.Stat(a.cfg.Store.Path); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Path:    %s\nMode:    %s\nSize:    %s\nEntries: %s\n",
				a.cfg.Store.Path, a.storeConfig().Mode, size, humanize.Comma(int64(m.Len())))
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the stored result for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.openMemo(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			v, ok := m.Get(args[0])
			if !ok {
				return fmt.Errorf("no entry for key %q", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return err
		},
	}
}

func newCompactCmd(a *app) *cobra.Command {
	var (
		mode string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Copy every entry into a fresh store, optionally changing mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			dstMode, err := store.ParseMode(mode)
			if err != nil {
				return err
			}

			src, err := store.Open(a.storeConfig())
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			dst, err := store.Open(store.Config{Path: out, Mode: dstMode, Logger: a.logger})
			if err != nil {
				return err
			}
			n, err := copyStore(cmd.Context(), src, dst, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s entries to %s (%s)\n", humanize.Comma(int64(n)), out, dstMode)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "to", "", "mode of the new store (default log)")
	cmd.Flags().StringVar(&out, "out", "", "path of the new store")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// copyStore compacts src into dst, which writes to out. A failed copy
// removes out so the next attempt is not refused.
func copyStore(ctx context.Context, src, dst store.Store, out string) (int, error) {
	n, err := store.Compact(ctx, src, dst)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return 0, fmt.Errorf("compact: %w", err)
	}
	return n, nil
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the cache file is readable and writable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			agg := health.NewAggregator(health.DefaultTimeout)
			agg.Register(store.NewChecker(a.storeConfig()))

			m, err := a.openMemo(ctx)
			if err != nil {
				agg.Register(health.NewCheckerFunc("cache:"+cacheName, func(context.Context) health.Result {
					return health.Unhealthy("cannot load cache", err)
				}))
			} else {
				defer func() { _ = m.Close() }()
				agg.Register(cache.NewChecker(m))
			}

			report := agg.Run(ctx)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
			for _, r := range report.Results {
				msg := r.Message
				if r.Error != nil {
					msg += ": " + r.Error.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, msg)
			}
			fmt.Fprintf(w, "overall\t%s\t\n", report.Status)
			if err := w.Flush(); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				return errUnhealthy
			}
			return nil
		},
	}
}
