package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lingetic/genmemo/health"
)

// Checker reports whether a store's file can be written.
type Checker struct {
	cfg Config
}

// NewChecker returns a health checker for the store described by cfg. It
// never opens the store, so it is safe to run next to a live cache.
func NewChecker(cfg Config) *Checker {
	return &Checker{cfg: cfg}
}

// Name returns the checker name.
func (c *Checker) Name() string {
	return "store:" + c.cfg.Path
}

// Check verifies the directory accepts new files and reports the file size.
func (c *Checker) Check(_ context.Context) health.Result {
	dir := filepath.Dir(c.cfg.Path)
	probe, err := os.CreateTemp(dir, ".genmemo-probe-*")
	if err != nil {
		return health.Unhealthy(fmt.Sprintf("directory %s is not writable", dir), err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	mode := c.cfg.Mode
	if mode == "" {
		mode = ModeLog
	}
	details := map[string]any{"path": c.cfg.Path, "mode": string(mode)}

	info, err := os.Stat(c.cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return health.Healthy("store not created yet").WithDetails(details)
	case err != nil:
		return health.Unhealthy("cannot stat store", err).WithDetails(details)
	case info.IsDir():
		return health.Unhealthy("store path is a directory", nil).WithDetails(details)
	}
	details["size_bytes"] = info.Size()
	return health.Healthy("store is writable").WithDetails(details)
}

var _ health.Checker = (*Checker)(nil)
