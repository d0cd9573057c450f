// Package app wires the pool service's dependencies and runs the configured
// operating mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cricketpools/internal/config"
)

// App owns the configuration, logger and the cleanup functions that are
// called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App for cfg.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, runs the selected mode and blocks until it returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Database.Store),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Later calls
// are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
