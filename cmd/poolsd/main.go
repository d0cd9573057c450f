// Command poolsd runs the prediction-pool service. It loads and validates
// configuration, installs the JSON logger and runs the configured mode until
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/cricketpools/internal/app"
	"github.com/alanyoungcy/cricketpools/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("POOLS_CONFIG"), "path to a TOML configuration file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", configPath),
			slog.String("error", err.Error()),
		)
		return err
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("poolsd exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("poolsd stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
