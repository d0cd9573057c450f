package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cricketpools/internal/auth"
	"github.com/alanyoungcy/cricketpools/internal/events"
	"github.com/alanyoungcy/cricketpools/internal/server"
	"github.com/alanyoungcy/cricketpools/internal/server/handler"
	"github.com/alanyoungcy/cricketpools/internal/server/ws"
	"github.com/alanyoungcy/cricketpools/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the websocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ArchiveMode uploads every pool settled before now minus
// archive.settled_after and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3")
	}
	_, err := a.archiveOnce(ctx, deps)
	return err
}

// FullMode serves the API and, when enabled, archives on an interval.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return err
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps, a.cfg.Archive.Interval.Duration)
		})
	}
	return g.Wait()
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) (int64, error) {
	cutoff := deps.Engine.Now().Add(-a.cfg.Archive.SettledAfter.Duration)
	n, err := deps.Archiver.ArchiveSettled(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "app: archive run complete",
		slog.Int64("written", n),
		slog.Time("settled_before", cutoff),
	)
	return n, nil
}

// archiveLoop runs archiveOnce immediately and then every interval. Failed
// runs are logged and retried on the next tick.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.archiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "app: archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startHTTPServer builds the services, handlers and websocket hub and adds
// the server, the hub and the shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	startedAt := time.Now().UTC()

	authSvc, err := auth.New(auth.Config{
		Secret:       []byte(a.cfg.Auth.JWTSecret),
		Issuer:       a.cfg.Auth.Issuer,
		TokenTTL:     a.cfg.Auth.TokenTTL.Duration,
		ChallengeTTL: a.cfg.Auth.ChallengeTTL.Duration,
	})
	if err != nil {
		return fmt.Errorf("app: auth: %w", err)
	}

	pools := service.NewPoolService(deps.Engine, deps.Cache, a.logger)
	custody := service.NewTreasuryService(deps.Treasury, deps.Transfers, pools)

	hub := ws.NewHub(deps.Bus, ws.Config{
		Mode:           a.cfg.Mode,
		Channel:        events.Channel,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      startedAt,
	}, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks),
		Status:   handler.NewStatusHandler(pools, a.cfg.Mode, startedAt, a.logger),
		Pools:    handler.NewPoolHandler(pools, a.logger),
		Admin:    handler.NewAdminHandler(pools, a.logger),
		Auth:     handler.NewAuthHandler(authSvc, a.logger),
		Treasury: handler.NewTreasuryHandler(custody, a.logger),
	}, server.Deps{
		Verifier: authSvc,
		Limiter:  deps.Limiter,
		Hub:      hub,
		Logger:   a.logger,
	})

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}
