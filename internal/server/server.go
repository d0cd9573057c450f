// Package server exposes the pool service over JSON/HTTP and a websocket
// event feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/server/handler"
	"github.com/alanyoungcy/cricketpools/internal/server/middleware"
	"github.com/alanyoungcy/cricketpools/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// RateLimit is requests per RateWindow per client; 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Pools    *handler.PoolHandler
	Admin    *handler.AdminHandler
	Auth     *handler.AuthHandler
	Treasury *handler.TreasuryHandler
}

// Deps are the cross-cutting collaborators of the middleware chain.
type Deps struct {
	Verifier middleware.TokenVerifier
	Limiter  domain.RateLimiter
	Hub      *ws.Hub
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, auth
// and rate limiting, outermost first.
func NewServer(cfg Config, h Handlers, deps Deps) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("POST /api/auth/challenge", h.Auth.Challenge)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)

	mux.HandleFunc("GET /api/pools", h.Pools.ListPools)
	mux.HandleFunc("POST /api/pools", h.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", h.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/options", h.Pools.GetOptions)
	mux.HandleFunc("GET /api/pools/{id}/totals", h.Pools.OptionTotals)
	mux.HandleFunc("GET /api/pools/{id}/players/{address}", h.Pools.PlayerInfo)
	mux.HandleFunc("POST /api/pools/{id}/join", h.Pools.JoinPool)
	mux.HandleFunc("POST /api/pools/{id}/resolve", h.Pools.ResolvePool)
	mux.HandleFunc("POST /api/pools/{id}/cancel", h.Pools.CancelPool)
	mux.HandleFunc("POST /api/pools/{id}/claim", h.Pools.Claim)
	mux.HandleFunc("POST /api/pools/{id}/sweep", h.Pools.SweepNoWinners)
	mux.HandleFunc("POST /api/pools/{id}/sweep-dust", h.Pools.SweepDust)

	mux.HandleFunc("POST /api/admin/pause", h.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", h.Admin.Unpause)
	mux.HandleFunc("PUT /api/admin/settings", h.Admin.UpdateSettings)
	mux.HandleFunc("POST /api/admin/credit", h.Treasury.Credit)
	mux.HandleFunc("GET /api/admin/payouts/owed", h.Admin.OwedPayouts)
	mux.HandleFunc("POST /api/admin/payouts/repay", h.Admin.RepayOwed)

	mux.HandleFunc("GET /api/treasury/escrow", h.Treasury.GetEscrow)
	mux.HandleFunc("GET /api/treasury/{address}", h.Treasury.GetHolding)
	mux.HandleFunc("GET /api/treasury/{address}/transfers", h.Treasury.ListTransfers)
	mux.HandleFunc("POST /api/treasury/approve", h.Treasury.Approve)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var chain http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Auth(deps.Verifier)(chain)
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
