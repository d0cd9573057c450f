package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/service"
)

// PoolService is what the pool and admin handlers need from the service
// layer.
type PoolService interface {
	GetPool(ctx context.Context, id uint64) (service.PoolView, error)
	ListPools(ctx context.Context, opts domain.ListOpts) ([]service.PoolView, error)
	GetOptions(ctx context.Context, id uint64) ([]string, error)
	OptionTotals(ctx context.Context, id uint64) ([]domain.OptionTotal, error)
	PlayerInfo(ctx context.Context, id uint64, user common.Address) (domain.PlayerInfo, error)

	CreatePool(ctx context.Context, caller common.Address, params domain.CreatePoolParams) (service.PoolView, error)
	JoinPool(ctx context.Context, user common.Address, id uint64, option uint32, stake domain.Amount) error
	ResolvePool(ctx context.Context, caller common.Address, id uint64, winningOption uint32) error
	CancelPool(ctx context.Context, caller common.Address, id uint64) error
	Claim(ctx context.Context, user common.Address, id uint64) (domain.Amount, error)
	SweepNoWinners(ctx context.Context, caller common.Address, id uint64, recipient common.Address) (domain.Amount, error)
	SweepDust(ctx context.Context, caller common.Address, id uint64, recipient common.Address) (domain.Amount, error)

	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
	UpdateSettings(ctx context.Context, caller common.Address, u service.SettingsUpdate) (domain.Settings, error)
	OwedPayouts(ctx context.Context, caller common.Address) ([]domain.OwedPayout, error)
	RepayOwed(ctx context.Context, caller common.Address) ([]domain.OwedPayout, error)
}

// PoolHandler serves the pool endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: withDefault(logger)}
}

type listPoolsResponse struct {
	Pools  []service.PoolView `json:"pools"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	pools, err := h.pools.ListPools(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if pools == nil {
		pools = []service.PoolView{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools, Limit: opts.Limit, Offset: opts.Offset})
}

// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	p, err := h.pools.GetPool(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/pools/{id}/options
func (h *PoolHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	opts, err := h.pools.GetOptions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "options": opts})
}

// GET /api/pools/{id}/totals
func (h *PoolHandler) OptionTotals(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	totals, err := h.pools.OptionTotals(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "totals": totals})
}

// GET /api/pools/{id}/players/{address}
func (h *PoolHandler) PlayerInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	info, err := h.pools.PlayerInfo(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var params domain.CreatePoolParams
	if !decodeJSON(w, r, &params) {
		return
	}
	p, err := h.pools.CreatePool(r.Context(), who, params)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type joinRequest struct {
	Option uint32        `json:"option"`
	Stake  domain.Amount `json:"stake"`
}

// POST /api/pools/{id}/join
func (h *PoolHandler) JoinPool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.pools.JoinPool(r.Context(), who, id, req.Option, req.Stake); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "user": who, "option": req.Option})
}

type resolveRequest struct {
	WinningOption uint32 `json:"winning_option"`
}

// POST /api/pools/{id}/resolve
func (h *PoolHandler) ResolvePool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.pools.ResolvePool(r.Context(), who, id, req.WinningOption); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writePool(w, r, id)
}

// POST /api/pools/{id}/cancel
func (h *PoolHandler) CancelPool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	if err := h.pools.CancelPool(r.Context(), who, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writePool(w, r, id)
}

// POST /api/pools/{id}/claim
func (h *PoolHandler) Claim(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	amount, err := h.pools.Claim(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "user": who, "amount": amount})
}

type sweepRequest struct {
	Recipient common.Address `json:"recipient"`
}

// POST /api/pools/{id}/sweep
func (h *PoolHandler) SweepNoWinners(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, h.pools.SweepNoWinners)
}

// POST /api/pools/{id}/sweep-dust
func (h *PoolHandler) SweepDust(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, h.pools.SweepDust)
}

func (h *PoolHandler) sweep(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, common.Address, uint64, common.Address) (domain.Amount, error),
) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := poolID(w, r)
	if !ok {
		return
	}
	var req sweepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := fn(r.Context(), who, id, req.Recipient)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "recipient": req.Recipient, "amount": amount})
}

func (h *PoolHandler) writePool(w http.ResponseWriter, r *http.Request, id uint64) {
	p, err := h.pools.GetPool(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
