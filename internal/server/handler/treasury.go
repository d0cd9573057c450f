package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/service"
)

// TreasuryService is what the treasury handler needs.
type TreasuryService interface {
	Holding(ctx context.Context, asset, account common.Address) (service.Holding, error)
	Escrow(ctx context.Context, asset common.Address) (domain.Amount, error)
	Approve(ctx context.Context, caller, asset common.Address, amount domain.Amount) (service.Holding, error)
	Credit(ctx context.Context, caller, asset, account common.Address, amount domain.Amount) (service.Holding, error)
	Transfers(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Transfer, error)
}

// TreasuryHandler serves custody balances.
type TreasuryHandler struct {
	treasury TreasuryService
	logger   *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler.
func NewTreasuryHandler(t TreasuryService, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{treasury: t, logger: withDefault(logger)}
}

// assetParam reads ?asset=, defaulting to the native asset.
func assetParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.URL.Query().Get("asset")
	if raw == "" {
		return domain.NativeAsset, true
	}
	return addressParam(w, raw, "asset")
}

// GET /api/treasury/{address}
func (h *TreasuryHandler) GetHolding(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	holding, err := h.treasury.Holding(r.Context(), asset, account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// GET /api/treasury/escrow
func (h *TreasuryHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	amount, err := h.treasury.Escrow(r.Context(), asset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "escrow": amount})
}

// GET /api/treasury/{address}/transfers
func (h *TreasuryHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	transfers, err := h.treasury.Transfers(r.Context(), account, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if transfers == nil {
		transfers = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

type approveRequest struct {
	Asset  common.Address `json:"asset"`
	Amount domain.Amount  `json:"amount"`
}

// POST /api/treasury/approve
func (h *TreasuryHandler) Approve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Asset == domain.NativeAsset {
		writeError(w, http.StatusBadRequest, "native asset needs no approval")
		return
	}
	holding, err := h.treasury.Approve(r.Context(), who, req.Asset, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

type creditRequest struct {
	Address common.Address `json:"address"`
	Asset   common.Address `json:"asset"`
	Amount  domain.Amount  `json:"amount"`
}

// POST /api/admin/credit
func (h *TreasuryHandler) Credit(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	holding, err := h.treasury.Credit(r.Context(), who, req.Asset, req.Address, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}
