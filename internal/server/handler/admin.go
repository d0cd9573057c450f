package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/service"
)

// AdminHandler serves the owner-only engine controls.
type AdminHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(pools PoolService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{pools: pools, logger: withDefault(logger)}
}

// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.pools.Pause(r.Context(), who); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.pools.Unpause(r.Context(), who); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// PUT /api/admin/settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req service.SettingsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FeeRecipient == nil && req.PlatformFeeBps == nil && req.Owner == nil {
		writeError(w, http.StatusBadRequest, "no settings to update")
		return
	}
	settings, err := h.pools.UpdateSettings(r.Context(), who, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// GET /api/admin/payouts/owed
func (h *AdminHandler) OwedPayouts(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	owed, err := h.pools.OwedPayouts(r.Context(), who)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if owed == nil {
		owed = []domain.OwedPayout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"owed": owed})
}

// POST /api/admin/payouts/repay
func (h *AdminHandler) RepayOwed(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	paid, err := h.pools.RepayOwed(r.Context(), who)
	if err != nil {
		h.logger.WarnContext(r.Context(), "admin: repay stopped early",
			slog.Int("paid", len(paid)),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, r, h.logger, err)
		return
	}
	if paid == nil {
		paid = []domain.OwedPayout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"paid": paid})
}
