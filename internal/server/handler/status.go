package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cricketpools/internal/service"
)

// StatusSource provides the engine summary.
type StatusSource interface {
	Status(ctx context.Context) (service.Status, error)
}

// StatusHandler serves engine settings and process metadata.
type StatusHandler struct {
	source    StatusSource
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

func NewStatusHandler(source StatusSource, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, mode: mode, startedAt: startedAt, logger: withDefault(logger)}
}

// GetStatus responds with the settings, next pool id, mode and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.source.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"settings":       st.Settings,
		"next_pool_id":   st.NextPoolID,
	})
}
