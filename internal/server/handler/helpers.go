package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/auth"
	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

func withDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an error from the service layer to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvariant):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrAlreadyJoined),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrPoolFull),
		errors.Is(err, domain.ErrPoolLocked),
		errors.Is(err, domain.ErrNotLocked),
		errors.Is(err, domain.ErrNotSettled),
		errors.Is(err, domain.ErrNothingToSweep),
		errors.Is(err, domain.ErrNotPaused),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOptions),
		errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, domain.ErrInvalidLockTime),
		errors.Is(err, domain.ErrInvalidEntryFee),
		errors.Is(err, domain.ErrInvalidFee),
		errors.Is(err, domain.ErrWrongStakeAmount),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrNotJoined),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Server-side failures
// are logged and their detail withheld, except for failed payouts whose
// message tells the caller the state change did commit.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		if status != http.StatusBadGateway {
			writeError(w, status, "internal server error")
			return
		}
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// caller returns the authenticated caller or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return addr, ok
}

func poolID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return 0, false
	}
	return id, true
}

func addressParam(w http.ResponseWriter, raw, name string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
