package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/auth"
)

// Authenticator issues challenges and session tokens.
type Authenticator interface {
	NewChallenge(addr common.Address) auth.Challenge
	Login(addr common.Address, message, signature string) (auth.Token, error)
}

// AuthHandler serves wallet login.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewAuthHandler(a Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: a, logger: withDefault(logger)}
}

type challengeRequest struct {
	Address string `json:"address"`
}

// POST /api/auth/challenge
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, ok := addressParam(w, req.Address, "address")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.auth.NewChallenge(addr))
}

type loginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, ok := addressParam(w, req.Address, "address")
	if !ok {
		return
	}
	tok, err := h.auth.Login(addr, req.Message, req.Signature)
	if err != nil {
		h.logger.InfoContext(r.Context(), "handler: login rejected",
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}
