package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenVerifier turns a bearer token into the caller's address.
type TokenVerifier interface {
	Verify(token string) (common.Address, error)
}

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Caller returns the authenticated caller, if any.
func Caller(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// Auth resolves an "Authorization: Bearer" token into the request context.
// Requests without a token pass through anonymously; handlers that need a
// caller reject them. A token that fails verification is a 401.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			addr, err := verifier.Verify(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
