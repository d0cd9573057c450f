package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/cricketpools/internal/auth"
	"github.com/alanyoungcy/cricketpools/internal/crypto"
	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/engine"
	"github.com/alanyoungcy/cricketpools/internal/server/handler"
	"github.com/alanyoungcy/cricketpools/internal/service"
	"github.com/alanyoungcy/cricketpools/internal/store/memory"
	"github.com/alanyoungcy/cricketpools/internal/treasury"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type api struct {
	t       *testing.T
	handler http.Handler
	authn   *auth.Service
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *api) login(s *crypto.Signer) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/challenge", "", map[string]string{"address": s.Address().Hex()})
	if rec.Code != http.StatusOK {
		a.t.Fatalf("challenge: %d %s", rec.Code, rec.Body)
	}
	var ch auth.Challenge
	if err := json.Unmarshal(rec.Body.Bytes(), &ch); err != nil {
		a.t.Fatal(err)
	}
	sig, err := s.SignMessage([]byte(ch.Message))
	if err != nil {
		a.t.Fatal(err)
	}
	rec = a.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"address": s.Address().Hex(), "message": ch.Message, "signature": sig,
	})
	if rec.Code != http.StatusOK {
		a.t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	var tok auth.Token
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		a.t.Fatal(err)
	}
	return tok.Token
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, status, rec.Body)
	}
}

func newAPI(t *testing.T, owner *crypto.Signer, clk *clock) *api {
	t.Helper()
	store := memory.New()
	book := treasury.New(store, store, nil)
	eng, err := engine.New(engine.Deps{Pools: store, Settings: store, Treasury: book, Clock: clk.Now})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Bootstrap(context.Background(), domain.Settings{Owner: owner.Address(), FeeRecipient: owner.Address()}); err != nil {
		t.Fatal(err)
	}
	authn, err := auth.New(auth.Config{Secret: []byte("server-test-secret-123")})
	if err != nil {
		t.Fatal(err)
	}
	pools := service.NewPoolService(eng, nil, nil)
	funds := service.NewTreasuryService(book, store, pools)
	srv := NewServer(Config{Port: 0}, Handlers{
		Health:   handler.NewHealthHandler(nil),
		Status:   handler.NewStatusHandler(pools, "server", time.Now(), nil),
		Pools:    handler.NewPoolHandler(pools, nil),
		Admin:    handler.NewAdminHandler(pools, nil),
		Auth:     handler.NewAuthHandler(authn, nil),
		Treasury: handler.NewTreasuryHandler(funds, nil),
	}, Deps{Verifier: authn})
	return &api{t: t, handler: srv.Handler(), authn: authn}
}

func TestPoolLifecycleOverHTTP(t *testing.T) {
	owner, _ := crypto.GenerateSigner()
	player, _ := crypto.GenerateSigner()
	clk := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	a := newAPI(t, owner, clk)

	expect(t, a.do(http.MethodGet, "/api/health", "", nil), http.StatusOK)
	expect(t, a.do(http.MethodPost, "/api/pools", "", map[string]any{}), http.StatusUnauthorized)
	expect(t, a.do(http.MethodGet, "/api/pools", "garbage", nil), http.StatusUnauthorized)

	ownerTok := a.login(owner)
	playerTok := a.login(player)

	create := map[string]any{
		"name":      "IND vs AUS",
		"entry_fee": "100",
		"lock_time": clk.Now().Add(time.Hour),
		"options":   []string{"IND", "AUS"},
	}
	expect(t, a.do(http.MethodPost, "/api/pools", playerTok, create), http.StatusForbidden)
	rec := a.do(http.MethodPost, "/api/pools", ownerTok, create)
	expect(t, rec, http.StatusCreated)
	var created service.PoolView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID != 1 || created.State != domain.PoolStateOpen {
		t.Fatalf("created = %+v", created)
	}

	expect(t, a.do(http.MethodPost, "/api/admin/credit", playerTok, map[string]any{
		"address": player.Address(), "amount": "100",
	}), http.StatusForbidden)
	expect(t, a.do(http.MethodPost, "/api/admin/credit", ownerTok, map[string]any{
		"address": player.Address(), "amount": "100",
	}), http.StatusOK)

	join := map[string]any{"option": 1, "stake": "100"}
	expect(t, a.do(http.MethodPost, "/api/pools/1/join", playerTok, map[string]any{"option": 1, "stake": "99"}), http.StatusBadRequest)
	expect(t, a.do(http.MethodPost, "/api/pools/1/join", playerTok, join), http.StatusOK)
	expect(t, a.do(http.MethodPost, "/api/pools/1/join", playerTok, join), http.StatusConflict)

	rec = a.do(http.MethodGet, "/api/pools/1/players/"+player.Address().Hex(), "", nil)
	expect(t, rec, http.StatusOK)
	var info domain.PlayerInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil || !info.HasJoined || info.Pick != 1 {
		t.Fatalf("player info = %+v, %v", info, err)
	}

	expect(t, a.do(http.MethodPost, "/api/pools/1/resolve", ownerTok, map[string]any{"winning_option": 1}), http.StatusConflict)
	clk.Advance(2 * time.Hour)
	rec = a.do(http.MethodPost, "/api/pools/1/resolve", ownerTok, map[string]any{"winning_option": 1})
	expect(t, rec, http.StatusOK)
	var resolved service.PoolView
	if err := json.Unmarshal(rec.Body.Bytes(), &resolved); err != nil || resolved.State != domain.PoolStateResolved {
		t.Fatalf("resolved = %+v, %v", resolved, err)
	}

	rec = a.do(http.MethodPost, "/api/pools/1/claim", playerTok, nil)
	expect(t, rec, http.StatusOK)
	var claim struct {
		Amount domain.Amount `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil || claim.Amount.String() != "100" {
		t.Fatalf("claim = %s, %v", rec.Body, err)
	}
	expect(t, a.do(http.MethodPost, "/api/pools/1/claim", playerTok, nil), http.StatusConflict)

	rec = a.do(http.MethodGet, "/api/treasury/"+player.Address().Hex(), "", nil)
	expect(t, rec, http.StatusOK)
	var holding service.Holding
	if err := json.Unmarshal(rec.Body.Bytes(), &holding); err != nil || holding.Balance.String() != "100" {
		t.Fatalf("holding = %s, %v", rec.Body, err)
	}
	rec = a.do(http.MethodGet, "/api/treasury/escrow", "", nil)
	expect(t, rec, http.StatusOK)
	var escrow struct {
		Escrow domain.Amount `json:"escrow"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &escrow); err != nil || !escrow.Escrow.IsZero() {
		t.Fatalf("escrow = %s, %v", rec.Body, err)
	}

	expect(t, a.do(http.MethodGet, "/api/pools/abc", "", nil), http.StatusBadRequest)
	expect(t, a.do(http.MethodGet, "/api/pools/99", "", nil), http.StatusNotFound)
	expect(t, a.do(http.MethodGet, "/api/status", "", nil), http.StatusOK)
}

func TestAdminEndpoints(t *testing.T) {
	owner, _ := crypto.GenerateSigner()
	stranger, _ := crypto.GenerateSigner()
	a := newAPI(t, owner, &clock{t: time.Now()})
	ownerTok := a.login(owner)
	strangerTok := a.login(stranger)

	expect(t, a.do(http.MethodPost, "/api/admin/pause", strangerTok, nil), http.StatusForbidden)
	expect(t, a.do(http.MethodPost, "/api/admin/pause", ownerTok, nil), http.StatusOK)
	expect(t, a.do(http.MethodPost, "/api/admin/pause", ownerTok, nil), http.StatusLocked)
	expect(t, a.do(http.MethodPost, "/api/admin/unpause", ownerTok, nil), http.StatusOK)
	expect(t, a.do(http.MethodPost, "/api/admin/unpause", ownerTok, nil), http.StatusConflict)

	expect(t, a.do(http.MethodPut, "/api/admin/settings", ownerTok, map[string]any{}), http.StatusBadRequest)
	expect(t, a.do(http.MethodPut, "/api/admin/settings", ownerTok, map[string]any{"platform_fee_bps": 10001}), http.StatusBadRequest)
	rec := a.do(http.MethodPut, "/api/admin/settings", ownerTok, map[string]any{"platform_fee_bps": 300})
	expect(t, rec, http.StatusOK)
	var settings domain.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil || settings.DefaultFeeBps != 300 {
		t.Fatalf("settings = %s, %v", rec.Body, err)
	}
	expect(t, a.do(http.MethodPost, "/api/admin/pause", "", nil), http.StatusUnauthorized)

	expect(t, a.do(http.MethodGet, "/api/admin/payouts/owed", strangerTok, nil), http.StatusForbidden)
	rec = a.do(http.MethodGet, "/api/admin/payouts/owed", ownerTok, nil)
	expect(t, rec, http.StatusOK)
	var owed struct {
		Owed []domain.OwedPayout `json:"owed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &owed); err != nil || owed.Owed == nil || len(owed.Owed) != 0 {
		t.Fatalf("owed = %s, %v", rec.Body, err)
	}
	expect(t, a.do(http.MethodPost, "/api/admin/payouts/repay", strangerTok, nil), http.StatusForbidden)
	expect(t, a.do(http.MethodPost, "/api/admin/payouts/repay", ownerTok, nil), http.StatusOK)
}
