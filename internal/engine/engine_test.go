package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/store/memory"
	"github.com/alanyoungcy/cricketpools/internal/treasury"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	feeSink  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	user1    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	user2    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	user3    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	sweepTo  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Publish(_ context.Context, evt domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	store  *memory.Store
	book   *treasury.Book
	clock  *fakeClock
	events *recordingSink
}

func newHarness(t *testing.T, feeBps uint16) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		clock:  &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events: &recordingSink{},
	}
	h.book = treasury.New(h.store, h.store, nil)
	eng, err := New(Deps{
		Pools:    h.store,
		Settings: h.store,
		Treasury: h.book,
		Events:   h.events,
		Clock:    h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = eng
	if _, err := eng.Bootstrap(context.Background(), domain.Settings{
		Owner:         owner,
		FeeRecipient:  feeSink,
		DefaultFeeBps: feeBps,
	}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return h
}

func (h *harness) fund(t *testing.T, asset common.Address, amount uint64, users ...common.Address) {
	t.Helper()
	for _, u := range users {
		if err := h.book.Credit(context.Background(), asset, u, domain.NewAmount(amount)); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}
}

func (h *harness) balance(t *testing.T, asset, account common.Address) domain.Amount {
	t.Helper()
	got, err := h.book.BalanceOf(context.Background(), asset, account)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	return got
}

func (h *harness) allowance(t *testing.T, asset, account common.Address) domain.Amount {
	t.Helper()
	got, err := h.book.AllowanceOf(context.Background(), asset, account)
	if err != nil {
		t.Fatalf("AllowanceOf: %v", err)
	}
	return got
}

func (h *harness) escrow(t *testing.T, asset common.Address) domain.Amount {
	t.Helper()
	got, err := h.book.EscrowOf(context.Background(), asset)
	if err != nil {
		t.Fatalf("EscrowOf: %v", err)
	}
	return got
}

func (h *harness) createPool(t *testing.T, fee uint64, options ...string) uint64 {
	t.Helper()
	if len(options) == 0 {
		options = []string{"IND", "AUS"}
	}
	id, err := h.engine.CreatePool(context.Background(), owner, domain.CreatePoolParams{
		Name:     "IND vs AUS",
		EntryFee: domain.NewAmount(fee),
		LockTime: h.clock.Now().Add(time.Hour),
		Options:  options,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return id
}

func (h *harness) join(t *testing.T, id uint64, user common.Address, option uint32, stake uint64) {
	t.Helper()
	if err := h.engine.JoinPool(context.Background(), user, id, option, domain.NewAmount(stake)); err != nil {
		t.Fatalf("JoinPool(%s, %d): %v", user.Hex(), option, err)
	}
}

func (h *harness) claim(t *testing.T, id uint64, user common.Address) domain.Amount {
	t.Helper()
	got, err := h.engine.Claim(context.Background(), user, id)
	if err != nil {
		t.Fatalf("Claim(%s): %v", user.Hex(), err)
	}
	return got
}

func TestWinnersShareNetPot(t *testing.T) {
	h := newHarness(t, 500)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 1, user1, user2)

	id := h.createPool(t, 1)
	if id != 1 {
		t.Fatalf("first pool id = %d, want 1", id)
	}
	h.join(t, id, user1, 0, 1)
	h.join(t, id, user2, 0, 1)

	h.clock.Advance(time.Hour)
	if err := h.engine.ResolvePool(ctx, owner, id, 0); err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}

	p, err := h.engine.GetPool(ctx, id)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p.WinnersCount != 2 {
		t.Errorf("winners = %d, want 2", p.WinnersCount)
	}
	wantFee, wantNet := SplitPot(domain.NewAmount(2), 500)
	if !p.NetPot.Eq(wantNet) || !p.PlatformFee.Eq(wantFee) {
		t.Errorf("net/fee = %s/%s, want %s/%s", p.NetPot, p.PlatformFee, wantNet, wantFee)
	}

	got := h.claim(t, id, user1)
	if want := p.NetPot.DivUint64(2); !got.Eq(want) {
		t.Errorf("payout = %s, want %s", got, want)
	}
	if _, err := h.engine.Claim(ctx, user1, id); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
	if bal := h.balance(t, domain.NativeAsset, user1); !bal.Eq(got) {
		t.Errorf("user1 balance = %s, want %s (no double payout)", bal, got)
	}
}

func TestFeeSplitAndEscrowDrains(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 1000, user1, user2, user3)

	id := h.createPool(t, 1000, "A", "B", "C")
	h.join(t, id, user1, 1, 1000)
	h.join(t, id, user2, 1, 1000)
	h.join(t, id, user3, 2, 1000)

	h.clock.Advance(2 * time.Hour)
	if err := h.engine.ResolvePool(ctx, owner, id, 1); err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}
	// 3000 * 250 / 10000 = 75
	if fee := h.balance(t, domain.NativeAsset, feeSink); !fee.Eq(domain.NewAmount(75)) {
		t.Errorf("fee recipient balance = %s, want 75", fee)
	}

	if got := h.claim(t, id, user1); !got.Eq(domain.NewAmount(1462)) {
		t.Errorf("user1 payout = %s, want 1462", got)
	}
	if got := h.claim(t, id, user2); !got.Eq(domain.NewAmount(1462)) {
		t.Errorf("user2 payout = %s, want 1462", got)
	}
	if got := h.claim(t, id, user3); !got.IsZero() {
		t.Errorf("loser payout = %s, want 0", got)
	}

	// 2925 mod 2 = 1
	p, _ := h.engine.GetPool(ctx, id)
	if !p.Dust.Eq(domain.NewAmount(1)) {
		t.Fatalf("dust = %s, want 1", p.Dust)
	}
	if _, err := h.engine.SweepNoWinners(ctx, owner, id, sweepTo); !errors.Is(err, domain.ErrNothingToSweep) {
		t.Errorf("SweepNoWinners with winners err = %v, want ErrNothingToSweep", err)
	}
	got, err := h.engine.SweepDust(ctx, owner, id, sweepTo)
	if err != nil {
		t.Fatalf("SweepDust: %v", err)
	}
	if !got.Eq(domain.NewAmount(1)) {
		t.Errorf("dust swept = %s, want 1", got)
	}
	if _, err := h.engine.SweepDust(ctx, owner, id, sweepTo); !errors.Is(err, domain.ErrNothingToSweep) {
		t.Errorf("second SweepDust err = %v, want ErrNothingToSweep", err)
	}
	if esc := h.escrow(t, domain.NativeAsset); !esc.IsZero() {
		t.Errorf("escrow = %s after full settlement, want 0", esc)
	}
}

func TestCancelRefundsStake(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 50, user1)

	id := h.createPool(t, 50)
	h.join(t, id, user1, 1, 50)
	if err := h.engine.CancelPool(ctx, owner, id); err != nil {
		t.Fatalf("CancelPool: %v", err)
	}
	if got := h.claim(t, id, user1); !got.Eq(domain.NewAmount(50)) {
		t.Errorf("refund = %s, want 50", got)
	}
	if fee := h.balance(t, domain.NativeAsset, feeSink); !fee.IsZero() {
		t.Errorf("fee taken on canceled pool: %s", fee)
	}
	if err := h.engine.CancelPool(ctx, owner, id); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second cancel err = %v, want ErrAlreadyResolved", err)
	}
	if err := h.engine.ResolvePool(ctx, owner, id, 0); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("resolve after cancel err = %v, want ErrAlreadyResolved", err)
	}
	if err := h.engine.JoinPool(ctx, user2, id, 0, domain.NewAmount(50)); !errors.Is(err, domain.ErrPoolLocked) {
		t.Errorf("join after cancel err = %v, want ErrPoolLocked", err)
	}
	if _, err := h.engine.SweepNoWinners(ctx, owner, id, sweepTo); !errors.Is(err, domain.ErrNothingToSweep) {
		t.Errorf("sweep canceled pool err = %v, want ErrNothingToSweep", err)
	}
}

func TestNoWinnersSweep(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 10, user1, user2)

	id := h.createPool(t, 10, "IND", "AUS", "DRAW")
	h.join(t, id, user1, 0, 10)
	h.join(t, id, user2, 1, 10)
	h.clock.Advance(time.Hour)
	if err := h.engine.ResolvePool(ctx, owner, id, 2); err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}

	p, _ := h.engine.GetPool(ctx, id)
	if p.WinnersCount != 0 {
		t.Fatalf("winners = %d, want 0", p.WinnersCount)
	}
	if got := h.claim(t, id, user1); !got.IsZero() {
		t.Errorf("claim with no winners = %s, want 0", got)
	}
	info, _ := h.engine.PlayerInfo(ctx, id, user1)
	if !info.Claimed {
		t.Error("zero claim not marked claimed")
	}
	if claimed := h.events.ofType(domain.EventClaimed); len(claimed) != 1 || !claimed[0].Amount.IsZero() {
		t.Errorf("claimed events = %+v, want one zero-amount event", claimed)
	}

	if _, err := h.engine.SweepNoWinners(ctx, stranger, id, sweepTo); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("sweep by stranger err = %v, want ErrUnauthorized", err)
	}
	if _, err := h.engine.SweepNoWinners(ctx, owner, id, common.Address{}); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Errorf("sweep to zero err = %v, want ErrInvalidRecipient", err)
	}
	got, err := h.engine.SweepNoWinners(ctx, owner, id, sweepTo)
	if err != nil {
		t.Fatalf("SweepNoWinners: %v", err)
	}
	if !got.Eq(domain.NewAmount(20)) {
		t.Errorf("swept = %s, want 20", got)
	}
	if _, err := h.engine.SweepNoWinners(ctx, owner, id, sweepTo); !errors.Is(err, domain.ErrNothingToSweep) {
		t.Errorf("second sweep err = %v, want ErrNothingToSweep", err)
	}
	if bal := h.balance(t, domain.NativeAsset, sweepTo); !bal.Eq(domain.NewAmount(20)) {
		t.Errorf("recipient balance = %s, want 20", bal)
	}
	if got := h.claim(t, id, user2); !got.IsZero() {
		t.Errorf("late loser claim = %s, want 0", got)
	}
	if esc := h.escrow(t, domain.NativeAsset); !esc.IsZero() {
		t.Errorf("escrow = %s, want 0", esc)
	}
}

func TestCreatePoolValidation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	now := h.clock.Now()

	tests := []struct {
		name   string
		caller common.Address
		params domain.CreatePoolParams
		want   error
	}{
		{
			name:   "not owner",
			caller: stranger,
			params: domain.CreatePoolParams{EntryFee: domain.NewAmount(1), LockTime: now.Add(time.Hour), Options: []string{"A", "B"}},
			want:   domain.ErrUnauthorized,
		},
		{
			name:   "one option",
			caller: owner,
			params: domain.CreatePoolParams{EntryFee: domain.NewAmount(1), LockTime: now.Add(time.Hour), Options: []string{"A"}},
			want:   domain.ErrInvalidOptions,
		},
		{
			name:   "lock in past",
			caller: owner,
			params: domain.CreatePoolParams{EntryFee: domain.NewAmount(1), LockTime: now.Add(-time.Second), Options: []string{"A", "B"}},
			want:   domain.ErrInvalidLockTime,
		},
		{
			name:   "lock now",
			caller: owner,
			params: domain.CreatePoolParams{EntryFee: domain.NewAmount(1), LockTime: now, Options: []string{"A", "B"}},
			want:   domain.ErrInvalidLockTime,
		},
		{
			name:   "zero entry fee",
			caller: owner,
			params: domain.CreatePoolParams{LockTime: now.Add(time.Hour), Options: []string{"A", "B"}},
			want:   domain.ErrInvalidEntryFee,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.engine.CreatePool(ctx, tt.caller, tt.params); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if next, _ := h.engine.NextPoolID(ctx); next != 1 {
		t.Errorf("rejected creations consumed ids: next = %d", next)
	}
}

func TestJoinPreconditions(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 100, user1, user2, user3)

	id, err := h.engine.CreatePool(ctx, owner, domain.CreatePoolParams{
		Name:            "capped",
		EntryFee:        domain.NewAmount(5),
		LockTime:        h.clock.Now().Add(time.Hour),
		MaxParticipants: 2,
		Options:         []string{"A", "B"},
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	if err := h.engine.JoinPool(ctx, user1, 99, 0, domain.NewAmount(5)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown pool err = %v, want ErrNotFound", err)
	}
	if err := h.engine.JoinPool(ctx, user1, id, 2, domain.NewAmount(5)); !errors.Is(err, domain.ErrInvalidOption) {
		t.Errorf("bad option err = %v, want ErrInvalidOption", err)
	}
	if err := h.engine.JoinPool(ctx, user1, id, 0, domain.NewAmount(4)); !errors.Is(err, domain.ErrWrongStakeAmount) {
		t.Errorf("short stake err = %v, want ErrWrongStakeAmount", err)
	}
	h.join(t, id, user1, 0, 5)
	if err := h.engine.JoinPool(ctx, user1, id, 1, domain.NewAmount(5)); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Errorf("rejoin err = %v, want ErrAlreadyJoined", err)
	}
	h.join(t, id, user2, 1, 5)
	if err := h.engine.JoinPool(ctx, user3, id, 1, domain.NewAmount(5)); !errors.Is(err, domain.ErrPoolFull) {
		t.Errorf("over cap err = %v, want ErrPoolFull", err)
	}

	p, _ := h.engine.GetPool(ctx, id)
	if p.TotalEntries != 2 || !p.TotalPot.Eq(domain.NewAmount(10)) {
		t.Errorf("entries/pot = %d/%s, want 2/10", p.TotalEntries, p.TotalPot)
	}
	if bal := h.balance(t, domain.NativeAsset, user3); !bal.Eq(domain.NewAmount(100)) {
		t.Errorf("rejected joiner was charged: balance %s", bal)
	}
	totals, _ := h.engine.OptionTotals(ctx, id)
	if totals[0].Entries != 1 || totals[1].Entries != 1 {
		t.Errorf("option totals = %+v", totals)
	}
	if joined := h.events.ofType(domain.EventJoined); len(joined) != 2 {
		t.Errorf("joined events = %d, want 2", len(joined))
	}
}

func TestJoinAfterLock(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 1, user1)
	id := h.createPool(t, 1)

	h.clock.Advance(time.Hour)
	if err := h.engine.JoinPool(ctx, user1, id, 0, domain.NewAmount(1)); !errors.Is(err, domain.ErrPoolLocked) {
		t.Errorf("join at lock time err = %v, want ErrPoolLocked", err)
	}
	p, _ := h.engine.GetPool(ctx, id)
	if st := h.engine.StateOf(p); st != domain.PoolStateLocked {
		t.Errorf("state = %s, want locked", st)
	}
}

func TestJoinInsufficientFunds(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createPool(t, 3)
	if err := h.engine.JoinPool(ctx, user1, id, 0, domain.NewAmount(3)); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if joined, _ := h.engine.HasJoined(ctx, id, user1); joined {
		t.Error("unfunded join was recorded")
	}
}

func TestTokenPoolNeedsAllowance(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, token, 7, user1)

	id, err := h.engine.CreatePool(ctx, owner, domain.CreatePoolParams{
		Asset:    token,
		EntryFee: domain.NewAmount(7),
		LockTime: h.clock.Now().Add(time.Hour),
		Options:  []string{"A", "B"},
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := h.engine.JoinPool(ctx, user1, id, 0, domain.NewAmount(7)); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("join without allowance err = %v, want ErrInsufficientFunds", err)
	}
	if err := h.book.Approve(ctx, token, user1, domain.NewAmount(7)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	h.join(t, id, user1, 0, 7)
	if esc := h.escrow(t, token); !esc.Eq(domain.NewAmount(7)) {
		t.Errorf("token escrow = %s, want 7", esc)
	}
	if a := h.allowance(t, token, user1); !a.IsZero() {
		t.Errorf("allowance left = %s, want 0", a)
	}
}

func TestResolvePreconditions(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createPool(t, 1)

	if err := h.engine.ResolvePool(ctx, stranger, id, 0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger resolve err = %v, want ErrUnauthorized", err)
	}
	if err := h.engine.ResolvePool(ctx, owner, id, 0); !errors.Is(err, domain.ErrNotLocked) {
		t.Errorf("early resolve err = %v, want ErrNotLocked", err)
	}
	h.clock.Advance(time.Hour)
	if err := h.engine.ResolvePool(ctx, owner, id, 2); !errors.Is(err, domain.ErrInvalidOption) {
		t.Errorf("bad option err = %v, want ErrInvalidOption", err)
	}
	if err := h.engine.ResolvePool(ctx, owner, 42, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown pool err = %v, want ErrNotFound", err)
	}
	if err := h.engine.ResolvePool(ctx, owner, id, 1); err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}
	if err := h.engine.ResolvePool(ctx, owner, id, 1); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
	if err := h.engine.CancelPool(ctx, owner, id); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("cancel after resolve err = %v, want ErrAlreadyResolved", err)
	}
	if resolved := h.events.ofType(domain.EventResolved); len(resolved) != 1 || resolved[0].Option != 1 {
		t.Errorf("resolved events = %+v", resolved)
	}
}

func TestClaimPreconditions(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 1, user1)
	id := h.createPool(t, 1)
	h.join(t, id, user1, 0, 1)

	if _, err := h.engine.Claim(ctx, user2, id); !errors.Is(err, domain.ErrNotJoined) {
		t.Errorf("non-participant claim err = %v, want ErrNotJoined", err)
	}
	if _, err := h.engine.Claim(ctx, user1, id); !errors.Is(err, domain.ErrNotSettled) {
		t.Errorf("open claim err = %v, want ErrNotSettled", err)
	}
	h.clock.Advance(time.Hour)
	if _, err := h.engine.Claim(ctx, user1, id); !errors.Is(err, domain.ErrNotSettled) {
		t.Errorf("locked claim err = %v, want ErrNotSettled", err)
	}
}

func TestPauseBlocksOnlyJoins(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 1, user1, user2)
	id := h.createPool(t, 1)
	h.join(t, id, user1, 0, 1)

	if err := h.engine.Pause(ctx, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger pause err = %v, want ErrUnauthorized", err)
	}
	if err := h.engine.Unpause(ctx, owner); !errors.Is(err, domain.ErrNotPaused) {
		t.Errorf("unpause when running err = %v, want ErrNotPaused", err)
	}
	if err := h.engine.Pause(ctx, owner); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.engine.Pause(ctx, owner); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("double pause err = %v, want ErrPaused", err)
	}
	if err := h.engine.JoinPool(ctx, user2, id, 0, domain.NewAmount(1)); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("paused join err = %v, want ErrPaused", err)
	}

	// Settlement keeps working while paused.
	h.clock.Advance(time.Hour)
	if err := h.engine.ResolvePool(ctx, owner, id, 0); err != nil {
		t.Fatalf("ResolvePool while paused: %v", err)
	}
	if got := h.claim(t, id, user1); !got.Eq(domain.NewAmount(1)) {
		t.Errorf("claim while paused = %s, want 1", got)
	}

	if err := h.engine.Unpause(ctx, owner); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	id2 := h.createPool(t, 1)
	h.join(t, id2, user2, 1, 1)
	if n := len(h.events.ofType(domain.EventPaused)); n != 1 {
		t.Errorf("paused events = %d, want 1", n)
	}
}

func TestSettingsChanges(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	newSink := common.HexToAddress("0x00000000000000000000000000000000000000fd")

	before := h.createPool(t, 1)
	if err := h.engine.SetPlatformFee(ctx, owner, 10_001); !errors.Is(err, domain.ErrInvalidFee) {
		t.Errorf("fee above max err = %v, want ErrInvalidFee", err)
	}
	if err := h.engine.SetPlatformFee(ctx, owner, 300); err != nil {
		t.Fatalf("SetPlatformFee: %v", err)
	}
	after := h.createPool(t, 1)

	p1, _ := h.engine.GetPool(ctx, before)
	p2, _ := h.engine.GetPool(ctx, after)
	if p1.PlatformFeeBps != 100 || p2.PlatformFeeBps != 300 {
		t.Errorf("fee bps = %d/%d, want 100/300", p1.PlatformFeeBps, p2.PlatformFeeBps)
	}

	if err := h.engine.SetFeeRecipient(ctx, owner, common.Address{}); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Errorf("zero fee recipient err = %v, want ErrInvalidRecipient", err)
	}
	if err := h.engine.SetFeeRecipient(ctx, owner, newSink); err != nil {
		t.Fatalf("SetFeeRecipient: %v", err)
	}
	if err := h.engine.TransferOwnership(ctx, owner, stranger); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if _, err := h.engine.CreatePool(ctx, owner, domain.CreatePoolParams{
		EntryFee: domain.NewAmount(1), LockTime: h.clock.Now().Add(time.Hour), Options: []string{"A", "B"},
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("old owner create err = %v, want ErrUnauthorized", err)
	}

	s, err := h.engine.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.Owner != stranger || s.FeeRecipient != newSink || s.DefaultFeeBps != 300 {
		t.Errorf("settings = %+v", s)
	}

	again, err := h.engine.Bootstrap(ctx, domain.Settings{Owner: owner, FeeRecipient: feeSink})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if again.Owner != stranger {
		t.Error("Bootstrap overwrote stored settings")
	}
}

func TestReadsOnUnknownPool(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.engine.GetPool(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetPool err = %v", err)
	}
	if _, err := h.engine.GetOptions(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetOptions err = %v", err)
	}
	if _, err := h.engine.HasJoined(ctx, 1, user1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("HasJoined err = %v", err)
	}
	id := h.createPool(t, 1)
	info, err := h.engine.PlayerInfo(ctx, id, user1)
	if err != nil {
		t.Fatalf("PlayerInfo: %v", err)
	}
	if info != (domain.PlayerInfo{}) {
		t.Errorf("PlayerInfo for non-participant = %+v, want zero", info)
	}
	opts, _ := h.engine.GetOptions(ctx, id)
	if len(opts) != 2 || opts[0] != "IND" {
		t.Errorf("options = %v", opts)
	}
}

func TestConcurrentJoinsAndClaims(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createPool(t, 2)

	const n = 40
	users := make([]common.Address, n)
	for i := range users {
		users[i] = common.BigToAddress(big.NewInt(int64(1000 + i)))
		h.fund(t, domain.NativeAsset, 2, users[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i, u := range users {
		for range 2 {
			wg.Add(1)
			go func(u common.Address, opt uint32) {
				defer wg.Done()
				errs <- h.engine.JoinPool(ctx, u, id, opt, domain.NewAmount(2))
			}(u, uint32(i%2))
		}
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyJoined), errors.Is(err, domain.ErrInsufficientFunds):
			dup++
		default:
			t.Errorf("unexpected join error: %v", err)
		}
	}
	if ok != n || dup != n {
		t.Fatalf("joins ok=%d dup=%d, want %d each", ok, dup, n)
	}
	p, _ := h.engine.GetPool(ctx, id)
	if p.TotalEntries != n || !p.TotalPot.Eq(domain.NewAmount(2*n)) {
		t.Fatalf("entries/pot = %d/%s", p.TotalEntries, p.TotalPot)
	}

	h.clock.Advance(time.Hour)
	if err := h.engine.ResolvePool(ctx, owner, id, 0); err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}

	winner := users[0]
	var claims sync.WaitGroup
	results := make(chan error, 8)
	for range 8 {
		claims.Add(1)
		go func() {
			defer claims.Done()
			_, err := h.engine.Claim(ctx, winner, id)
			results <- err
		}()
	}
	claims.Wait()
	close(results)
	var paid int
	for err := range results {
		if err == nil {
			paid++
		} else if !errors.Is(err, domain.ErrAlreadyClaimed) {
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if paid != 1 {
		t.Errorf("successful claims = %d, want 1", paid)
	}
	// 80 / 20 winners = 4
	if bal := h.balance(t, domain.NativeAsset, winner); !bal.Eq(domain.NewAmount(4)) {
		t.Errorf("winner balance = %s, want 4", bal)
	}
}

type failingPush struct {
	*treasury.Book
	fail bool
}

func (f *failingPush) Push(ctx context.Context, asset, to common.Address, amount domain.Amount) error {
	if f.fail {
		return errors.New("rpc unavailable")
	}
	return f.Book.Push(ctx, asset, to, amount)
}

func TestFailedPayoutIsOwedAndRepaid(t *testing.T) {
	store := memory.New()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	tr := &failingPush{Book: treasury.New(store, store, nil)}
	eng, err := New(Deps{Pools: store, Settings: store, Treasury: tr, Clock: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := eng.Bootstrap(ctx, domain.Settings{Owner: owner, FeeRecipient: feeSink}); err != nil {
		t.Fatal(err)
	}
	_ = tr.Credit(ctx, domain.NativeAsset, user1, domain.NewAmount(5))

	id, err := eng.CreatePool(ctx, owner, domain.CreatePoolParams{
		EntryFee: domain.NewAmount(5), LockTime: clock.Now().Add(time.Minute), Options: []string{"A", "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.JoinPool(ctx, user1, id, 0, domain.NewAmount(5)); err != nil {
		t.Fatal(err)
	}
	if err := eng.CancelPool(ctx, owner, id); err != nil {
		t.Fatal(err)
	}

	tr.fail = true
	if _, err := eng.Claim(ctx, user1, id); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("claim err = %v, want ErrTransferFailed", err)
	}
	if _, err := eng.Claim(ctx, user1, id); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("retry err = %v, want ErrAlreadyClaimed", err)
	}

	owed, err := eng.OwedPayouts(ctx, owner)
	if err != nil || len(owed) != 1 {
		t.Fatalf("OwedPayouts = %+v, %v", owed, err)
	}
	if o := owed[0]; o.PoolID != id || o.To != user1 || !o.Amount.Eq(domain.NewAmount(5)) {
		t.Errorf("owed = %+v", o)
	}
	if _, err := eng.OwedPayouts(ctx, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger OwedPayouts err = %v", err)
	}

	tr.fail = false
	paid, err := eng.RepayOwed(ctx, owner)
	if err != nil || len(paid) != 1 {
		t.Fatalf("RepayOwed = %+v, %v", paid, err)
	}
	if bal, _ := tr.BalanceOf(ctx, domain.NativeAsset, user1); !bal.Eq(domain.NewAmount(5)) {
		t.Errorf("user1 balance = %s, want 5", bal)
	}
	if esc, _ := tr.EscrowOf(ctx, domain.NativeAsset); !esc.IsZero() {
		t.Errorf("escrow = %s, want 0", esc)
	}
	if left, _ := eng.OwedPayouts(ctx, owner); len(left) != 0 {
		t.Errorf("owed after repay = %+v", left)
	}
}

func TestRefundSurvivesRestart(t *testing.T) {
	store := memory.New()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	start := func() (*Engine, *treasury.Book) {
		book := treasury.New(store, store, nil)
		eng, err := New(Deps{Pools: store, Settings: store, Treasury: book, Clock: clock.Now})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Bootstrap(ctx, domain.Settings{Owner: owner, FeeRecipient: feeSink}); err != nil {
			t.Fatal(err)
		}
		return eng, book
	}

	first, book := start()
	if err := book.Credit(ctx, domain.NativeAsset, user1, domain.NewAmount(5)); err != nil {
		t.Fatal(err)
	}
	id, err := first.CreatePool(ctx, owner, domain.CreatePoolParams{
		EntryFee: domain.NewAmount(5), LockTime: clock.Now().Add(time.Minute), Options: []string{"A", "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.JoinPool(ctx, user1, id, 0, domain.NewAmount(5)); err != nil {
		t.Fatal(err)
	}

	second, book := start()
	if err := second.CancelPool(ctx, owner, id); err != nil {
		t.Fatal(err)
	}
	refund, err := second.Claim(ctx, user1, id)
	if err != nil {
		t.Fatalf("claim after restart: %v", err)
	}
	if !refund.Eq(domain.NewAmount(5)) {
		t.Errorf("refund = %s, want 5", refund)
	}
	if bal, _ := book.BalanceOf(ctx, domain.NativeAsset, user1); !bal.Eq(domain.NewAmount(5)) {
		t.Errorf("user1 balance = %s, want 5", bal)
	}
}

func TestCorruptPoolSurfacesInvariant(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fund(t, domain.NativeAsset, 1, user1)
	id := h.createPool(t, 1)
	h.join(t, id, user1, 0, 1)

	p, err := h.store.GetPool(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	p.TotalPot = domain.NewAmount(7)
	if err := h.store.UpdatePool(ctx, p, p.Version); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.GetPool(ctx, id); !errors.Is(err, domain.ErrInvariant) {
		t.Errorf("GetPool err = %v, want ErrInvariant", err)
	}
	if err := h.engine.JoinPool(ctx, user2, id, 0, domain.NewAmount(1)); !errors.Is(err, domain.ErrInvariant) {
		t.Errorf("JoinPool err = %v, want ErrInvariant", err)
	}
}

func TestSplitPot(t *testing.T) {
	tests := []struct {
		pot      string
		bps      uint16
		fee, net string
	}{
		{"0", 500, "0", "0"},
		{"2", 500, "0", "2"},
		{"10000", 500, "500", "9500"},
		{"9999", 1, "0", "9999"},
		{"3000", 250, "75", "2925"},
		{"12345", 10000, "12345", "0"},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", 10000,
			"115792089237316195423570985008687907853269984665640564039457584007913129639935", "0"},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", 1,
			"11579208923731619542357098500868790785326998466564056403945758400791312963", "115780510028392463804028627910187039062484657667173999983053638249512338326972"},
	}
	for _, tt := range tests {
		pot := domain.MustParseAmount(tt.pot)
		fee, net := SplitPot(pot, tt.bps)
		if fee.String() != tt.fee || net.String() != tt.net {
			t.Errorf("SplitPot(%s, %d) = %s/%s, want %s/%s", tt.pot, tt.bps, fee, net, tt.fee, tt.net)
		}
		if sum, _ := fee.Add(net); !sum.Eq(pot) {
			t.Errorf("SplitPot(%s, %d): fee+net = %s", tt.pot, tt.bps, sum)
		}
	}
}

func TestWinnerShare(t *testing.T) {
	for _, k := range []uint64{1, 2, 3, 7, 11} {
		net := domain.NewAmount(1000)
		share, dust := WinnerShare(net, k)
		total, _ := share.MulUint64(k)
		total, _ = total.Add(dust)
		if !total.Eq(net) {
			t.Errorf("k=%d: share*k+dust = %s, want %s", k, total, net)
		}
		if dust.Cmp(domain.NewAmount(k)) >= 0 {
			t.Errorf("k=%d: dust %s not below k", k, dust)
		}
	}
	if share, dust := WinnerShare(domain.NewAmount(5), 0); !share.IsZero() || !dust.Eq(domain.NewAmount(5)) {
		t.Errorf("no winners: share/dust = %s/%s", share, dust)
	}
}
