// Package service puts the settlement engine behind the API: reads go
// through the pool cache, writes refresh it, and treasury bookkeeping is
// exposed for custody deployments.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/engine"
)

// PoolView is a pool with its lifecycle state at read time.
type PoolView struct {
	domain.Pool
	State domain.PoolState `json:"state"`
}

// Status summarises the engine for the status endpoint.
type Status struct {
	Settings   domain.Settings `json:"settings"`
	NextPoolID uint64          `json:"next_pool_id"`
}

// SettingsUpdate carries the admin settings to change. Nil fields are left
// alone; the rest are applied in field order.
type SettingsUpdate struct {
	FeeRecipient   *common.Address `json:"fee_recipient,omitempty"`
	PlatformFeeBps *uint16         `json:"platform_fee_bps,omitempty"`
	Owner          *common.Address `json:"owner,omitempty"`
}

// PoolService implements the API operations.
type PoolService struct {
	engine *engine.Engine
	cache  domain.PoolCache
	logger *slog.Logger
}

// NewPoolService creates a PoolService. cache may be nil.
func NewPoolService(eng *engine.Engine, cache domain.PoolCache, logger *slog.Logger) *PoolService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolService{
		engine: eng,
		cache:  cache,
		logger: logger.With(slog.String("component", "pool_service")),
	}
}

func (s *PoolService) view(p domain.Pool) PoolView {
	return PoolView{Pool: p, State: s.engine.StateOf(p)}
}

// GetPool reads through the cache. Cache failures fall back to the store.
// The fill is version-gated by the cache, so a snapshot that a concurrent
// write overtook is not stored.
func (s *PoolService) GetPool(ctx context.Context, id uint64) (PoolView, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, id)
		if err == nil {
			return s.view(p), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "pool_service: cache read failed",
				slog.Uint64("pool_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	p, err := s.engine.GetPool(ctx, id)
	if err != nil {
		return PoolView{}, err
	}
	s.fill(ctx, p)
	return s.view(p), nil
}

func (s *PoolService) fill(ctx context.Context, p domain.Pool) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "pool_service: cache fill failed",
			slog.Uint64("pool_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ListPools returns pools in id order with their current state.
func (s *PoolService) ListPools(ctx context.Context, opts domain.ListOpts) ([]PoolView, error) {
	pools, err := s.engine.ListPools(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]PoolView, len(pools))
	for i, p := range pools {
		out[i] = s.view(p)
	}
	return out, nil
}

// GetOptions returns the option labels of pool id.
func (s *PoolService) GetOptions(ctx context.Context, id uint64) ([]string, error) {
	return s.engine.GetOptions(ctx, id)
}

// OptionTotals returns per-option join counters.
func (s *PoolService) OptionTotals(ctx context.Context, id uint64) ([]domain.OptionTotal, error) {
	return s.engine.OptionTotals(ctx, id)
}

// PlayerInfo returns user's position in pool id.
func (s *PoolService) PlayerInfo(ctx context.Context, id uint64, user common.Address) (domain.PlayerInfo, error) {
	return s.engine.PlayerInfo(ctx, id, user)
}

// Status returns the settings and the next pool id.
func (s *PoolService) Status(ctx context.Context) (Status, error) {
	settings, err := s.engine.Settings(ctx)
	if err != nil {
		return Status{}, err
	}
	next, err := s.engine.NextPoolID(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Settings: settings, NextPoolID: next}, nil
}

// IsAdmin reports whether addr owns the engine.
func (s *PoolService) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	return s.engine.IsAdmin(ctx, addr)
}

// CreatePool creates a pool and returns it as cached.
func (s *PoolService) CreatePool(ctx context.Context, caller common.Address, params domain.CreatePoolParams) (PoolView, error) {
	id, err := s.engine.CreatePool(ctx, caller, params)
	if err != nil {
		return PoolView{}, err
	}
	return s.GetPool(ctx, id)
}

// JoinPool stakes user on option. The pool is re-cached afterwards.
func (s *PoolService) JoinPool(ctx context.Context, user common.Address, id uint64, option uint32, stake domain.Amount) error {
	defer s.refresh(ctx, id)
	return s.engine.JoinPool(ctx, user, id, option, stake)
}

// ResolvePool settles a locked pool on winningOption.
func (s *PoolService) ResolvePool(ctx context.Context, caller common.Address, id uint64, winningOption uint32) error {
	defer s.refresh(ctx, id)
	return s.engine.ResolvePool(ctx, caller, id, winningOption)
}

// CancelPool voids an unsettled pool so every entry can be refunded.
func (s *PoolService) CancelPool(ctx context.Context, caller common.Address, id uint64) error {
	defer s.refresh(ctx, id)
	return s.engine.CancelPool(ctx, caller, id)
}

// Claim pays out user's entry in a settled pool.
func (s *PoolService) Claim(ctx context.Context, user common.Address, id uint64) (domain.Amount, error) {
	defer s.refresh(ctx, id)
	return s.engine.Claim(ctx, user, id)
}

// SweepNoWinners sends an unwon net pot to recipient.
func (s *PoolService) SweepNoWinners(ctx context.Context, caller common.Address, id uint64, recipient common.Address) (domain.Amount, error) {
	defer s.refresh(ctx, id)
	return s.engine.SweepNoWinners(ctx, caller, id, recipient)
}

// SweepDust sends a resolved pool's rounding remainder to recipient.
func (s *PoolService) SweepDust(ctx context.Context, caller common.Address, id uint64, recipient common.Address) (domain.Amount, error) {
	defer s.refresh(ctx, id)
	return s.engine.SweepDust(ctx, caller, id, recipient)
}

// Pause blocks new joins.
func (s *PoolService) Pause(ctx context.Context, caller common.Address) error {
	return s.engine.Pause(ctx, caller)
}

// Unpause lifts a pause.
func (s *PoolService) Unpause(ctx context.Context, caller common.Address) error {
	return s.engine.Unpause(ctx, caller)
}

// OwedPayouts lists committed payouts still held in escrow.
func (s *PoolService) OwedPayouts(ctx context.Context, caller common.Address) ([]domain.OwedPayout, error) {
	return s.engine.OwedPayouts(ctx, caller)
}

// RepayOwed retries every owed payout.
func (s *PoolService) RepayOwed(ctx context.Context, caller common.Address) ([]domain.OwedPayout, error) {
	return s.engine.RepayOwed(ctx, caller)
}

// UpdateSettings applies u and returns the resulting settings. An update
// that fails part-way keeps the changes applied before the failure.
func (s *PoolService) UpdateSettings(ctx context.Context, caller common.Address, u SettingsUpdate) (domain.Settings, error) {
	if u.FeeRecipient != nil {
		if err := s.engine.SetFeeRecipient(ctx, caller, *u.FeeRecipient); err != nil {
			return domain.Settings{}, err
		}
	}
	if u.PlatformFeeBps != nil {
		if err := s.engine.SetPlatformFee(ctx, caller, *u.PlatformFeeBps); err != nil {
			return domain.Settings{}, err
		}
	}
	if u.Owner != nil {
		if err := s.engine.TransferOwnership(ctx, caller, *u.Owner); err != nil {
			return domain.Settings{}, err
		}
	}
	return s.engine.Settings(ctx)
}

// refresh re-reads the pool after a mutation attempt, whether or not it
// committed, and writes it to the cache. When the read fails the cached
// projection is dropped instead.
func (s *PoolService) refresh(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p, err := s.engine.GetPool(ctx, id)
	if err == nil {
		s.fill(ctx, p)
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "pool_service: cache invalidate failed",
			slog.Uint64("pool_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// requireAdmin is used by operations outside the engine that are still
// admin-only.
func (s *PoolService) requireAdmin(ctx context.Context, caller common.Address) error {
	ok, err := s.engine.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pool_service: %s is not the owner: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}
