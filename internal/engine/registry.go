package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// CreatePool validates params and registers a new open pool under the next
// sequential id. Only the owner may create pools. The pool snapshots the
// engine's current default platform fee.
func (e *Engine) CreatePool(ctx context.Context, caller common.Address, params domain.CreatePoolParams) (uint64, error) {
	settings, err := e.requireAdmin(ctx, caller)
	if err != nil {
		return 0, err
	}
	if len(params.Options) < 2 || len(params.Options) > MaxOptions {
		return 0, fmt.Errorf("engine: create pool: %d options: %w", len(params.Options), domain.ErrInvalidOptions)
	}
	now := e.now().UTC()
	if !params.LockTime.After(now) {
		return 0, fmt.Errorf("engine: create pool: lock time %s: %w", params.LockTime.Format(time.RFC3339), domain.ErrInvalidLockTime)
	}
	if params.EntryFee.IsZero() {
		return 0, fmt.Errorf("engine: create pool: %w", domain.ErrInvalidEntryFee)
	}

	p := domain.Pool{
		Name:            params.Name,
		Description:     params.Description,
		Asset:           params.Asset,
		EntryFee:        params.EntryFee,
		StartTime:       params.StartTime.UTC(),
		LockTime:        params.LockTime.UTC(),
		Options:         append([]string(nil), params.Options...),
		PlatformFeeBps:  settings.DefaultFeeBps,
		MaxParticipants: params.MaxParticipants,
		Totals:          make([]domain.OptionTotal, len(params.Options)),
		CreatedBy:       caller,
		CreatedAt:       now,
		Version:         1,
	}
	id, err := e.pools.CreatePool(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("engine: create pool: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: pool created",
		slog.Uint64("pool_id", id),
		slog.String("name", p.Name),
		slog.Int("options", len(p.Options)),
		slog.String("entry_fee", p.EntryFee.String()),
	)
	e.publish(ctx, domain.Event{Type: domain.EventPoolCreated, PoolID: id, Name: p.Name, Amount: p.EntryFee})
	return id, nil
}

// GetPool returns the pool with the given id.
func (e *Engine) GetPool(ctx context.Context, id uint64) (domain.Pool, error) {
	return e.loadPool(ctx, id)
}

// GetOptions returns the option labels of a pool in index order.
func (e *Engine) GetOptions(ctx context.Context, id uint64) ([]string, error) {
	p, err := e.loadPool(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Options, nil
}

// ListPools returns pools ordered by id.
func (e *Engine) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	pools, err := e.pools.ListPools(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list pools: %w", err)
	}
	return pools, nil
}

// NextPoolID returns the id that the next created pool will receive. Pool
// ids 1..NextPoolID-1 are all assigned.
func (e *Engine) NextPoolID(ctx context.Context) (uint64, error) {
	id, err := e.pools.NextPoolID(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: next pool id: %w", err)
	}
	return id, nil
}
