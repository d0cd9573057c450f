package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// JoinPool records user's stake on option in pool id. stake must equal the
// pool's entry fee exactly; it is pulled from user into escrow before the
// entry is committed and handed back if the commit fails.
func (e *Engine) JoinPool(ctx context.Context, user common.Address, id uint64, option uint32, stake domain.Amount) error {
	return e.withPoolLock(ctx, id, func() error {
		settings, err := e.loadSettings(ctx)
		if err != nil {
			return err
		}
		if settings.Paused {
			return fmt.Errorf("engine: join pool %d: %w", id, domain.ErrPaused)
		}
		p, err := e.loadPool(ctx, id)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if p.Settled() || p.LockedAt(now) {
			return fmt.Errorf("engine: join pool %d: %w", id, domain.ErrPoolLocked)
		}
		if int(option) >= len(p.Options) {
			return fmt.Errorf("engine: join pool %d: option %d: %w", id, option, domain.ErrInvalidOption)
		}
		if _, err := e.pools.GetEntry(ctx, id, user); err == nil {
			return fmt.Errorf("engine: join pool %d: %w", id, domain.ErrAlreadyJoined)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("engine: join pool %d: get entry: %w", id, err)
		}
		if !stake.Eq(p.EntryFee) {
			return fmt.Errorf("engine: join pool %d: stake %s, fee %s: %w", id, stake, p.EntryFee, domain.ErrWrongStakeAmount)
		}
		if p.MaxParticipants > 0 && p.TotalEntries >= p.MaxParticipants {
			return fmt.Errorf("engine: join pool %d: %w", id, domain.ErrPoolFull)
		}

		next := p.Clone()
		var overflow bool
		if next.TotalPot, overflow = next.TotalPot.Add(p.EntryFee); overflow {
			return invariantf("pool %d pot overflow", id)
		}
		next.TotalEntries++
		t := &next.Totals[option]
		t.Entries++
		if t.Staked, overflow = t.Staked.Add(p.EntryFee); overflow {
			return invariantf("pool %d option %d stake overflow", id, option)
		}
		next.Version = p.Version + 1

		entry := domain.Entry{
			PoolID:   id,
			User:     user,
			Pick:     option,
			Amount:   p.EntryFee,
			JoinedAt: now,
		}

		if err := e.treasury.Pull(ctx, p.Asset, user, p.EntryFee); err != nil {
			return fmt.Errorf("engine: join pool %d: collect stake: %w", id, err)
		}
		if err := e.pools.RecordJoin(ctx, next, p.Version, entry); err != nil {
			if rerr := e.treasury.Push(ctx, p.Asset, user, p.EntryFee); rerr != nil {
				e.logger.ErrorContext(ctx, "engine: refund after failed join commit failed",
					slog.Uint64("pool_id", id),
					slog.String("user", user.Hex()),
					slog.String("amount", p.EntryFee.String()),
					slog.String("error", rerr.Error()),
				)
			}
			return fmt.Errorf("engine: join pool %d: record: %w", id, err)
		}

		e.logger.DebugContext(ctx, "engine: joined",
			slog.Uint64("pool_id", id),
			slog.String("user", user.Hex()),
			slog.Uint64("option", uint64(option)),
		)
		e.publish(ctx, domain.Event{
			Type:   domain.EventJoined,
			PoolID: id,
			User:   user,
			Option: option,
			Amount: p.EntryFee,
			At:     now,
		})
		return nil
	})
}

// HasJoined reports whether user holds an entry in pool id.
func (e *Engine) HasJoined(ctx context.Context, id uint64, user common.Address) (bool, error) {
	info, err := e.PlayerInfo(ctx, id, user)
	if err != nil {
		return false, err
	}
	return info.HasJoined, nil
}

// PlayerInfo returns user's position in pool id. A user who never joined
// gets the zero PlayerInfo, not an error.
func (e *Engine) PlayerInfo(ctx context.Context, id uint64, user common.Address) (domain.PlayerInfo, error) {
	p, err := e.loadPool(ctx, id)
	if err != nil {
		return domain.PlayerInfo{}, err
	}
	entry, err := e.pools.GetEntry(ctx, id, user)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PlayerInfo{}, nil
	}
	if err != nil {
		return domain.PlayerInfo{}, fmt.Errorf("engine: player info %d: %w", id, err)
	}
	if err := checkEntry(p, entry); err != nil {
		return domain.PlayerInfo{}, err
	}
	return domain.PlayerInfo{
		HasJoined: true,
		Pick:      entry.Pick,
		Claimed:   entry.Claimed,
		Amount:    entry.Amount,
	}, nil
}

// OptionTotals returns the per-option join counters of pool id.
func (e *Engine) OptionTotals(ctx context.Context, id uint64) ([]domain.OptionTotal, error) {
	p, err := e.loadPool(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Totals, nil
}

// ListEntries returns every entry of pool id in join order.
func (e *Engine) ListEntries(ctx context.Context, id uint64) ([]domain.Entry, error) {
	if _, err := e.loadPool(ctx, id); err != nil {
		return nil, err
	}
	entries, err := e.pools.ListEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine: list entries %d: %w", id, err)
	}
	return entries, nil
}
