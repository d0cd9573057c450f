package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// SplitPot divides pot into the platform fee and the net payable pot. The
// fee is floor(pot*bps/10000); the rounding remainder stays in net.
func SplitPot(pot domain.Amount, bps uint16) (fee, net domain.Amount) {
	if bps > domain.MaxFeeBps {
		bps = domain.MaxFeeBps
	}
	// pot = q*10000 + r, so floor(pot*bps/10000) = q*bps + floor(r*bps/10000)
	// without forming the full product.
	q := pot.DivUint64(domain.MaxFeeBps)
	r := pot.ModUint64(domain.MaxFeeBps)
	hi, _ := q.MulUint64(uint64(bps))
	lo, _ := r.MulUint64(uint64(bps))
	fee, _ = hi.Add(lo.DivUint64(domain.MaxFeeBps))
	net, _ = pot.Sub(fee)
	return fee, net
}

// WinnerShare returns each winner's payout and the undistributable
// remainder of net. With no winners the whole net pot is remainder.
func WinnerShare(net domain.Amount, winners uint64) (share, dust domain.Amount) {
	if winners == 0 {
		return domain.Amount{}, net
	}
	return net.DivUint64(winners), net.ModUint64(winners)
}

// payoutFor computes what entry is owed from settled pool p.
func payoutFor(p domain.Pool, entry domain.Entry) domain.Amount {
	switch {
	case p.Canceled:
		return entry.Amount
	case p.Resolved && entry.Pick == p.WinningOption:
		share, _ := WinnerShare(p.NetPot, p.WinnersCount)
		return share
	default:
		return domain.Amount{}
	}
}

// ResolvePool settles a locked pool on winningOption, fixes the fee split
// and winner count, and pays the platform fee to the fee recipient.
func (e *Engine) ResolvePool(ctx context.Context, caller common.Address, id uint64, winningOption uint32) error {
	settings, err := e.requireAdmin(ctx, caller)
	if err != nil {
		return err
	}

	return e.withPoolLock(ctx, id, func() error {
		p, err := e.loadPool(ctx, id)
		if err != nil {
			return err
		}
		if p.Settled() {
			return fmt.Errorf("engine: resolve pool %d: %w", id, domain.ErrAlreadyResolved)
		}
		now := e.now().UTC()
		if !p.LockedAt(now) {
			return fmt.Errorf("engine: resolve pool %d: %w", id, domain.ErrNotLocked)
		}
		if int(winningOption) >= len(p.Options) {
			return fmt.Errorf("engine: resolve pool %d: option %d: %w", id, winningOption, domain.ErrInvalidOption)
		}

		next := p.Clone()
		next.Resolved = true
		next.WinningOption = winningOption
		next.PlatformFee, next.NetPot = SplitPot(p.TotalPot, p.PlatformFeeBps)
		next.WinnersCount = p.Totals[winningOption].Entries
		if next.WinnersCount > 0 {
			_, next.Dust = WinnerShare(next.NetPot, next.WinnersCount)
		}
		next.SettledAt = &now
		next.Version = p.Version + 1
		if err := checkPool(next); err != nil {
			return err
		}
		if err := e.pools.UpdatePool(ctx, next, p.Version); err != nil {
			return fmt.Errorf("engine: resolve pool %d: %w", id, err)
		}

		e.logger.InfoContext(ctx, "engine: pool resolved",
			slog.Uint64("pool_id", id),
			slog.Uint64("winning_option", uint64(winningOption)),
			slog.Uint64("winners", next.WinnersCount),
			slog.String("net_pot", next.NetPot.String()),
			slog.String("platform_fee", next.PlatformFee.String()),
		)
		e.publish(ctx, domain.Event{Type: domain.EventResolved, PoolID: id, Option: winningOption, Amount: next.NetPot, At: now})

		if next.PlatformFee.IsZero() {
			return nil
		}
		if err := e.pay(ctx, p.Asset, settings.FeeRecipient, next.PlatformFee, id); err != nil {
			return fmt.Errorf("engine: resolve pool %d: platform fee: %w", id, err)
		}
		e.publish(ctx, domain.Event{
			Type:      domain.EventFeeCollected,
			PoolID:    id,
			Amount:    next.PlatformFee,
			Recipient: settings.FeeRecipient,
			At:        now,
		})
		return nil
	})
}

// CancelPool voids a pool that is not yet settled. Every participant can
// then claim back their stake.
func (e *Engine) CancelPool(ctx context.Context, caller common.Address, id uint64) error {
	if _, err := e.requireAdmin(ctx, caller); err != nil {
		return err
	}

	return e.withPoolLock(ctx, id, func() error {
		p, err := e.loadPool(ctx, id)
		if err != nil {
			return err
		}
		if p.Settled() {
			return fmt.Errorf("engine: cancel pool %d: %w", id, domain.ErrAlreadyResolved)
		}

		now := e.now().UTC()
		next := p.Clone()
		next.Canceled = true
		next.SettledAt = &now
		next.Version = p.Version + 1
		if err := e.pools.UpdatePool(ctx, next, p.Version); err != nil {
			return fmt.Errorf("engine: cancel pool %d: %w", id, err)
		}

		e.logger.InfoContext(ctx, "engine: pool canceled",
			slog.Uint64("pool_id", id),
			slog.Uint64("entries", p.TotalEntries),
		)
		e.publish(ctx, domain.Event{Type: domain.EventCanceled, PoolID: id, Amount: p.TotalPot, At: now})
		return nil
	})
}

// Claim pays user what pool id owes them: a refund if canceled, an equal
// share of the net pot if they picked the winner, nothing otherwise. The
// entry is marked claimed before any funds move, and returns the payout.
func (e *Engine) Claim(ctx context.Context, user common.Address, id uint64) (domain.Amount, error) {
	var payout domain.Amount
	err := e.withPoolLock(ctx, id, func() error {
		p, err := e.loadPool(ctx, id)
		if err != nil {
			return err
		}
		entry, err := e.pools.GetEntry(ctx, id, user)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("engine: claim pool %d: %w", id, domain.ErrNotJoined)
		}
		if err != nil {
			return fmt.Errorf("engine: claim pool %d: get entry: %w", id, err)
		}
		if err := checkEntry(p, entry); err != nil {
			return err
		}
		if entry.Claimed {
			return fmt.Errorf("engine: claim pool %d: %w", id, domain.ErrAlreadyClaimed)
		}
		if !p.Settled() {
			return fmt.Errorf("engine: claim pool %d: %w", id, domain.ErrNotSettled)
		}

		payout = payoutFor(p, entry)
		now := e.now().UTC()

		next := p.Clone()
		var overflow bool
		if next.PaidOut, overflow = next.PaidOut.Add(payout); overflow {
			return invariantf("pool %d paid out overflow", id)
		}
		next.ClaimedCount++
		next.Version = p.Version + 1
		if err := checkPool(next); err != nil {
			return err
		}
		entry.Claimed = true
		entry.Payout = payout
		entry.ClaimedAt = &now

		if err := e.pools.RecordClaim(ctx, next, p.Version, entry); err != nil {
			return fmt.Errorf("engine: claim pool %d: record: %w", id, err)
		}
		e.publish(ctx, domain.Event{Type: domain.EventClaimed, PoolID: id, User: user, Option: entry.Pick, Amount: payout, At: now})

		if payout.IsZero() {
			return nil
		}
		if err := e.pay(ctx, p.Asset, user, payout, id); err != nil {
			return fmt.Errorf("engine: claim pool %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return domain.Amount{}, err
	}
	return payout, nil
}

// SweepNoWinners sends the net pot of a resolved pool that nobody picked
// correctly to recipient. It succeeds at most once per pool.
func (e *Engine) SweepNoWinners(ctx context.Context, caller common.Address, id uint64, recipient common.Address) (domain.Amount, error) {
	return e.sweep(ctx, caller, id, recipient, func(p domain.Pool) (domain.Amount, bool) {
		if p.WinnersCount > 0 || p.Swept || p.NetPot.IsZero() {
			return domain.Amount{}, false
		}
		return p.NetPot, true
	}, func(p *domain.Pool) { p.Swept = true })
}

// SweepDust sends the integer-division remainder of a resolved pool's net
// pot to recipient. It succeeds at most once per pool.
func (e *Engine) SweepDust(ctx context.Context, caller common.Address, id uint64, recipient common.Address) (domain.Amount, error) {
	return e.sweep(ctx, caller, id, recipient, func(p domain.Pool) (domain.Amount, bool) {
		if p.WinnersCount == 0 || p.DustSwept || p.Dust.IsZero() {
			return domain.Amount{}, false
		}
		return p.Dust, true
	}, func(p *domain.Pool) { p.DustSwept = true })
}

func (e *Engine) sweep(
	ctx context.Context,
	caller common.Address,
	id uint64,
	recipient common.Address,
	sweepable func(domain.Pool) (domain.Amount, bool),
	mark func(*domain.Pool),
) (domain.Amount, error) {
	if _, err := e.requireAdmin(ctx, caller); err != nil {
		return domain.Amount{}, err
	}
	if recipient == (common.Address{}) {
		return domain.Amount{}, fmt.Errorf("engine: sweep pool %d: %w", id, domain.ErrInvalidRecipient)
	}

	var amount domain.Amount
	err := e.withPoolLock(ctx, id, func() error {
		p, err := e.loadPool(ctx, id)
		if err != nil {
			return err
		}
		if p.Canceled {
			return fmt.Errorf("engine: sweep pool %d: canceled: %w", id, domain.ErrNothingToSweep)
		}
		if !p.Resolved {
			return fmt.Errorf("engine: sweep pool %d: %w", id, domain.ErrNotSettled)
		}
		var ok bool
		if amount, ok = sweepable(p); !ok {
			return fmt.Errorf("engine: sweep pool %d: %w", id, domain.ErrNothingToSweep)
		}

		now := e.now().UTC()
		next := p.Clone()
		mark(&next)
		var overflow bool
		if next.PaidOut, overflow = next.PaidOut.Add(amount); overflow {
			return invariantf("pool %d paid out overflow", id)
		}
		next.Version = p.Version + 1
		if err := checkPool(next); err != nil {
			return err
		}
		if err := e.pools.UpdatePool(ctx, next, p.Version); err != nil {
			return fmt.Errorf("engine: sweep pool %d: %w", id, err)
		}

		e.logger.InfoContext(ctx, "engine: pool swept",
			slog.Uint64("pool_id", id),
			slog.String("recipient", recipient.Hex()),
			slog.String("amount", amount.String()),
		)
		e.publish(ctx, domain.Event{Type: domain.EventSwept, PoolID: id, Amount: amount, Recipient: recipient, At: now})

		if err := e.pay(ctx, p.Asset, recipient, amount, id); err != nil {
			return fmt.Errorf("engine: sweep pool %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return domain.Amount{}, err
	}
	return amount, nil
}

// pay releases committed funds from escrow. A failed push cannot be undone
// by rolling back state, so the amount is recorded as owed and stays in
// escrow until RepayOwed releases it.
func (e *Engine) pay(ctx context.Context, asset, to common.Address, amount domain.Amount, poolID uint64) error {
	pushErr := e.treasury.Push(ctx, asset, to, amount)
	if pushErr == nil {
		return nil
	}
	owed, err := e.treasury.Owe(ctx, domain.OwedPayout{
		PoolID:    poolID,
		Asset:     asset,
		To:        to,
		Amount:    amount,
		Reason:    pushErr.Error(),
		CreatedAt: e.now().UTC(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "engine: payout failed after commit and could not be recorded as owed",
			slog.Uint64("pool_id", poolID),
			slog.String("to", to.Hex()),
			slog.String("asset", asset.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", pushErr.Error()),
			slog.String("owe_error", err.Error()),
		)
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, pushErr)
	}
	e.logger.ErrorContext(ctx, "engine: payout failed after commit",
		slog.Uint64("pool_id", poolID),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
		slog.String("owed_id", owed.ID),
		slog.String("error", pushErr.Error()),
	)
	return fmt.Errorf("%w: owed as %s: %w", domain.ErrTransferFailed, owed.ID, pushErr)
}

// OwedPayouts lists committed payouts that are still waiting in escrow.
func (e *Engine) OwedPayouts(ctx context.Context, caller common.Address) ([]domain.OwedPayout, error) {
	if _, err := e.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}
	out, err := e.treasury.Owed(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: owed payouts: %w", err)
	}
	return out, nil
}

// RepayOwed retries every owed payout and returns those it released. It
// stops at the first failure; the rest stay owed.
func (e *Engine) RepayOwed(ctx context.Context, caller common.Address) ([]domain.OwedPayout, error) {
	if _, err := e.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}
	owed, err := e.treasury.Owed(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: repay owed: %w", err)
	}
	var paid []domain.OwedPayout
	for _, o := range owed {
		done, err := e.treasury.Repay(ctx, o.ID)
		if err != nil {
			return paid, fmt.Errorf("engine: repay owed %s: %w: %w", o.ID, domain.ErrTransferFailed, err)
		}
		e.logger.InfoContext(ctx, "engine: owed payout released",
			slog.String("id", done.ID),
			slog.Uint64("pool_id", done.PoolID),
			slog.String("to", done.To.Hex()),
			slog.String("amount", done.Amount.String()),
		)
		paid = append(paid, done)
	}
	return paid, nil
}
