package engine

import (
	"fmt"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// MaxOptions bounds the option list of a single pool.
const MaxOptions = 256

func invariantf(format string, args ...any) error {
	return fmt.Errorf("engine: %w: %s", domain.ErrInvariant, fmt.Sprintf(format, args...))
}

// checkPool validates the bookkeeping of a stored pool.
func checkPool(p domain.Pool) error {
	if p.Resolved && p.Canceled {
		return invariantf("pool %d both resolved and canceled", p.ID)
	}
	if len(p.Options) < 2 || len(p.Options) > MaxOptions {
		return invariantf("pool %d has %d options", p.ID, len(p.Options))
	}
	if len(p.Totals) != len(p.Options) {
		return invariantf("pool %d has %d option totals for %d options", p.ID, len(p.Totals), len(p.Options))
	}

	var entries uint64
	var staked domain.Amount
	for _, t := range p.Totals {
		entries += t.Entries
		var overflow bool
		staked, overflow = staked.Add(t.Staked)
		if overflow {
			return invariantf("pool %d option totals overflow", p.ID)
		}
	}
	if entries != p.TotalEntries {
		return invariantf("pool %d option entries %d != total entries %d", p.ID, entries, p.TotalEntries)
	}
	if !staked.Eq(p.TotalPot) {
		return invariantf("pool %d option stakes %s != total pot %s", p.ID, staked, p.TotalPot)
	}

	if p.Resolved {
		if int(p.WinningOption) >= len(p.Options) {
			return invariantf("pool %d winning option %d out of range", p.ID, p.WinningOption)
		}
		sum, overflow := p.PlatformFee.Add(p.NetPot)
		if overflow || !sum.Eq(p.TotalPot) {
			return invariantf("pool %d fee %s + net %s != pot %s", p.ID, p.PlatformFee, p.NetPot, p.TotalPot)
		}
		if p.WinnersCount != p.Totals[p.WinningOption].Entries {
			return invariantf("pool %d winners %d != option counter %d",
				p.ID, p.WinnersCount, p.Totals[p.WinningOption].Entries)
		}
		if p.PaidOut.Cmp(p.NetPot) > 0 {
			return invariantf("pool %d paid out %s exceeds net pot %s", p.ID, p.PaidOut, p.NetPot)
		}
	}
	if p.ClaimedCount > p.TotalEntries {
		return invariantf("pool %d claimed %d of %d entries", p.ID, p.ClaimedCount, p.TotalEntries)
	}
	if p.PaidOut.Cmp(p.TotalPot) > 0 {
		return invariantf("pool %d paid out %s exceeds pot %s", p.ID, p.PaidOut, p.TotalPot)
	}
	return nil
}

// checkEntry validates an entry against the pool it belongs to.
func checkEntry(p domain.Pool, e domain.Entry) error {
	if e.PoolID != p.ID {
		return invariantf("entry for %s filed under pool %d, found in pool %d", e.User.Hex(), e.PoolID, p.ID)
	}
	if int(e.Pick) >= len(p.Options) {
		return invariantf("pool %d entry %s picks option %d out of range", p.ID, e.User.Hex(), e.Pick)
	}
	if !e.Amount.Eq(p.EntryFee) {
		return invariantf("pool %d entry %s stake %s != entry fee %s", p.ID, e.User.Hex(), e.Amount, p.EntryFee)
	}
	return nil
}
