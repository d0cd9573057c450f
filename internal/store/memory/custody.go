package memory

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

type holding struct {
	asset   common.Address
	account common.Address
}

// Credit adds amount to account's balance of asset.
func (s *Store) Credit(_ context.Context, asset, account common.Address, amount domain.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := holding{asset, account}
	next, overflow := s.balances[k].Add(amount)
	if overflow {
		return fmt.Errorf("memory: balance %s overflow", account.Hex())
	}
	s.balances[k] = next
	return nil
}

// SetAllowance replaces the allowance account grants the escrow.
func (s *Store) SetAllowance(_ context.Context, asset, account common.Address, amount domain.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowances[holding{asset, account}] = amount
	return nil
}

// Balance returns account's balance of asset, zero when never credited.
func (s *Store) Balance(_ context.Context, asset, account common.Address) (domain.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[holding{asset, account}], nil
}

// Allowance returns the unspent allowance account granted the escrow.
func (s *Store) Allowance(_ context.Context, asset, account common.Address) (domain.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowances[holding{asset, account}], nil
}

// Escrow returns the amount of asset held for pools.
func (s *Store) Escrow(_ context.Context, asset common.Address) (domain.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.escrow[asset], nil
}

// MoveToEscrow debits from (and its allowance when spendAllowance is set)
// into escrow. Nothing changes unless every leg succeeds.
func (s *Store) MoveToEscrow(_ context.Context, asset, from common.Address, amount domain.Amount, spendAllowance bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := holding{asset, from}
	have := s.balances[k]
	bal, short := have.Sub(amount)
	if short {
		return fmt.Errorf("memory: balance %s < %s: %w", have, amount, domain.ErrInsufficientFunds)
	}
	var allowance domain.Amount
	if spendAllowance {
		var under bool
		if allowance, under = s.allowances[k].Sub(amount); under {
			return fmt.Errorf("memory: allowance below %s: %w", amount, domain.ErrInsufficientFunds)
		}
	}
	esc, overflow := s.escrow[asset].Add(amount)
	if overflow {
		return fmt.Errorf("memory: escrow %s overflow", asset.Hex())
	}
	s.balances[k] = bal
	if spendAllowance {
		s.allowances[k] = allowance
	}
	s.escrow[asset] = esc
	return nil
}

// MoveFromEscrow credits to out of escrow.
func (s *Store) MoveFromEscrow(_ context.Context, asset, to common.Address, amount domain.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(asset, to, amount)
}

func (s *Store) releaseLocked(asset, to common.Address, amount domain.Amount) error {
	esc, short := s.escrow[asset].Sub(amount)
	if short {
		return fmt.Errorf("memory: escrow below %s: %w", amount, domain.ErrInsufficientFunds)
	}
	k := holding{asset, to}
	bal, overflow := s.balances[k].Add(amount)
	if overflow {
		return fmt.Errorf("memory: balance %s overflow", to.Hex())
	}
	s.escrow[asset] = esc
	s.balances[k] = bal
	return nil
}

// AddOwed stores o.
func (s *Store) AddOwed(_ context.Context, o domain.OwedPayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.owed {
		if cur.ID == o.ID {
			return fmt.Errorf("memory: owed payout %s exists", o.ID)
		}
	}
	s.owed = append(s.owed, o)
	return nil
}

// ListOwed returns owed payouts in the order they were added.
func (s *Store) ListOwed(_ context.Context) ([]domain.OwedPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.OwedPayout(nil), s.owed...), nil
}

// SettleOwed releases owed payout id from escrow and removes it.
func (s *Store) SettleOwed(_ context.Context, id string) (domain.OwedPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.owed {
		if o.ID != id {
			continue
		}
		if err := s.releaseLocked(o.Asset, o.To, o.Amount); err != nil {
			return domain.OwedPayout{}, err
		}
		s.owed = append(s.owed[:i], s.owed[i+1:]...)
		return o, nil
	}
	return domain.OwedPayout{}, fmt.Errorf("memory: owed payout %s: %w", id, domain.ErrNotFound)
}

var _ domain.CustodyStore = (*Store)(nil)
