package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/treasury"
)

// Holding is an account's position in one asset.
type Holding struct {
	Asset     common.Address `json:"asset"`
	Account   common.Address `json:"account"`
	Balance   domain.Amount  `json:"balance"`
	Allowance domain.Amount  `json:"allowance"`
}

// TreasuryService exposes the custody book.
type TreasuryService struct {
	book      *treasury.Book
	transfers domain.TransferLog
	pools     *PoolService
}

// NewTreasuryService creates a TreasuryService. transfers may be nil.
func NewTreasuryService(book *treasury.Book, transfers domain.TransferLog, pools *PoolService) *TreasuryService {
	return &TreasuryService{book: book, transfers: transfers, pools: pools}
}

// Holding returns account's balance and allowance in asset.
func (s *TreasuryService) Holding(ctx context.Context, asset, account common.Address) (Holding, error) {
	balance, err := s.book.BalanceOf(ctx, asset, account)
	if err != nil {
		return Holding{}, fmt.Errorf("treasury_service: balance: %w", err)
	}
	allowance, err := s.book.AllowanceOf(ctx, asset, account)
	if err != nil {
		return Holding{}, fmt.Errorf("treasury_service: allowance: %w", err)
	}
	return Holding{Asset: asset, Account: account, Balance: balance, Allowance: allowance}, nil
}

// Approve sets the caller's allowance for a token asset.
func (s *TreasuryService) Approve(ctx context.Context, caller, asset common.Address, amount domain.Amount) (Holding, error) {
	if err := s.book.Approve(ctx, asset, caller, amount); err != nil {
		return Holding{}, err
	}
	return s.Holding(ctx, asset, caller)
}

// Credit funds an account. Only the owner may credit.
func (s *TreasuryService) Credit(ctx context.Context, caller, asset, account common.Address, amount domain.Amount) (Holding, error) {
	if err := s.pools.requireAdmin(ctx, caller); err != nil {
		return Holding{}, err
	}
	if account == (common.Address{}) {
		return Holding{}, fmt.Errorf("treasury_service: credit zero address: %w", domain.ErrInvalidRecipient)
	}
	if err := s.book.Credit(ctx, asset, account, amount); err != nil {
		return Holding{}, err
	}
	return s.Holding(ctx, asset, account)
}

// Escrow returns the amount of asset held for pools.
func (s *TreasuryService) Escrow(ctx context.Context, asset common.Address) (domain.Amount, error) {
	amount, err := s.book.EscrowOf(ctx, asset)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("treasury_service: escrow: %w", err)
	}
	return amount, nil
}

// Transfers lists recorded movements for account, newest first.
func (s *TreasuryService) Transfers(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	if s.transfers == nil {
		return nil, nil
	}
	out, err := s.transfers.ListByAccount(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("treasury_service: list transfers: %w", err)
	}
	return out, nil
}
