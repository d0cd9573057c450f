// Package treasury keeps custody balances for participants and the escrow
// held on behalf of open and unsettled pools.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// Book implements domain.Treasury over a CustodyStore. Balances, escrow
// and owed payouts live in the store, so any Book built on the same store
// sees the same funds. Native-asset pulls draw on the account balance
// alone; token pulls also consume the allowance the account granted to
// the escrow.
type Book struct {
	custody domain.CustodyStore
	log     domain.TransferLog
	logger  *slog.Logger
}

// New creates a Book over custody. log may be nil.
func New(custody domain.CustodyStore, log domain.TransferLog, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		custody: custody,
		log:     log,
		logger:  logger.With(slog.String("component", "treasury")),
	}
}

// Credit adds amount of asset to account's balance.
func (b *Book) Credit(ctx context.Context, asset, account common.Address, amount domain.Amount) error {
	if err := b.custody.Credit(ctx, asset, account, amount); err != nil {
		return fmt.Errorf("treasury: credit %s: %w", account.Hex(), err)
	}
	return nil
}

// Approve sets the allowance account grants the escrow for a token asset.
func (b *Book) Approve(ctx context.Context, asset, account common.Address, amount domain.Amount) error {
	if asset == domain.NativeAsset {
		return fmt.Errorf("treasury: approve: native asset needs no allowance")
	}
	if err := b.custody.SetAllowance(ctx, asset, account, amount); err != nil {
		return fmt.Errorf("treasury: approve %s: %w", account.Hex(), err)
	}
	return nil
}

// BalanceOf returns account's spendable balance of asset.
func (b *Book) BalanceOf(ctx context.Context, asset, account common.Address) (domain.Amount, error) {
	return b.custody.Balance(ctx, asset, account)
}

// AllowanceOf returns the allowance account has left for the escrow.
func (b *Book) AllowanceOf(ctx context.Context, asset, account common.Address) (domain.Amount, error) {
	return b.custody.Allowance(ctx, asset, account)
}

// EscrowOf returns the amount of asset currently held in escrow.
func (b *Book) EscrowOf(ctx context.Context, asset common.Address) (domain.Amount, error) {
	return b.custody.Escrow(ctx, asset)
}

// Pull moves amount from the account into escrow.
func (b *Book) Pull(ctx context.Context, asset, from common.Address, amount domain.Amount) error {
	if err := b.custody.MoveToEscrow(ctx, asset, from, amount, asset != domain.NativeAsset); err != nil {
		return fmt.Errorf("treasury: pull %s from %s: %w", amount, from.Hex(), err)
	}
	b.record(ctx, domain.TransferPull, asset, from, amount)
	return nil
}

// Push pays amount out of escrow to the account.
func (b *Book) Push(ctx context.Context, asset, to common.Address, amount domain.Amount) error {
	if err := b.custody.MoveFromEscrow(ctx, asset, to, amount); err != nil {
		return fmt.Errorf("treasury: push %s to %s: %w", amount, to.Hex(), err)
	}
	b.record(ctx, domain.TransferPush, asset, to, amount)
	return nil
}

// Owe stores a payout that could not be pushed.
func (b *Book) Owe(ctx context.Context, o domain.OwedPayout) (domain.OwedPayout, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := b.custody.AddOwed(ctx, o); err != nil {
		return domain.OwedPayout{}, fmt.Errorf("treasury: owe %s to %s: %w", o.Amount, o.To.Hex(), err)
	}
	b.logger.WarnContext(ctx, "treasury: payout owed",
		slog.String("id", o.ID),
		slog.Uint64("pool_id", o.PoolID),
		slog.String("to", o.To.Hex()),
		slog.String("amount", o.Amount.String()),
	)
	return o, nil
}

// Owed lists unpaid payouts, oldest first.
func (b *Book) Owed(ctx context.Context) ([]domain.OwedPayout, error) {
	out, err := b.custody.ListOwed(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury: list owed: %w", err)
	}
	return out, nil
}

// Repay releases owed payout id to its recipient.
func (b *Book) Repay(ctx context.Context, id string) (domain.OwedPayout, error) {
	o, err := b.custody.SettleOwed(ctx, id)
	if err != nil {
		return domain.OwedPayout{}, fmt.Errorf("treasury: repay %s: %w", id, err)
	}
	b.record(ctx, domain.TransferPush, o.Asset, o.To, o.Amount)
	return o, nil
}

// record appends to the transfer log. The movement has already happened, so
// a log failure is reported but not returned.
func (b *Book) record(ctx context.Context, kind domain.TransferKind, asset, account common.Address, amount domain.Amount) {
	if b.log == nil {
		return
	}
	t := domain.Transfer{
		ID:      uuid.NewString(),
		Kind:    kind,
		Asset:   asset,
		Account: account,
		Amount:  amount,
		At:      time.Now().UTC(),
	}
	if err := b.log.Record(ctx, t); err != nil {
		b.logger.WarnContext(ctx, "treasury: record transfer failed",
			slog.String("kind", string(kind)),
			slog.String("account", account.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}
