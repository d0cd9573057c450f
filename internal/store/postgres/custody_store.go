package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// maxUint256 bounds NUMERIC(78,0) arithmetic to what domain.Amount holds.
const maxUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

// CustodyStore implements domain.CustodyStore using PostgreSQL. Every
// movement runs in one transaction that locks the rows it touches, so
// replicas sharing the database agree on balances and escrow.
type CustodyStore struct {
	pool *pgxpool.Pool
}

// NewCustodyStore creates a new CustodyStore backed by the given connection pool.
func NewCustodyStore(pool *pgxpool.Pool) *CustodyStore {
	return &CustodyStore{pool: pool}
}

// Credit adds amount to an account balance, creating the row on first use.
// A sum past 2^256-1 rolls back.
func (s *CustodyStore) Credit(ctx context.Context, asset, account common.Address, amount domain.Amount) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return addBalance(ctx, tx, asset, account, amount)
	})
}

// SetAllowance replaces an account's allowance.
func (s *CustodyStore) SetAllowance(ctx context.Context, asset, account common.Address, amount domain.Amount) error {
	const query = `
		INSERT INTO treasury_balances (asset, account, allowance)
		VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (asset, account) DO UPDATE SET allowance = EXCLUDED.allowance`
	if _, err := s.pool.Exec(ctx, query, asset.Hex(), account.Hex(), amount.String()); err != nil {
		return fmt.Errorf("postgres: set allowance %s: %w", account.Hex(), err)
	}
	return nil
}

// Balance returns an account's balance, zero when no row exists.
func (s *CustodyStore) Balance(ctx context.Context, asset, account common.Address) (domain.Amount, error) {
	return s.scalar(ctx, `SELECT balance::text FROM treasury_balances WHERE asset = $1 AND account = $2`,
		asset.Hex(), account.Hex())
}

// Allowance returns an account's unspent allowance.
func (s *CustodyStore) Allowance(ctx context.Context, asset, account common.Address) (domain.Amount, error) {
	return s.scalar(ctx, `SELECT allowance::text FROM treasury_balances WHERE asset = $1 AND account = $2`,
		asset.Hex(), account.Hex())
}

// Escrow returns the amount of asset held for pools.
func (s *CustodyStore) Escrow(ctx context.Context, asset common.Address) (domain.Amount, error) {
	return s.scalar(ctx, `SELECT amount::text FROM treasury_escrow WHERE asset = $1`, asset.Hex())
}

func (s *CustodyStore) scalar(ctx context.Context, query string, args ...any) (domain.Amount, error) {
	var out domain.Amount
	err := s.pool.QueryRow(ctx, query, args...).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Amount{}, nil
	}
	if err != nil {
		return domain.Amount{}, fmt.Errorf("postgres: custody read: %w", err)
	}
	return out, nil
}

// MoveToEscrow debits an account (and its allowance when spendAllowance is
// set) and credits escrow in one transaction.
func (s *CustodyStore) MoveToEscrow(ctx context.Context, asset, from common.Address, amount domain.Amount, spendAllowance bool) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var balance, allowance domain.Amount
		err := tx.QueryRow(ctx,
			`SELECT balance::text, allowance::text FROM treasury_balances
			 WHERE asset = $1 AND account = $2 FOR UPDATE`,
			asset.Hex(), from.Hex(),
		).Scan(&balance, &allowance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: lock balance %s: %w", from.Hex(), err)
		}
		if balance.Cmp(amount) < 0 {
			return fmt.Errorf("postgres: balance %s < %s: %w", balance, amount, domain.ErrInsufficientFunds)
		}
		if spendAllowance && allowance.Cmp(amount) < 0 {
			return fmt.Errorf("postgres: allowance below %s: %w", amount, domain.ErrInsufficientFunds)
		}

		spent := "0"
		if spendAllowance {
			spent = amount.String()
		}
		if _, err := tx.Exec(ctx,
			`UPDATE treasury_balances
			 SET balance = balance - $3::text::numeric, allowance = allowance - $4::text::numeric
			 WHERE asset = $1 AND account = $2`,
			asset.Hex(), from.Hex(), amount.String(), spent,
		); err != nil {
			return fmt.Errorf("postgres: debit %s: %w", from.Hex(), err)
		}
		return addEscrow(ctx, tx, asset, amount)
	})
}

// MoveFromEscrow debits escrow and credits an account in one transaction.
func (s *CustodyStore) MoveFromEscrow(ctx context.Context, asset, to common.Address, amount domain.Amount) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return release(ctx, tx, asset, to, amount)
	})
}

// AddOwed stores a payout that could not be pushed.
func (s *CustodyStore) AddOwed(ctx context.Context, o domain.OwedPayout) error {
	const query = `
		INSERT INTO owed_payouts (id, pool_id, asset, recipient, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7)`
	if _, err := s.pool.Exec(ctx, query,
		o.ID, o.PoolID, o.Asset.Hex(), o.To.Hex(), o.Amount.String(), o.Reason, o.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: add owed payout %s: %w", o.ID, err)
	}
	return nil
}

const owedSelectCols = `id::text, pool_id, asset, recipient, amount::text, reason, created_at`

// ListOwed returns every owed payout, oldest first.
func (s *CustodyStore) ListOwed(ctx context.Context) ([]domain.OwedPayout, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+owedSelectCols+` FROM owed_payouts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list owed payouts: %w", err)
	}
	defer rows.Close()

	var out []domain.OwedPayout
	for rows.Next() {
		o, err := scanOwed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list owed payouts rows: %w", err)
	}
	return out, nil
}

// SettleOwed deletes owed payout id and releases its amount from escrow to
// the recipient in the same transaction.
func (s *CustodyStore) SettleOwed(ctx context.Context, id string) (domain.OwedPayout, error) {
	var out domain.OwedPayout
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOwed(tx.QueryRow(ctx,
			`DELETE FROM owed_payouts WHERE id = $1 RETURNING `+owedSelectCols, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: owed payout %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := release(ctx, tx, o.Asset, o.To, o.Amount); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func scanOwed(row pgx.Row) (domain.OwedPayout, error) {
	var o domain.OwedPayout
	var asset, to string
	if err := row.Scan(&o.ID, &o.PoolID, &asset, &to, &o.Amount, &o.Reason, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OwedPayout{}, err
		}
		return domain.OwedPayout{}, fmt.Errorf("postgres: scan owed payout: %w", err)
	}
	o.Asset = common.HexToAddress(asset)
	o.To = common.HexToAddress(to)
	return o, nil
}

func (s *CustodyStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func addEscrow(ctx context.Context, tx pgx.Tx, asset common.Address, amount domain.Amount) error {
	var ok bool
	err := tx.QueryRow(ctx, `
		INSERT INTO treasury_escrow (asset, amount) VALUES ($1, $2::text::numeric)
		ON CONFLICT (asset) DO UPDATE SET amount = treasury_escrow.amount + EXCLUDED.amount
		RETURNING amount <= $3::numeric`,
		asset.Hex(), amount.String(), maxUint256,
	).Scan(&ok)
	if err != nil {
		return fmt.Errorf("postgres: credit escrow %s: %w", asset.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("postgres: escrow %s overflow", asset.Hex())
	}
	return nil
}

// release moves amount from escrow to an account within tx.
func release(ctx context.Context, tx pgx.Tx, asset, to common.Address, amount domain.Amount) error {
	var held domain.Amount
	err := tx.QueryRow(ctx,
		`SELECT amount::text FROM treasury_escrow WHERE asset = $1 FOR UPDATE`, asset.Hex(),
	).Scan(&held)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: lock escrow %s: %w", asset.Hex(), err)
	}
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("postgres: escrow %s below %s: %w", held, amount, domain.ErrInsufficientFunds)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE treasury_escrow SET amount = amount - $2::text::numeric WHERE asset = $1`,
		asset.Hex(), amount.String(),
	); err != nil {
		return fmt.Errorf("postgres: debit escrow %s: %w", asset.Hex(), err)
	}
	return addBalance(ctx, tx, asset, to, amount)
}

func addBalance(ctx context.Context, tx pgx.Tx, asset, account common.Address, amount domain.Amount) error {
	var ok bool
	if err := tx.QueryRow(ctx, `
		INSERT INTO treasury_balances (asset, account, balance) VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (asset, account) DO UPDATE SET balance = treasury_balances.balance + EXCLUDED.balance
		RETURNING balance <= $4::numeric`,
		asset.Hex(), account.Hex(), amount.String(), maxUint256,
	).Scan(&ok); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("postgres: balance %s overflow", account.Hex())
	}
	return nil
}

var _ domain.CustodyStore = (*CustodyStore)(nil)
