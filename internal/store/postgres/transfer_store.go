package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// TransferStore implements domain.TransferLog using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given connection pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Record appends a treasury movement. Re-recording the same id is a no-op.
func (s *TransferStore) Record(ctx context.Context, t domain.Transfer) error {
	const query = `
		INSERT INTO transfers (id, kind, asset, account, amount, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		t.ID, string(t.Kind), t.Asset.Hex(), t.Account.Hex(), t.Amount.String(), t.At,
	); err != nil {
		return fmt.Errorf("postgres: record transfer %s: %w", t.ID, err)
	}
	return nil
}

// ListByAccount returns an account's transfers, newest first.
func (s *TransferStore) ListByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	query, args := withListOpts(
		`SELECT id::text, kind, asset, account, amount::text, created_at FROM transfers WHERE account = $1`,
		[]any{account.Hex()}, opts, "created_at", "created_at DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var kind, asset, acct string
		if err := rows.Scan(&t.ID, &kind, &asset, &acct, &t.Amount, &t.At); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Kind = domain.TransferKind(kind)
		t.Asset = common.HexToAddress(asset)
		t.Account = common.HexToAddress(acct)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transfers rows: %w", err)
	}
	return out, nil
}
