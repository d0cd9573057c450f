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

// SettingsStore implements domain.SettingsStore over the single-row
// settings table.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// GetSettings reads the settings row, or returns domain.ErrNotFound before
// the first save.
func (s *SettingsStore) GetSettings(ctx context.Context) (domain.Settings, error) {
	var out domain.Settings
	var owner, recipient string
	var bps int
	err := s.pool.QueryRow(ctx,
		`SELECT owner, fee_recipient, default_fee_bps, paused, updated_at FROM settings WHERE id = 1`,
	).Scan(&owner, &recipient, &bps, &out.Paused, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settings{}, fmt.Errorf("postgres: settings: %w", domain.ErrNotFound)
		}
		return domain.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}
	out.Owner = common.HexToAddress(owner)
	out.FeeRecipient = common.HexToAddress(recipient)
	out.DefaultFeeBps = uint16(bps)
	return out, nil
}

// SaveSettings upserts the settings row.
func (s *SettingsStore) SaveSettings(ctx context.Context, st domain.Settings) error {
	const query = `
		INSERT INTO settings (id, owner, fee_recipient, default_fee_bps, paused, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			fee_recipient = EXCLUDED.fee_recipient,
			default_fee_bps = EXCLUDED.default_fee_bps,
			paused = EXCLUDED.paused,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query,
		st.Owner.Hex(), st.FeeRecipient.Hex(), int(st.DefaultFeeBps), st.Paused, st.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: save settings: %w", err)
	}
	return nil
}
