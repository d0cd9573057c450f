package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL. Every write runs
// in one transaction and is guarded by a compare-and-swap on pools.version.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolSelectCols = `id, name, description, asset, entry_fee::text, start_time, lock_time,
	platform_fee_bps, max_participants, total_pot::text, total_entries,
	resolved, canceled, winning_option, winners_count,
	platform_fee::text, net_pot::text, dust::text, paid_out::text, claimed_count,
	swept, dust_swept, created_by, created_at, settled_at, version`

const entrySelectCols = `pool_id, user_addr, pick, amount::text, claimed, payout::text, joined_at, claimed_at`

// CreatePool allocates the next id from pool_seq, so ids stay gapless even
// when a creation transaction rolls back.
func (s *PoolStore) CreatePool(ctx context.Context, p domain.Pool) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	if err := tx.QueryRow(ctx,
		`UPDATE pool_seq SET next_id = next_id + 1 WHERE id = 1 RETURNING next_id - 1`,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: allocate pool id: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pools (
			id, name, description, asset, entry_fee, start_time, lock_time,
			platform_fee_bps, max_participants, created_by, created_at, version
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11, $12)`,
		id, p.Name, p.Description, p.Asset.Hex(), p.EntryFee.String(), nullTime(p.StartTime), p.LockTime,
		int(p.PlatformFeeBps), p.MaxParticipants, p.CreatedBy.Hex(), p.CreatedAt, p.Version,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert pool %d: %w", id, err)
	}

	for i, label := range p.Options {
		if _, err := tx.Exec(ctx,
			`INSERT INTO pool_options (pool_id, idx, label) VALUES ($1, $2, $3)`,
			id, i, label,
		); err != nil {
			return 0, fmt.Errorf("postgres: insert pool %d option %d: %w", id, i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit pool %d: %w", id, err)
	}
	return id, nil
}

// GetPool returns a pool with its options and option totals.
func (s *PoolStore) GetPool(ctx context.Context, id uint64) (domain.Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolSelectCols+` FROM pools WHERE id = $1`, id)
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, fmt.Errorf("postgres: pool %d: %w", id, domain.ErrNotFound)
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %d: %w", id, err)
	}
	if err := s.loadOptions(ctx, []*domain.Pool{&p}); err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// ListPools returns pools ordered by id, optionally filtered by creation time.
func (s *PoolStore) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	query, args := withListOpts(`SELECT `+poolSelectCols+` FROM pools WHERE 1=1`, nil, opts, "created_at", "id")
	return s.queryPools(ctx, query, args...)
}

// ListSettled returns resolved or canceled pools settled before the cutoff.
func (s *PoolStore) ListSettled(ctx context.Context, before time.Time) ([]domain.Pool, error) {
	return s.queryPools(ctx,
		`SELECT `+poolSelectCols+` FROM pools WHERE settled_at IS NOT NULL AND settled_at < $1 ORDER BY id`,
		before,
	)
}

// NextPoolID returns the id the next CreatePool will allocate.
func (s *PoolStore) NextPoolID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.pool.QueryRow(ctx, `SELECT next_id FROM pool_seq WHERE id = 1`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next pool id: %w", err)
	}
	return id, nil
}

// GetEntry returns one user's entry in a pool.
func (s *PoolStore) GetEntry(ctx context.Context, poolID uint64, user common.Address) (domain.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entrySelectCols+` FROM entries WHERE pool_id = $1 AND user_addr = $2`,
		poolID, user.Hex(),
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entry{}, fmt.Errorf("postgres: entry %d/%s: %w", poolID, user.Hex(), domain.ErrNotFound)
		}
		return domain.Entry{}, fmt.Errorf("postgres: get entry %d/%s: %w", poolID, user.Hex(), err)
	}
	return e, nil
}

// ListEntries returns the entries of a pool in join order.
func (s *PoolStore) ListEntries(ctx context.Context, poolID uint64) ([]domain.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entrySelectCols+` FROM entries WHERE pool_id = $1 ORDER BY seq`,
		poolID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries %d: %w", poolID, err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list entries rows: %w", err)
	}
	return out, nil
}

// RecordJoin inserts the entry and rewrites the pool counters in one
// transaction, guarded by the pool version.
func (s *PoolStore) RecordJoin(ctx context.Context, p domain.Pool, prevVersion uint64, e domain.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := writePool(ctx, tx, p, prevVersion); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO entries (pool_id, user_addr, pick, amount, joined_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5)
		ON CONFLICT (pool_id, user_addr) DO NOTHING`,
		p.ID, e.User.Hex(), int64(e.Pick), e.Amount.String(), e.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert entry %d/%s: %w", p.ID, e.User.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: entry %d/%s: %w", p.ID, e.User.Hex(), domain.ErrAlreadyJoined)
	}

	if int(e.Pick) >= len(p.Totals) {
		return fmt.Errorf("postgres: entry %d/%s pick %d: %w", p.ID, e.User.Hex(), e.Pick, domain.ErrInvalidOption)
	}
	t := p.Totals[e.Pick]
	if _, err := tx.Exec(ctx,
		`UPDATE pool_options SET entries = $1, staked = $2::text::numeric WHERE pool_id = $3 AND idx = $4`,
		t.Entries, t.Staked.String(), p.ID, int64(e.Pick),
	); err != nil {
		return fmt.Errorf("postgres: update option totals %d/%d: %w", p.ID, e.Pick, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit join %d: %w", p.ID, err)
	}
	return nil
}

// RecordClaim marks an unclaimed entry paid and rewrites the pool payout
// counters in one transaction, guarded by the pool version.
func (s *PoolStore) RecordClaim(ctx context.Context, p domain.Pool, prevVersion uint64, e domain.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := writePool(ctx, tx, p, prevVersion); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE entries SET claimed = TRUE, payout = $1::text::numeric, claimed_at = $2
		WHERE pool_id = $3 AND user_addr = $4 AND NOT claimed`,
		e.Payout.String(), e.ClaimedAt, p.ID, e.User.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: claim entry %d/%s: %w", p.ID, e.User.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: entry %d/%s: %w", p.ID, e.User.Hex(), domain.ErrAlreadyClaimed)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit claim %d: %w", p.ID, err)
	}
	return nil
}

// UpdatePool rewrites the settlement columns of a pool if its version is
// still prevVersion.
func (s *PoolStore) UpdatePool(ctx context.Context, p domain.Pool, prevVersion uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := writePool(ctx, tx, p, prevVersion); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit pool %d: %w", p.ID, err)
	}
	return nil
}

// writePool replaces the mutable columns of p when the stored version is
// still prevVersion.
func writePool(ctx context.Context, tx pgx.Tx, p domain.Pool, prevVersion uint64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE pools SET
			total_pot = $1::text::numeric, total_entries = $2,
			resolved = $3, canceled = $4, winning_option = $5, winners_count = $6,
			platform_fee = $7::text::numeric, net_pot = $8::text::numeric, dust = $9::text::numeric,
			paid_out = $10::text::numeric, claimed_count = $11,
			swept = $12, dust_swept = $13, settled_at = $14, version = $15
		WHERE id = $16 AND version = $17`,
		p.TotalPot.String(), p.TotalEntries,
		p.Resolved, p.Canceled, int64(p.WinningOption), p.WinnersCount,
		p.PlatformFee.String(), p.NetPot.String(), p.Dust.String(),
		p.PaidOut.String(), p.ClaimedCount,
		p.Swept, p.DustSwept, p.SettledAt, p.Version,
		p.ID, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pools WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check pool %d: %w", p.ID, err)
	}
	if !exists {
		return fmt.Errorf("postgres: pool %d: %w", p.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: pool %d version %d: %w", p.ID, prevVersion, domain.ErrConflict)
}

func (s *PoolStore) queryPools(ctx context.Context, query string, args ...any) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}

	ptrs := make([]*domain.Pool, len(pools))
	for i := range pools {
		ptrs[i] = &pools[i]
	}
	if err := s.loadOptions(ctx, ptrs); err != nil {
		return nil, err
	}
	return pools, nil
}

// loadOptions fills Options and Totals for the given pools with one query.
func (s *PoolStore) loadOptions(ctx context.Context, pools []*domain.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	byID := make(map[uint64]*domain.Pool, len(pools))
	ids := make([]int64, 0, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
		ids = append(ids, int64(p.ID))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pool_id, label, entries, staked::text
		FROM pool_options WHERE pool_id = ANY($1) ORDER BY pool_id, idx`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("postgres: load options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var poolID uint64
		var label string
		var t domain.OptionTotal
		if err := rows.Scan(&poolID, &label, &t.Entries, &t.Staked); err != nil {
			return fmt.Errorf("postgres: scan option: %w", err)
		}
		p := byID[poolID]
		p.Options = append(p.Options, label)
		p.Totals = append(p.Totals, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: load options rows: %w", err)
	}
	return nil
}

func scanPool(scanner interface{ Scan(dest ...any) error }) (domain.Pool, error) {
	var p domain.Pool
	var asset, createdBy string
	var startTime *time.Time
	var feeBps int
	var winning int64

	err := scanner.Scan(
		&p.ID, &p.Name, &p.Description, &asset, &p.EntryFee, &startTime, &p.LockTime,
		&feeBps, &p.MaxParticipants, &p.TotalPot, &p.TotalEntries,
		&p.Resolved, &p.Canceled, &winning, &p.WinnersCount,
		&p.PlatformFee, &p.NetPot, &p.Dust, &p.PaidOut, &p.ClaimedCount,
		&p.Swept, &p.DustSwept, &createdBy, &p.CreatedAt, &p.SettledAt, &p.Version,
	)
	if err != nil {
		return domain.Pool{}, err
	}
	p.Asset = common.HexToAddress(asset)
	p.CreatedBy = common.HexToAddress(createdBy)
	p.PlatformFeeBps = uint16(feeBps)
	p.WinningOption = uint32(winning)
	if startTime != nil {
		p.StartTime = startTime.UTC()
	}
	p.LockTime = p.LockTime.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (domain.Entry, error) {
	var e domain.Entry
	var user string
	var pick int64
	err := scanner.Scan(&e.PoolID, &user, &pick, &e.Amount, &e.Claimed, &e.Payout, &e.JoinedAt, &e.ClaimedAt)
	if err != nil {
		return domain.Entry{}, err
	}
	e.User = common.HexToAddress(user)
	e.Pick = uint32(pick)
	return e, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
