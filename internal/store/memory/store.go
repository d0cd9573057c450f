// Package memory is an in-process implementation of the pool, settings,
// audit, transfer and custody stores. It is the default backend for
// single-node deployments and tests; state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

type entryKey struct {
	pool uint64
	user common.Address
}

// Store holds every pool, entry and custody balance behind one RWMutex, so readers always
// see a write in full or not at all.
type Store struct {
	mu         sync.RWMutex
	pools      map[uint64]domain.Pool
	entries    map[entryKey]domain.Entry
	entryOrder map[uint64][]common.Address
	nextID     uint64

	settings  *domain.Settings
	audit     []domain.AuditEntry
	transfers []domain.Transfer

	balances   map[holding]domain.Amount
	allowances map[holding]domain.Amount
	escrow     map[common.Address]domain.Amount
	owed       []domain.OwedPayout
}

// New returns an empty Store whose first pool id is 1.
func New() *Store {
	return &Store{
		pools:      make(map[uint64]domain.Pool),
		entries:    make(map[entryKey]domain.Entry),
		entryOrder: make(map[uint64][]common.Address),
		nextID:     1,
		balances:   make(map[holding]domain.Amount),
		allowances: make(map[holding]domain.Amount),
		escrow:     make(map[common.Address]domain.Amount),
	}
}

// CreatePool stores p under the next sequential id.
func (s *Store) CreatePool(_ context.Context, p domain.Pool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	p = p.Clone()
	p.ID = id
	s.pools[id] = p
	return id, nil
}

// GetPool returns a copy of pool id.
func (s *Store) GetPool(_ context.Context, id uint64) (domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return domain.Pool{}, fmt.Errorf("memory: pool %d: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListPools returns pools in id order, filtered on CreatedAt.
func (s *Store) ListPools(_ context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.pools))
	for id, p := range s.pools {
		if opts.Since != nil && p.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !p.CreatedAt.Before(*opts.Until) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ids = paginate(ids, opts)

	out := make([]domain.Pool, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.pools[id].Clone())
	}
	return out, nil
}

// ListSettled returns pools settled before the cutoff, in id order.
func (s *Store) ListSettled(_ context.Context, before time.Time) ([]domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Pool
	for _, p := range s.pools {
		if p.SettledAt != nil && p.SettledAt.Before(before) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// NextPoolID returns the id the next CreatePool will assign.
func (s *Store) NextPoolID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID, nil
}

// GetEntry returns user's entry in pool poolID.
func (s *Store) GetEntry(_ context.Context, poolID uint64, user common.Address) (domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey{poolID, user}]
	if !ok {
		return domain.Entry{}, fmt.Errorf("memory: entry %d/%s: %w", poolID, user.Hex(), domain.ErrNotFound)
	}
	return cloneEntry(e), nil
}

// ListEntries returns a pool's entries in join order.
func (s *Store) ListEntries(_ context.Context, poolID uint64) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := s.entryOrder[poolID]
	out := make([]domain.Entry, 0, len(users))
	for _, u := range users {
		out = append(out, cloneEntry(s.entries[entryKey{poolID, u}]))
	}
	return out, nil
}

// RecordJoin inserts e and replaces the pool with p when the stored
// version still equals prevVersion.
func (s *Store) RecordJoin(_ context.Context, p domain.Pool, prevVersion uint64, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(p.ID, prevVersion); err != nil {
		return err
	}
	key := entryKey{p.ID, e.User}
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("memory: entry %d/%s: %w", p.ID, e.User.Hex(), domain.ErrAlreadyJoined)
	}
	s.entries[key] = cloneEntry(e)
	s.entryOrder[p.ID] = append(s.entryOrder[p.ID], e.User)
	s.pools[p.ID] = p.Clone()
	return nil
}

// RecordClaim overwrites an unclaimed entry with e and replaces the pool
// with p under the same version check as RecordJoin.
func (s *Store) RecordClaim(_ context.Context, p domain.Pool, prevVersion uint64, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(p.ID, prevVersion); err != nil {
		return err
	}
	key := entryKey{p.ID, e.User}
	cur, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("memory: entry %d/%s: %w", p.ID, e.User.Hex(), domain.ErrNotFound)
	}
	if cur.Claimed {
		return fmt.Errorf("memory: entry %d/%s: %w", p.ID, e.User.Hex(), domain.ErrAlreadyClaimed)
	}
	s.entries[key] = cloneEntry(e)
	s.pools[p.ID] = p.Clone()
	return nil
}

// UpdatePool replaces pool p.ID if it is still at prevVersion.
func (s *Store) UpdatePool(_ context.Context, p domain.Pool, prevVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(p.ID, prevVersion); err != nil {
		return err
	}
	s.pools[p.ID] = p.Clone()
	return nil
}

func (s *Store) checkVersion(id, prevVersion uint64) error {
	cur, ok := s.pools[id]
	if !ok {
		return fmt.Errorf("memory: pool %d: %w", id, domain.ErrNotFound)
	}
	if cur.Version != prevVersion {
		return fmt.Errorf("memory: pool %d at version %d, expected %d: %w", id, cur.Version, prevVersion, domain.ErrConflict)
	}
	return nil
}

// GetSettings returns ErrNotFound until SaveSettings is called.
func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return domain.Settings{}, fmt.Errorf("memory: settings: %w", domain.ErrNotFound)
	}
	return *s.settings, nil
}

// SaveSettings replaces the settings row.
func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    cp,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := make([]int, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		a := s.audit[i]
		if opts.Since != nil && a.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !a.CreatedAt.Before(*opts.Until) {
			continue
		}
		idx = append(idx, i)
	}
	idx = paginate(idx, opts)
	out := make([]domain.AuditEntry, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.audit[i])
	}
	return out, nil
}

// Record appends a treasury transfer.
func (s *Store) Record(_ context.Context, t domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, t)
	return nil
}

// ListByAccount returns the transfers touching account, newest first.
func (s *Store) ListByAccount(_ context.Context, account common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transfer
	for i := len(s.transfers) - 1; i >= 0; i-- {
		if s.transfers[i].Account == account {
			out = append(out, s.transfers[i])
		}
	}
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func cloneEntry(e domain.Entry) domain.Entry {
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		e.ClaimedAt = &t
	}
	return e
}
