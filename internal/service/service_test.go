package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
	"github.com/alanyoungcy/cricketpools/internal/engine"
	"github.com/alanyoungcy/cricketpools/internal/store/memory"
	"github.com/alanyoungcy/cricketpools/internal/treasury"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	feeTo  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	player = common.HexToAddress("0x0000000000000000000000000000000000000007")
)

// mapCache mirrors the redis cache: fills are version-gated and an
// invalidation keeps the last version seen.
type mapCache struct {
	mu          sync.Mutex
	pools       map[uint64]domain.Pool
	versions    map[uint64]uint64
	gets, fills int
	invalidated []uint64
}

func newMapCache() *mapCache {
	return &mapCache{pools: make(map[uint64]domain.Pool), versions: make(map[uint64]uint64)}
}

func (c *mapCache) Set(_ context.Context, p domain.Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.versions[p.ID]; ok && v >= p.Version {
		return nil
	}
	c.fills++
	c.pools[p.ID] = p.Clone()
	c.versions[p.ID] = p.Version
	return nil
}

func (c *mapCache) Get(_ context.Context, id uint64) (domain.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	p, ok := c.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (c *mapCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pools, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func (c *mapCache) cached(id uint64) (domain.Pool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[id]
	return p, ok
}

// hookedStore runs afterGet once, right after a GetPool returns.
type hookedStore struct {
	*memory.Store
	afterGet func()
}

func (s *hookedStore) GetPool(ctx context.Context, id uint64) (domain.Pool, error) {
	p, err := s.Store.GetPool(ctx, id)
	if hook := s.afterGet; hook != nil {
		s.afterGet = nil
		hook()
	}
	return p, err
}

func setup(t *testing.T) (*PoolService, *TreasuryService, *mapCache) {
	t.Helper()
	pools, funds, cache, _ := setupWithStore(t)
	return pools, funds, cache
}

func setupWithStore(t *testing.T) (*PoolService, *TreasuryService, *mapCache, *hookedStore) {
	t.Helper()
	store := &hookedStore{Store: memory.New()}
	book := treasury.New(store, store, nil)
	eng, err := engine.New(engine.Deps{Pools: store, Settings: store, Treasury: book})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Bootstrap(context.Background(), domain.Settings{Owner: owner, FeeRecipient: feeTo, DefaultFeeBps: 250}); err != nil {
		t.Fatal(err)
	}
	cache := newMapCache()
	pools := NewPoolService(eng, cache, nil)
	return pools, NewTreasuryService(book, store, pools), cache, store
}

func TestGetPoolReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	pools, funds, cache := setup(t)

	created, err := pools.CreatePool(ctx, owner, domain.CreatePoolParams{
		Name:     "final",
		EntryFee: domain.NewAmount(100),
		LockTime: time.Now().Add(time.Hour),
		Options:  []string{"IND", "AUS"},
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if created.State != domain.PoolStateOpen || cache.fills != 1 {
		t.Fatalf("created = %+v, fills = %d", created, cache.fills)
	}
	if _, err := pools.GetPool(ctx, created.ID); err != nil || cache.fills != 1 {
		t.Errorf("second read should hit the cache: fills = %d, err = %v", cache.fills, err)
	}

	if _, err := funds.Credit(ctx, owner, domain.NativeAsset, player, domain.NewAmount(100)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := pools.JoinPool(ctx, player, created.ID, 1, domain.NewAmount(100)); err != nil {
		t.Fatalf("JoinPool: %v", err)
	}
	if cached, ok := cache.cached(created.ID); !ok || cached.TotalEntries != 1 {
		t.Fatalf("join did not refresh the cache: %+v", cached)
	}
	got, err := pools.GetPool(ctx, created.ID)
	if err != nil || got.TotalEntries != 1 {
		t.Errorf("after join = %+v, %v", got, err)
	}
	if h, err := funds.Holding(ctx, domain.NativeAsset, player); err != nil || !h.Balance.IsZero() {
		t.Errorf("player holding = %+v, %v; want zero balance", h, err)
	}

	transfers, err := funds.Transfers(ctx, player, domain.ListOpts{})
	if err != nil || len(transfers) != 1 || transfers[0].Kind != domain.TransferPull {
		t.Errorf("transfers = %+v, %v", transfers, err)
	}
}

func TestUpdateSettingsAndCredit(t *testing.T) {
	ctx := context.Background()
	pools, funds, _ := setup(t)

	bps := uint16(500)
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	got, err := pools.UpdateSettings(ctx, owner, SettingsUpdate{PlatformFeeBps: &bps, Owner: &newOwner})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if got.DefaultFeeBps != 500 || got.Owner != newOwner {
		t.Errorf("settings = %+v", got)
	}

	if _, err := funds.Credit(ctx, owner, domain.NativeAsset, player, domain.NewAmount(1)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("credit by former owner err = %v", err)
	}
	if _, err := funds.Credit(ctx, newOwner, domain.NativeAsset, common.Address{}, domain.NewAmount(1)); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Errorf("credit to zero address err = %v", err)
	}

	st, err := pools.Status(ctx)
	if err != nil || st.NextPoolID != 1 {
		t.Errorf("status = %+v, %v", st, err)
	}
}

func TestStaleReadDoesNotOverwriteCache(t *testing.T) {
	ctx := context.Background()
	pools, funds, cache, store := setupWithStore(t)

	created, err := pools.CreatePool(ctx, owner, domain.CreatePoolParams{
		Name:     "semi",
		EntryFee: domain.NewAmount(10),
		LockTime: time.Now().Add(time.Hour),
		Options:  []string{"ENG", "NZ"},
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if _, err := funds.Credit(ctx, owner, domain.NativeAsset, player, domain.NewAmount(10)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := cache.Invalidate(ctx, created.ID); err != nil {
		t.Fatal(err)
	}

	// The read below loads a snapshot, then a join commits before the
	// snapshot reaches the cache.
	store.afterGet = func() {
		if err := pools.JoinPool(ctx, player, created.ID, 0, domain.NewAmount(10)); err != nil {
			t.Errorf("JoinPool: %v", err)
		}
	}
	stale, err := pools.GetPool(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if stale.TotalEntries != 0 {
		t.Fatalf("read did not race the join: %+v", stale)
	}

	cached, ok := cache.cached(created.ID)
	if !ok || cached.TotalEntries != 1 {
		t.Fatalf("cached pool = %+v (present %v), want the joined snapshot", cached, ok)
	}
	got, err := pools.GetPool(ctx, created.ID)
	if err != nil || got.TotalEntries != 1 {
		t.Errorf("next read = %+v, %v; want total_entries 1", got, err)
	}
}
