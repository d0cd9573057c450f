package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

//go:embed scripts/pool_set.lua
var poolSetLua string

const defaultPoolTTL = 30 * time.Second

// PoolCache implements domain.PoolCache. Each pool is a hash with its JSON
// projection in field "data" and its version in field "version". Writes are
// version-gated, so a reader that loaded an old snapshot cannot overwrite a
// newer one.
type PoolCache struct {
	c      *Client
	ttl    time.Duration
	setScr *redis.Script
}

// NewPoolCache creates a PoolCache. A zero ttl uses 30s.
func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = defaultPoolTTL
	}
	return &PoolCache{c: c, ttl: ttl, setScr: redis.NewScript(poolSetLua)}
}

func (pc *PoolCache) poolKey(id uint64) string {
	return pc.c.key("pool:" + strconv.FormatUint(id, 10))
}

// Set caches p unless the cache already holds, or last dropped, a version
// at least as new.
func (pc *PoolCache) Set(ctx context.Context, p domain.Pool) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %d: %w", p.ID, err)
	}
	if err := pc.setScr.Run(ctx, pc.c.rdb,
		[]string{pc.poolKey(p.ID)},
		data, p.Version, pc.ttl.Milliseconds(),
	).Err(); err != nil {
		return fmt.Errorf("redis: set pool %d: %w", p.ID, err)
	}
	return nil
}

// Get returns a cached pool or domain.ErrNotFound on a miss.
func (pc *PoolCache) Get(ctx context.Context, id uint64) (domain.Pool, error) {
	data, err := pc.c.rdb.HGet(ctx, pc.poolKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool %d: %w", id, err)
	}
	var p domain.Pool
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %d: %w", id, err)
	}
	return p, nil
}

// Invalidate drops a cached projection but keeps its version until the key
// expires, so fills from snapshots at or below it are still refused.
func (pc *PoolCache) Invalidate(ctx context.Context, id uint64) error {
	if err := pc.c.rdb.HDel(ctx, pc.poolKey(id), "data").Err(); err != nil {
		return fmt.Errorf("redis: invalidate pool %d: %w", id, err)
	}
	return nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
