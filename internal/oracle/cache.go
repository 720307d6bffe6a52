package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/symbol"
)

const (
	// freshWindow is how long a cached price is served without re-fetching.
	freshWindow = 1 * time.Second
	// staleWindow is how long a cached price may still be served when the
	// upstream fetch fails. Beyond it the price is unavailable.
	staleWindow = 2 * time.Second
)

type cacheEntry struct {
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// CachedOracle wraps an upstream oracle with a Redis cache shared across
// instances, plus an in-process map when Redis is not configured. A price
// younger than the fresh window is served directly; on upstream failure a
// price within the stale window is served as a fallback.
type CachedOracle struct {
	upstream Oracle
	rdb      *redis.Client

	mu    sync.RWMutex
	local map[string]cacheEntry
}

// NewCachedOracle creates a caching wrapper. rdb may be nil, in which case
// only the in-process cache is used.
func NewCachedOracle(upstream Oracle, rdb *redis.Client) *CachedOracle {
	return &CachedOracle{
		upstream: upstream,
		rdb:      rdb,
		local:    make(map[string]cacheEntry),
	}
}

func (c *CachedOracle) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	key := symbol.Normalize(sym)
	now := time.Now()

	entry, ok := c.lookup(ctx, key)
	if ok && now.Sub(entry.FetchedAt) < freshWindow {
		return entry.Price, nil
	}

	price, err := c.upstream.Price(ctx, sym)
	if err == nil {
		c.put(ctx, key, cacheEntry{Price: price, FetchedAt: now})
		return price, nil
	}

	// Upstream failed; tolerate a slightly stale price.
	if ok && now.Sub(entry.FetchedAt) < staleWindow {
		slog.Warn("price fetch failed, serving stale price",
			"symbol", key, "age", now.Sub(entry.FetchedAt), "error", err)
		return entry.Price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, sym)
}

// SetPrice seeds the cache directly, bypassing the upstream. Used by push
// feeds and tests.
func (c *CachedOracle) SetPrice(ctx context.Context, sym string, price decimal.Decimal) {
	c.put(ctx, symbol.Normalize(sym), cacheEntry{Price: price, FetchedAt: time.Now()})
}

func (c *CachedOracle) lookup(ctx context.Context, key string) (cacheEntry, bool) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, priceKey(key)).Bytes()
		if err == nil {
			var entry cacheEntry
			if json.Unmarshal(data, &entry) == nil {
				return entry, true
			}
		}
		return cacheEntry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.local[key]
	return entry, ok
}

func (c *CachedOracle) put(ctx context.Context, key string, entry cacheEntry) {
	if c.rdb != nil {
		if data, err := json.Marshal(entry); err == nil {
			c.rdb.Set(ctx, priceKey(key), data, staleWindow)
		}
		return
	}

	c.mu.Lock()
	c.local[key] = entry
	c.mu.Unlock()
}

func priceKey(sym string) string { return fmt.Sprintf("price:%s", sym) }
