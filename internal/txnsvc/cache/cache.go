// Package cache implements the Read-Side Cache: memoizes account-transaction
// history pages keyed by (account_id, page, size, sort), invalidated on
// every successful write to the Transaction Store. Redis errors degrade
// silently to the database — never surfaced to the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ledger-platform/internal/platform/config"
	"ledger-platform/internal/platform/logging"
	"ledger-platform/internal/txnsvc/store"
)

// invalidationSetKey names a Redis set holding the key of every cached
// history page, so one write can evict the whole family of pages (one DEL
// of the listed page keys, then one of the set itself), matching the
// coarse-but-correct invalidation policy in §4.6.
const invalidationSetKey = "ledger:history:keys"

// Cache fronts history page reads over Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Cache against the given Redis configuration.
func New(cfg config.CacheConfig) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client, ttl: cfg.TTL}
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error { return c.client.Close() }

// Ping is used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func pageKey(accountID string, page, size int, sort string) string {
	return fmt.Sprintf("ledger:history:%s:%d:%d:%s", accountID, page, size, sort)
}

// GetHistoryPage returns a cached page, or (nil, false) on a miss or any
// Redis failure (logged at WARN, never returned as an error).
func (c *Cache) GetHistoryPage(ctx context.Context, accountID string, page, size int, sort string) (*store.Page, bool) {
	key := pageKey(accountID, page, size, sort)
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logging.Warn("cache read failed, degrading to database", map[string]interface{}{"key": key, "error": err.Error()})
		}
		return nil, false
	}

	var page_ store.Page
	if err := json.Unmarshal([]byte(raw), &page_); err != nil {
		logging.Warn("cache payload corrupt, degrading to database", map[string]interface{}{"key": key, "error": err.Error()})
		return nil, false
	}
	return &page_, true
}

// PutHistoryPage stores a page and records its key for coarse invalidation.
// Failures are logged, never returned — a failed cache write must not fail
// the read request it is serving.
func (c *Cache) PutHistoryPage(ctx context.Context, accountID string, page, size int, sort string, result *store.Page) {
	key := pageKey(accountID, page, size, sort)
	data, err := json.Marshal(result)
	if err != nil {
		logging.Warn("failed to marshal history page for cache", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logging.Warn("cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	if err := c.client.SAdd(ctx, invalidationSetKey, key).Err(); err != nil {
		logging.Warn("cache invalidation bookkeeping failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// InvalidateAll evicts every cached history page. Called after every
// successful Transaction Store write, per §4.6's coarse-invalidation rule.
func (c *Cache) InvalidateAll(ctx context.Context) {
	keys, err := c.client.SMembers(ctx, invalidationSetKey).Result()
	if err != nil {
		logging.Warn("cache invalidation lookup failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logging.Warn("cache invalidation delete failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := c.client.Del(ctx, invalidationSetKey).Err(); err != nil {
		logging.Warn("cache invalidation set cleanup failed", map[string]interface{}{"error": err.Error()})
	}
}
