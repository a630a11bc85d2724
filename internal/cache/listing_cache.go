// Package cache is a read-through cache for terminal listing records. Once a
// listing leaves the active state its record never changes again, so cached
// copies never go stale and need no invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// ListingCache caches immutable (inactive) listing records
type ListingCache interface {
	Get(ctx context.Context, id uint64) (*models.Listing, bool)
	Set(ctx context.Context, listing *models.Listing)
}

// NopCache is used when Redis is not configured
type NopCache struct{}

func (NopCache) Get(ctx context.Context, id uint64) (*models.Listing, bool) { return nil, false }
func (NopCache) Set(ctx context.Context, listing *models.Listing)           {}

// RedisCache implements ListingCache on a Redis client
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed listing cache
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	// Records are immutable; the TTL only bounds memory, not staleness.
	return &RedisCache{client: client, logger: logger, ttl: 24 * time.Hour}
}

func key(id uint64) string {
	return fmt.Sprintf("polygrid:listing:%d", id)
}

// Get returns a cached terminal listing record, if present
func (c *RedisCache) Get(ctx context.Context, id uint64) (*models.Listing, bool) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("listing cache read failed", zap.Uint64("id", id), zap.Error(err))
		}
		return nil, false
	}
	var listing models.Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		c.logger.Warn("listing cache entry corrupt", zap.Uint64("id", id), zap.Error(err))
		return nil, false
	}
	return &listing, true
}

// Set stores a terminal listing record. Active listings are never cached.
func (c *RedisCache) Set(ctx context.Context, listing *models.Listing) {
	if listing.Active {
		return
	}
	raw, err := json.Marshal(listing)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(listing.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("listing cache write failed", zap.Uint64("id", listing.ID), zap.Error(err))
	}
}
