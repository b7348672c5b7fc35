// Package cache provides the read-through Redis cache in front of the
// subscription store. The dispatch path tolerates stale reads up to the TTL;
// the API invalidates entries on every subscription mutation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/metrics"
	"github.com/quayhook/quayhook/internal/model"
)

// SubscriptionSource is the authoritative lookup behind the cache.
type SubscriptionSource interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
}

// SubscriptionCache is a read-through cache over a SubscriptionSource.
// Redis being down degrades to direct store reads rather than failing
// dispatches.
type SubscriptionCache struct {
	source SubscriptionSource
	rdb    *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewSubscriptionCache(source SubscriptionSource, rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *SubscriptionCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SubscriptionCache{source: source, rdb: rdb, ttl: ttl, logger: logger}
}

// Key returns the Redis key for a subscription id.
func Key(id uuid.UUID) string {
	return "subscription:" + id.String()
}

// Get returns the subscription from Redis when present, falling back to the
// source and populating the cache on a miss.
func (c *SubscriptionCache) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, Key(id)).Bytes()
		switch {
		case err == nil:
			var sub model.Subscription
			if jerr := json.Unmarshal(raw, &sub); jerr == nil {
				metrics.RecordCacheLookup("hit")
				return &sub, nil
			}
			// Corrupt entry: drop it and fall through to the source.
			_ = c.rdb.Del(ctx, Key(id)).Err()
		case errors.Is(err, redis.Nil):
			metrics.RecordCacheLookup("miss")
		default:
			metrics.RecordCacheLookup("error")
			c.logger.WithContext(ctx).WithSubscription(id.String()).WithError(err).Warn("subscription cache read failed")
		}
	}

	sub, err := c.source.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		if raw, jerr := json.Marshal(sub); jerr == nil {
			if serr := c.rdb.Set(ctx, Key(id), raw, c.ttl).Err(); serr != nil {
				c.logger.WithContext(ctx).WithSubscription(id.String()).WithError(serr).Warn("subscription cache write failed")
			}
		}
	}
	return sub, nil
}

// Invalidate removes a subscription from the cache. Called by the API after
// every update or delete so workers see the change on their next cycle.
func (c *SubscriptionCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, Key(id)).Err(); err != nil {
		return err
	}
	return nil
}
