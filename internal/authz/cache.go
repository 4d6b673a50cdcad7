package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const grantVersionKey = "authz:grants:version"

// RedisGrantCache caches grant role sets under versioned keys. Every table
// mutation bumps the version so all processes drop their view at once.
type RedisGrantCache struct {
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics *Metrics
}

// NewRedisGrantCache instantiates the cache helper.
func NewRedisGrantCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *RedisGrantCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGrantCache{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

// Version returns the current cache version, initialising when missing.
func (c *RedisGrantCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, grantVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, grantVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, grantVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Fetch loads a cached role set or populates it using the loader. Redis
// failures degrade to a direct load; loader failures are returned.
func (c *RedisGrantCache) Fetch(ctx context.Context, action Action, resourceType ResourceType, load func(context.Context) ([]Role, error)) ([]Role, error) {
	if load == nil {
		return nil, errors.New("authz: grant loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "grant cache version", slog.Any("error", err))
		c.metrics.observeCache("error")
		return load(ctx)
	}
	key := fmt.Sprintf("authz:grants:%s:%s:%d", action, resourceType, ver)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var roles []Role
		if jsonErr := json.Unmarshal(raw, &roles); jsonErr == nil {
			c.metrics.observeCache("hit")
			return roles, nil
		}
		c.logger.WarnContext(ctx, "grant cache decode", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "grant cache get", slog.Any("error", err))
	}
	c.metrics.observeCache("miss")
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		roles, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(roles); err == nil {
			if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
				c.logger.WarnContext(ctx, "grant cache set", slog.Any("error", err))
			}
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Role), nil
}

// Invalidate bumps the version so subsequent reads miss.
func (c *RedisGrantCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, grantVersionKey).Err()
}
