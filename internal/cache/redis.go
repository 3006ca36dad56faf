package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amishk599/jobalert/internal/aggregator"
	"github.com/amishk599/jobalert/internal/model"
)

var _ aggregator.ResultCache = (*RedisCache)(nil)

// RedisCache keeps aggregated results in Redis as JSON with a TTL.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]model.JobMatch, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var jobs []model.JobMatch
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, false, fmt.Errorf("decoding cached results: %w", err)
	}
	return jobs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, jobs []model.JobMatch, ttl time.Duration) error {
	raw, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
