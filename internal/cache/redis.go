package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"nuacast/internal/core"
)

const (
	// DefaultRedisPrefix is prepended to record ids to form Redis keys.
	DefaultRedisPrefix = "nuacast:request:"

	// DefaultRedisTTL is the default time-to-live for cached records.
	DefaultRedisTTL = 24 * time.Hour
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Prefix is the key prefix (defaults to "nuacast:request:")
	Prefix string

	// TTL is the time-to-live for cached records (defaults to 24 hours)
	TTL time.Duration
}

// RedisCache implements Cache using Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := newRedisCache(client, cfg)
	slog.Info("redis cache connected", "prefix", c.prefix, "ttl", c.ttl)
	return c, nil
}

func newRedisCache(client *redis.Client, cfg RedisConfig) *RedisCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get retrieves a record from Redis.
func (c *RedisCache) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	data, err := c.client.Get(ctx, c.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record from redis: %w", err)
	}

	var rec core.RequestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record from redis: %w", err)
	}
	return &rec, nil
}

// Set stores a record in Redis with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, record *core.RequestRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+record.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set record in redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
