// Package cache stores terminal request records so repeated lookups of a
// finished cast do not go back to the service.
// Supports a local (file or in-memory) backend and Redis for shared use.
package cache

import (
	"context"
	"fmt"
	"strings"

	"nuacast/internal/core"
)

// Cache defines the interface for request record storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the record for id.
	// Returns nil, nil if the record is not cached.
	Get(ctx context.Context, id string) (*core.RequestRecord, error)

	// Set stores the record under its ID.
	Set(ctx context.Context, record *core.RequestRecord) error

	// Close releases any resources held by the cache.
	Close() error
}

// Backend types accepted by New.
const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeRedis = "redis"
)

// Config selects and configures a backend.
type Config struct {
	// Type is one of "none", "local" or "redis". Empty means "none".
	Type string

	// Dir is the local cache directory. Empty keeps records in memory.
	Dir string

	Redis RedisConfig
}

// New builds the configured cache. It returns nil, nil for "none".
func New(cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return nil, nil
	case TypeLocal:
		return NewLocalCache(cfg.Dir), nil
	case TypeRedis:
		return NewRedisCache(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

func checkRecord(record *core.RequestRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("cache: record must have an id")
	}
	return nil
}
