package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"nuacast/internal/core"
)

// LocalCache implements Cache with one JSON file per record, or an in-memory
// map when no directory is configured.
// This is suitable for a single process or a single workstation.
type LocalCache struct {
	mu     sync.RWMutex
	dir    string
	memory map[string]*core.RequestRecord
}

// NewLocalCache creates a local cache rooted at dir.
func NewLocalCache(dir string) *LocalCache {
	c := &LocalCache{dir: dir}
	if dir == "" {
		c.memory = make(map[string]*core.RequestRecord)
	}
	return c
}

// Get retrieves a record.
func (c *LocalCache) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.memory != nil {
		rec, ok := c.memory[id]
		if !ok {
			return nil, nil
		}
		cp := *rec
		return &cp, nil
	}

	data, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var rec core.RequestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	return &rec, nil
}

// Set stores a record.
func (c *LocalCache) Set(ctx context.Context, record *core.RequestRecord) error {
	if err := checkRecord(record); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memory != nil {
		cp := *record
		c.memory[record.ID] = &cp
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// Write atomically using temp file + rename
	target := c.path(record.ID)
	tmpFile := target + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, target); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// Close is a no-op for the local cache.
func (c *LocalCache) Close() error {
	return nil
}

// path maps an id to a file name; ids are escaped so they cannot leave dir.
func (c *LocalCache) path(id string) string {
	return filepath.Join(c.dir, url.PathEscape(id)+".json")
}
