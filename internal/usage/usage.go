// Package usage records the token usage of completed casts in a ledger.
// Entries are buffered in memory and written in batches to SQLite,
// PostgreSQL or MongoDB.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nuacast/internal/cast"
)

// BatchFlushThreshold is the number of entries that triggers an immediate flush.
const BatchFlushThreshold = 100

// Store defines the interface for ledger storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple entries to storage.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces any pending writes to complete.
	Flush(ctx context.Context) error

	// Close releases resources held by the store, not the underlying connection.
	Close() error
}

// Entry is one completed cast.
type Entry struct {
	// ID is a unique identifier for this entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID is the service's id for the cast (llmRequestId)
	RequestID string `json:"request_id" bson:"request_id"`

	// Timestamp is when the result was validated
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Kind        string `json:"kind" bson:"kind"`
	OutputName  string `json:"output_name" bson:"output_name"`
	Fingerprint string `json:"fingerprint" bson:"fingerprint"`

	PromptTokens     int `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" bson:"total_tokens"`

	// CacheHits is 1 for a cached value cast, the hit count for array casts.
	CacheHits         int `json:"cache_hits" bson:"cache_hits"`
	Rows              int `json:"rows" bson:"input_rows"`
	RowsWithNoResults int `json:"rows_with_no_results" bson:"rows_with_no_results"`
}

// EntryFromCompletion builds a ledger entry for a completed cast.
func EntryFromCompletion(c cast.Completion) *Entry {
	return &Entry{
		ID:                uuid.NewString(),
		RequestID:         c.RequestID,
		Timestamp:         time.Now().UTC(),
		Kind:              string(c.Kind),
		OutputName:        c.OutputName,
		Fingerprint:       c.Fingerprint,
		PromptTokens:      c.Usage.PromptTokens,
		CompletionTokens:  c.Usage.CompletionTokens,
		TotalTokens:       c.Usage.TotalTokens,
		CacheHits:         c.CacheHits,
		Rows:              c.Rows,
		RowsWithNoResults: c.RowsWithNoResults,
	}
}

// Config holds ledger configuration
type Config struct {
	// Enabled controls whether usage is recorded
	Enabled bool

	// BufferSize is the number of entries buffered before new ones are dropped
	BufferSize int

	// FlushInterval is how often buffered entries are written
	FlushInterval time.Duration

	// RetentionDays is how long to keep entries (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
