package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite allows 999 bound parameters per statement by default.
const (
	maxSQLiteParams     = 999
	columnsPerEntry     = 12
	maxEntriesPerInsert = maxSQLiteParams / columnsPerEntry
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS cast_usage (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		output_name TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		input_rows INTEGER NOT NULL DEFAULT 0,
		rows_with_no_results INTEGER NOT NULL DEFAULT 0
	)
`

var ledgerIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_cast_usage_timestamp ON cast_usage(timestamp)",
	"CREATE INDEX IF NOT EXISTS idx_cast_usage_request_id ON cast_usage(request_id)",
	"CREATE INDEX IF NOT EXISTS idx_cast_usage_output_name ON cast_usage(output_name)",
	"CREATE INDEX IF NOT EXISTS idx_cast_usage_fingerprint ON cast_usage(fingerprint)",
}

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	log           *slog.Logger
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the ledger table if needed and starts the retention
// cleanup loop when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int, logger *slog.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create cast_usage table: %w", err)
	}
	for _, idx := range ledgerIndexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		log:           logger,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, CleanupInterval, store.cleanup)
	}
	return store, nil
}

// WriteBatch inserts entries in chunks that fit SQLite's parameter limit.
// Entries whose id already exists are skipped.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	for start := 0; start < len(entries); start += maxEntriesPerInsert {
		chunk := entries[start:min(start+maxEntriesPerInsert, len(entries))]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)
		for i, e := range chunk {
			placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Kind,
				e.OutputName,
				e.Fingerprint,
				e.PromptTokens,
				e.CompletionTokens,
				e.TotalTokens,
				e.CacheHits,
				e.Rows,
				e.RowsWithNoResults,
			)
		}

		query := `INSERT OR IGNORE INTO cast_usage (id, request_id, timestamp, kind, output_name, fingerprint,
			prompt_tokens, completion_tokens, total_tokens, cache_hits, input_rows, rows_with_no_results) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage chunk %d: %w", start/maxEntriesPerInsert, err)
		}
	}
	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup loop. The database belongs to the storage layer.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

func (s *SQLiteStore) cleanup() {
	cutoff := retentionCutoff(time.Now(), s.retentionDays).Format(time.RFC3339Nano)

	result, err := s.db.Exec("DELETE FROM cast_usage WHERE timestamp < ?", cutoff)
	if err != nil {
		s.log.Error("failed to clean up usage entries", "error", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.log.Info("cleaned up usage entries", "deleted", n)
	}
}
