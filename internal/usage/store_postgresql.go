package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS cast_usage (
		id UUID PRIMARY KEY,
		request_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
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

const postgresInsert = `
	INSERT INTO cast_usage (id, request_id, timestamp, kind, output_name, fingerprint,
		prompt_tokens, completion_tokens, total_tokens, cache_hits, input_rows, rows_with_no_results)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING
`

// smallBatch is the size below which entries are inserted one by one
// without a transaction.
const smallBatch = 10

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	log           *slog.Logger
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the ledger table if needed and starts the
// retention cleanup loop when retentionDays > 0.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int, logger *slog.Logger) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create cast_usage table: %w", err)
	}
	for _, idx := range ledgerIndexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			logger.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		log:           logger,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, CleanupInterval, store.cleanup)
	}
	return store, nil
}

func insertArgs(e *Entry) []any {
	return []any{
		e.ID, e.RequestID, e.Timestamp, e.Kind, e.OutputName, e.Fingerprint,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.CacheHits, e.Rows, e.RowsWithNoResults,
	}
}

// WriteBatch inserts entries. Small batches are inserted individually; larger
// ones are sent as a single pgx batch inside a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) < smallBatch {
		return s.writeEach(ctx, entries)
	}
	return s.writeBatch(ctx, entries)
}

func (s *PostgreSQLStore) writeEach(ctx context.Context, entries []*Entry) error {
	var errs []error
	for _, e := range entries {
		if _, err := s.pool.Exec(ctx, postgresInsert, insertArgs(e)...); err != nil {
			s.log.Warn("failed to insert usage entry", "error", err, "id", e.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d usage entries: %w", len(errs), len(entries), errors.Join(errs...))
	}
	return nil
}

func (s *PostgreSQLStore) writeBatch(ctx context.Context, entries []*Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(postgresInsert, insertArgs(e)...)
	}

	results := tx.SendBatch(ctx, batch)
	var errs []error
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if err := results.Close(); err != nil && len(errs) == 0 {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d usage entries: %w", len(entries), errors.Join(errs...))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup loop. The pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.pool.Exec(ctx, "DELETE FROM cast_usage WHERE timestamp < $1", retentionCutoff(time.Now(), s.retentionDays))
	if err != nil {
		s.log.Error("failed to clean up usage entries", "error", err)
		return
	}
	if n := result.RowsAffected(); n > 0 {
		s.log.Info("cleaned up usage entries", "deleted", n)
	}
}
