package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nuacast/internal/storage"
)

// Result holds an opened ledger and its dependencies.
// The caller must call Close to release resources.
type Result struct {
	Recorder Recorder
	Reader   Reader
	Storage  storage.Storage
}

// Close flushes the recorder and closes storage. Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Recorder != nil {
		if err := r.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New opens storage and builds a ledger on it.
// When cfg.Enabled is false it returns a NoopLogger and no reader.
func New(ctx context.Context, cfg Config, storageCfg storage.Config, logger *slog.Logger) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Recorder: NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	res, err := NewWithSharedStorage(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	res.Storage = store
	return res, nil
}

// NewWithSharedStorage builds a ledger on an already open connection.
// The caller keeps ownership of store.
func NewWithSharedStorage(ctx context.Context, cfg Config, store storage.Storage, logger *slog.Logger) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Recorder: NoopLogger{}}, nil
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required when usage recording is enabled")
	}

	usageStore, err := NewStore(ctx, store, cfg.RetentionDays, logger)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(store)
	if err != nil {
		usageStore.Close()
		return nil, err
	}

	return &Result{
		Recorder: NewLogger(usageStore, cfg, logger),
		Reader:   reader,
	}, nil
}

// NewStore creates the Store matching the storage backend.
func NewStore(ctx context.Context, store storage.Storage, retentionDays int, logger *slog.Logger) (Store, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQL(), retentionDays, logger)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.Postgres(), retentionDays, logger)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.Mongo(), retentionDays, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// NewReader creates the Reader matching the storage backend.
// The ledger table or collection must already exist.
func NewReader(store storage.Storage) (Reader, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteReader(store.SQL())
	case storage.TypePostgreSQL:
		return NewPostgreSQLReader(store.Postgres())
	case storage.TypeMongoDB:
		return NewMongoDBReader(store.Mongo())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
