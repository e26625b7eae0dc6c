package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultSQLitePath is used when SQLiteConfig.Path is empty.
const DefaultSQLitePath = ".cache/nuacast.db"

type sqliteStorage struct {
	base
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite database in WAL mode.
func NewSQLite(cfg SQLiteConfig) (Storage, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultSQLitePath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) Type() string { return TypeSQLite }

func (s *sqliteStorage) SQL() *sql.DB { return s.db }

func (s *sqliteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
