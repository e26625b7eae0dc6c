// Package app wires the loaded configuration into a ready nua.Client and owns
// the lifecycle of everything the client depends on.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"nuacast/config"
	"nuacast/internal/cache"
	"nuacast/internal/httpclient"
	"nuacast/internal/storage"
	"nuacast/internal/usage"
	"nuacast/pkg/nua"
)

// App holds the client and its supporting components.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *nua.Metrics
	cache   cache.Cache
	usage   *usage.Result
	client  *nua.Client

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the options for creating an App.
type Config struct {
	// AppConfig is the result of config.Load.
	AppConfig *config.LoadResult

	Logger *slog.Logger

	// Registerer receives the client metrics when metrics are enabled.
	// Nil uses prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Environment overrides the process environment seen by the client.
	Environment *nua.Environment
}

// New creates the App. The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{config: appCfg, logger: logger}

	recordCache, err := cache.New(cacheConfig(appCfg.Cache))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record cache: %w", err)
	}
	a.cache = recordCache

	usageResult, err := usage.New(ctx, usageConfig(appCfg.Usage), storageConfig(appCfg.Storage), logger)
	if err != nil {
		closeErr := a.closeCache()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize usage ledger: %w (also: cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize usage ledger: %w", err)
	}
	a.usage = usageResult

	if appCfg.Metrics.Enabled {
		a.metrics = nua.NewMetrics(cfg.Registerer)
	}

	a.logStartupInfo(cfg.AppConfig.Path)

	clientCfg := nua.Config{
		APIKey:      appCfg.Nuabase.APIKey,
		BaseURL:     appCfg.Nuabase.BaseURL,
		HTTPClient:  httpClient(appCfg.HTTP, false),
		RateLimit:   appCfg.Nuabase.RateLimit,
		Burst:       appCfg.Nuabase.Burst,
		WaitTimeout: appCfg.Wait.Timeout,
		Usage:       usageResult.Recorder,
		Metrics:     a.metrics,
		Logger:      logger,
		Environment: cfg.Environment,
	}
	clientCfg.StreamClient = httpClient(appCfg.HTTP, true)
	if recordCache != nil {
		clientCfg.Cache = recordCache
	}

	client, err := nua.New(clientCfg)
	if err != nil {
		closeErr := errors.Join(a.usage.Close(), a.closeCache())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to create client: %w (also: close error: %v)", err, closeErr)
		}
		return nil, err
	}
	a.client = client

	return a, nil
}

// OpenLedger opens only the usage ledger described by cfg, for reporting
// without credentials. The Reader is nil when usage recording is disabled.
// The caller must Close the result.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*usage.Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res, err := usage.New(ctx, usageConfig(cfg.Usage), storageConfig(cfg.Storage), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	return res, nil
}

// Client returns the configured cast client.
func (a *App) Client() *nua.Client { return a.client }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.config }

// Metrics returns the client metrics, nil when disabled.
func (a *App) Metrics() *nua.Metrics { return a.metrics }

// UsageReader returns the ledger reader, nil when usage recording is off.
func (a *App) UsageReader() usage.Reader {
	if a.usage == nil {
		return nil
	}
	return a.usage.Reader
}

// Shutdown flushes the usage ledger and closes the cache. It is idempotent
// and attempts every step, returning the joined failures.
func (a *App) Shutdown(_ context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error

	// Flush pending ledger entries before the storage goes away.
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.logger.Error("usage ledger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if err := a.closeCache(); err != nil {
		a.logger.Error("record cache close error", "error", err)
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (a *App) closeCache() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

func (a *App) logStartupInfo(path string) {
	cfg := a.config

	if path != "" {
		a.logger.Debug("configuration loaded", "path", path)
	}
	if cfg.Nuabase.APIKey == "" {
		a.logger.Debug("no API key configured, falling back to NUABASE_API_KEY")
	}
	a.logger.Debug("record cache configured", "type", cfg.Cache.Type)

	if cfg.Usage.Enabled {
		a.logger.Debug("usage ledger enabled",
			"storage", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	}
	if cfg.Metrics.Enabled {
		a.logger.Debug("prometheus metrics enabled")
	}
}

func httpClient(cfg config.HTTPConfig, streaming bool) *http.Client {
	base := httpclient.DefaultConfig()
	if streaming {
		base = httpclient.StreamingConfig()
	}
	if cfg.Timeout > 0 && !streaming {
		base.Timeout = cfg.HTTPTimeout()
	}
	if cfg.ResponseHeaderTimeout > 0 {
		base.ResponseHeaderTimeout = cfg.HeaderTimeout()
	}
	return httpclient.NewHTTPClient(&base)
}

func cacheConfig(c config.CacheConfig) cache.Config {
	return cache.Config{
		Type: c.Type,
		Dir:  c.Dir,
		Redis: cache.RedisConfig{
			URL:    c.Redis.URL,
			Prefix: c.Redis.Prefix,
			TTL:    c.Redis.TTL,
		},
	}
}

func usageConfig(c config.UsageConfig) usage.Config {
	return usage.Config{
		Enabled:       c.Enabled,
		BufferSize:    c.BufferSize,
		FlushInterval: c.FlushInterval,
		RetentionDays: c.RetentionDays,
	}
}

func storageConfig(c config.StorageConfig) storage.Config {
	return storage.Config{
		Type:       c.Type,
		SQLite:     storage.SQLiteConfig{Path: c.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: c.PostgreSQL.URL, MaxConns: c.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: c.MongoDB.URL, Database: c.MongoDB.Database},
	}
}
