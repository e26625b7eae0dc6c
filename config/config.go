// Package config loads the nuacast process configuration: an optional YAML
// file, an optional .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPaths are searched in order when Load is given no path.
var DefaultConfigPaths = []string{"config.yaml", "config/config.yaml"}

// Config holds the application configuration
type Config struct {
	Nuabase NuabaseConfig `yaml:"nuabase"`
	Logging LogConfig     `yaml:"logging"`
	HTTP    HTTPConfig    `yaml:"http"`
	Wait    WaitConfig    `yaml:"wait"`
	Cache   CacheConfig   `yaml:"cache"`
	Usage   UsageConfig   `yaml:"usage"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mock    MockConfig    `yaml:"mock"`
}

// NuabaseConfig holds the API credentials and endpoint
type NuabaseConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// RateLimit caps outgoing requests per second (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // text or json
	NoColor bool   `yaml:"no_color"`
}

// HTTPConfig holds HTTP client timeouts in seconds
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// WaitConfig holds push channel wait settings
type WaitConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds the request record cache configuration
type CacheConfig struct {
	Type  string           `yaml:"type"` // none, local or redis
	Dir   string           `yaml:"dir"`
	Redis RedisCacheConfig `yaml:"redis"`
}

// RedisCacheConfig holds Redis-specific cache configuration
type RedisCacheConfig struct {
	URL    string        `yaml:"url"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// UsageConfig holds usage ledger configuration
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// StorageConfig holds the usage ledger backend configuration
type StorageConfig struct {
	Type       string           `yaml:"type"` // sqlite, postgresql or mongodb
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific storage configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific storage configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific storage configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// MockConfig holds settings for the local mock service
type MockConfig struct {
	Addr   string        `yaml:"addr"`
	APIKey string        `yaml:"api_key"`
	Delay  time.Duration `yaml:"delay"`
}

// LoadResult is the loaded configuration and where it came from.
type LoadResult struct {
	Config *Config
	// Path is the YAML file that was read, empty when none was found.
	Path string
}

// Load builds the configuration: defaults, then the YAML file at path (or the
// first of DefaultConfigPaths that exists), then environment overrides.
// Variables from .env are loaded first and never replace variables that are
// already set.
func Load(path string) (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := buildDefaultConfig()
	result := &LoadResult{Config: cfg}

	file, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := readYAML(file, cfg); err != nil {
			return nil, err
		}
		result.Path = file
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func buildDefaultConfig() *Config {
	return &Config{
		Nuabase: NuabaseConfig{
			BaseURL: "https://api.nuabase.com",
			Burst:   1,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Timeout:               300,
			ResponseHeaderTimeout: 300,
		},
		Wait: WaitConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Type: "none",
			Redis: RedisCacheConfig{
				Prefix: "nuacast:request:",
				TTL:    24 * time.Hour,
			},
		},
		Usage: UsageConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 90,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: ".cache/nuacast.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "nuacast",
			},
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Mock: MockConfig{
			Addr:  "127.0.0.1:8787",
			Delay: 500 * time.Millisecond,
		},
	}
}

func findConfigFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	for _, candidate := range DefaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// readYAML decodes the file over cfg after expanding ${VAR} placeholders.
func readYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value or the default when the variable is unset or empty.
// Placeholders without a default whose variable is unset or empty are kept.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides lets environment variables replace file and default values.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid number %q", key, v))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("NUABASE_API_KEY", &cfg.Nuabase.APIKey)
	str("NUABASE_BASE_URL", &cfg.Nuabase.BaseURL)
	float("NUACAST_RATE_LIMIT", &cfg.Nuabase.RateLimit)

	str("NUACAST_LOG_LEVEL", &cfg.Logging.Level)
	str("NUACAST_LOG_FORMAT", &cfg.Logging.Format)
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		cfg.Logging.NoColor = true
	}

	num("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	num("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	duration("NUACAST_WAIT_TIMEOUT", &cfg.Wait.Timeout)

	str("NUACAST_CACHE_TYPE", &cfg.Cache.Type)
	str("NUACAST_CACHE_DIR", &cfg.Cache.Dir)
	str("NUACAST_REDIS_URL", &cfg.Cache.Redis.URL)

	boolean("NUACAST_USAGE_ENABLED", &cfg.Usage.Enabled)
	num("NUACAST_USAGE_RETENTION_DAYS", &cfg.Usage.RetentionDays)

	str("NUACAST_STORAGE_TYPE", &cfg.Storage.Type)
	str("NUACAST_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	str("NUACAST_POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	num("NUACAST_POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	str("NUACAST_MONGODB_URL", &cfg.Storage.MongoDB.URL)
	str("NUACAST_MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	boolean("NUACAST_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("NUACAST_METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	str("NUACAST_MOCK_ADDR", &cfg.Mock.Addr)
	str("NUACAST_MOCK_API_KEY", &cfg.Mock.APIKey)
	duration("NUACAST_MOCK_DELAY", &cfg.Mock.Delay)

	return errors.Join(errs...)
}

// parseDuration accepts plain integers as seconds, or Go duration strings.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	switch strings.ToLower(c.Cache.Type) {
	case "", "none", "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type must be none, local or redis, got %q", c.Cache.Type))
	}
	if strings.EqualFold(c.Cache.Type, "redis") && c.Cache.Redis.URL == "" {
		errs = append(errs, errors.New("cache.redis.url is required when cache.type is redis"))
	}
	if c.Wait.Timeout < 0 {
		errs = append(errs, errors.New("wait.timeout must not be negative"))
	}
	if c.Nuabase.RateLimit < 0 {
		errs = append(errs, errors.New("nuabase.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// HTTPTimeout returns the request timeout as a duration.
func (h HTTPConfig) HTTPTimeout() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// HeaderTimeout returns the response header timeout as a duration.
func (h HTTPConfig) HeaderTimeout() time.Duration {
	return time.Duration(h.ResponseHeaderTimeout) * time.Second
}
