package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestExpandString tests the expandString function with various scenarios
func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "string without placeholders",
			input:    "simple-string",
			envVars:  map[string]string{},
			expected: "simple-string",
		},
		{
			name:     "simple variable expansion",
			input:    "${API_KEY}",
			envVars:  map[string]string{"API_KEY": "sk-12345"},
			expected: "sk-12345",
		},
		{
			name:     "variable in middle of string",
			input:    "prefix-${API_KEY}-suffix",
			envVars:  map[string]string{"API_KEY": "sk-12345"},
			expected: "prefix-sk-12345-suffix",
		},
		{
			name:     "multiple variables",
			input:    "${SCHEME}://${HOST}:${PORT}",
			envVars:  map[string]string{"SCHEME": "https", "HOST": "api.example.com", "PORT": "8080"},
			expected: "https://api.example.com:8080",
		},
		{
			name:     "variable with default value - env var exists",
			input:    "${API_KEY:-default-key}",
			envVars:  map[string]string{"API_KEY": "sk-real-key"},
			expected: "sk-real-key",
		},
		{
			name:     "variable with default value - env var missing",
			input:    "${API_KEY:-default-key}",
			envVars:  map[string]string{},
			expected: "default-key",
		},
		{
			name:     "variable with default value - env var empty",
			input:    "${API_KEY:-default-key}",
			envVars:  map[string]string{"API_KEY": ""},
			expected: "default-key",
		},
		{
			name:     "unresolved variable - no default",
			input:    "${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "${MISSING_VAR}",
		},
		{
			name:     "partially resolved string",
			input:    "${RESOLVED}-${UNRESOLVED}",
			envVars:  map[string]string{"RESOLVED": "value1"},
			expected: "value1-${UNRESOLVED}",
		},
		{
			name:     "mixed resolved and unresolved with defaults",
			input:    "${RESOLVED}:${UNRESOLVED:-fallback}:${MISSING}",
			envVars:  map[string]string{"RESOLVED": "value1"},
			expected: "value1:fallback:${MISSING}",
		},
		{
			name:     "default value with special characters",
			input:    "${API_KEY:-https://api.example.com/cast}",
			envVars:  map[string]string{},
			expected: "https://api.example.com/cast",
		},
		{
			name:     "default value with colon in it",
			input:    "${URL:-http://localhost:8080}",
			envVars:  map[string]string{},
			expected: "http://localhost:8080",
		},
		{
			name:     "complex real-world example",
			input:    "${BASE_URL:-https://api.nuabase.com}/cast/value/now",
			envVars:  map[string]string{},
			expected: "https://api.nuabase.com/cast/value/now",
		},
		{
			name:     "environment variable set to empty string (no default)",
			input:    "${EMPTY_VAR}",
			envVars:  map[string]string{"EMPTY_VAR": ""},
			expected: "${EMPTY_VAR}",
		},
		{
			name:     "empty default value - env var missing",
			input:    "${OPTIONAL_VAR:-}",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "empty default value - env var set",
			input:    "${OPTIONAL_VAR:-}",
			envVars:  map[string]string{"OPTIONAL_VAR": "actual-value"},
			expected: "actual-value",
		},
		{
			name:     "empty default value - env var empty",
			input:    "${OPTIONAL_VAR:-}",
			envVars:  map[string]string{"OPTIONAL_VAR": ""},
			expected: "",
		},
		{
			name:     "api key pattern - not set should be empty",
			input:    "${NUABASE_API_KEY:-}",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "api key pattern - set to value",
			input:    "${NUABASE_API_KEY:-}",
			envVars:  map[string]string{"NUABASE_API_KEY": "sk-secret"},
			expected: "sk-secret",
		},
		{
			name:     "multiple placeholders some resolved some not",
			input:    "prefix-${VAR1}-${VAR2}-${VAR3}-suffix",
			envVars:  map[string]string{"VAR1": "a", "VAR3": "c"},
			expected: "prefix-a-${VAR2}-c-suffix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				_ = os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					_ = os.Unsetenv(k)
				}
			}()

			result := expandString(tt.input)
			if result != tt.expected {
				t.Errorf("expandString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestApplyEnvOverrides tests the applyEnvOverrides function
func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "credential overrides",
			envVars: map[string]string{"NUABASE_API_KEY": "sk-env", "NUABASE_BASE_URL": "http://localhost:8787"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Nuabase.APIKey != "sk-env" {
					t.Errorf("Nuabase.APIKey = %q, want %q", cfg.Nuabase.APIKey, "sk-env")
				}
				if cfg.Nuabase.BaseURL != "http://localhost:8787" {
					t.Errorf("Nuabase.BaseURL = %q, want %q", cfg.Nuabase.BaseURL, "http://localhost:8787")
				}
			},
		},
		{
			name:    "storage overrides",
			envVars: map[string]string{"NUACAST_STORAGE_TYPE": "postgresql", "NUACAST_POSTGRES_URL": "postgres://localhost/test", "NUACAST_POSTGRES_MAX_CONNS": "20"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Storage.Type != "postgresql" {
					t.Errorf("Storage.Type = %q, want %q", cfg.Storage.Type, "postgresql")
				}
				if cfg.Storage.PostgreSQL.URL != "postgres://localhost/test" {
					t.Errorf("Storage.PostgreSQL.URL = %q, want %q", cfg.Storage.PostgreSQL.URL, "postgres://localhost/test")
				}
				if cfg.Storage.PostgreSQL.MaxConns != 20 {
					t.Errorf("Storage.PostgreSQL.MaxConns = %d, want %d", cfg.Storage.PostgreSQL.MaxConns, 20)
				}
			},
		},
		{
			name:    "mongodb overrides",
			envVars: map[string]string{"NUACAST_STORAGE_TYPE": "mongodb", "NUACAST_MONGODB_URL": "mongodb://localhost:27017", "NUACAST_MONGODB_DATABASE": "ledger"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Storage.MongoDB.URL != "mongodb://localhost:27017" {
					t.Errorf("Storage.MongoDB.URL = %q", cfg.Storage.MongoDB.URL)
				}
				if cfg.Storage.MongoDB.Database != "ledger" {
					t.Errorf("Storage.MongoDB.Database = %q, want %q", cfg.Storage.MongoDB.Database, "ledger")
				}
			},
		},
		{
			name:    "bool overrides",
			envVars: map[string]string{"NUACAST_USAGE_ENABLED": "true", "NUACAST_METRICS_ENABLED": "1"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Usage.Enabled {
					t.Error("Usage.Enabled should be true")
				}
				if !cfg.Metrics.Enabled {
					t.Error("Metrics.Enabled should be true")
				}
			},
		},
		{
			name:    "duration overrides accept seconds and duration strings",
			envVars: map[string]string{"NUACAST_WAIT_TIMEOUT": "45", "NUACAST_MOCK_DELAY": "250ms"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Wait.Timeout != 45*time.Second {
					t.Errorf("Wait.Timeout = %v, want 45s", cfg.Wait.Timeout)
				}
				if cfg.Mock.Delay != 250*time.Millisecond {
					t.Errorf("Mock.Delay = %v, want 250ms", cfg.Mock.Delay)
				}
			},
		},
		{
			name:    "HTTP timeout overrides",
			envVars: map[string]string{"HTTP_TIMEOUT": "30", "HTTP_RESPONSE_HEADER_TIMEOUT": "60"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.HTTP.Timeout != 30 {
					t.Errorf("HTTP.Timeout = %d, want 30", cfg.HTTP.Timeout)
				}
				if cfg.HTTP.HeaderTimeout() != time.Minute {
					t.Errorf("HTTP.HeaderTimeout() = %v, want 1m", cfg.HTTP.HeaderTimeout())
				}
			},
		},
		{
			name:    "cache and rate limit overrides",
			envVars: map[string]string{"NUACAST_CACHE_TYPE": "redis", "NUACAST_REDIS_URL": "redis://localhost:6379", "NUACAST_RATE_LIMIT": "2.5"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Cache.Type != "redis" || cfg.Cache.Redis.URL != "redis://localhost:6379" {
					t.Errorf("Cache = %+v", cfg.Cache)
				}
				if cfg.Nuabase.RateLimit != 2.5 {
					t.Errorf("Nuabase.RateLimit = %v, want 2.5", cfg.Nuabase.RateLimit)
				}
			},
		},
		{
			name:    "no env vars set preserves defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Nuabase.BaseURL != "https://api.nuabase.com" {
					t.Errorf("Nuabase.BaseURL = %q", cfg.Nuabase.BaseURL)
				}
				if cfg.HTTP.Timeout != 300 {
					t.Errorf("HTTP.Timeout = %d, want 300", cfg.HTTP.Timeout)
				}
				if cfg.Wait.Timeout != 30*time.Second {
					t.Errorf("Wait.Timeout = %v, want 30s", cfg.Wait.Timeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := buildDefaultConfig()
			require.NoError(t, applyEnvOverrides(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	t.Setenv("NUACAST_USAGE_ENABLED", "maybe")
	t.Setenv("HTTP_TIMEOUT", "soon")
	t.Setenv("NUACAST_WAIT_TIMEOUT", "later")

	err := applyEnvOverrides(buildDefaultConfig())
	require.Error(t, err)
	for _, key := range []string{"NUACAST_USAGE_ENABLED", "HTTP_TIMEOUT", "NUACAST_WAIT_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
