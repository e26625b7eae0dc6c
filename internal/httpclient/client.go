// Package httpclient builds the *http.Client instances used by the cast client.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout bounds the whole exchange, including reading the body.
	// Zero means no limit, which streaming clients need.
	Timeout time.Duration

	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// getEnvDuration reads a duration from an environment variable, returning the default if not set or invalid.
// Accepts either plain integers (interpreted as seconds) or Go duration strings (e.g., "10m", "1h30m").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}

// DefaultConfig returns the configuration for request/response calls.
// "now" casts block until the LLM finishes, so the timeout is generous.
// Overridable via HTTP_TIMEOUT and HTTP_RESPONSE_HEADER_TIMEOUT.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               getEnvDuration("HTTP_TIMEOUT", 300*time.Second),
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: getEnvDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 300*time.Second),
	}
}

// StreamingConfig returns the configuration for push channel subscriptions.
// There is no overall timeout; callers bound the wait with a context.
func StreamingConfig() ClientConfig {
	cfg := DefaultConfig()
	cfg.Timeout = 0
	cfg.ResponseHeaderTimeout = getEnvDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 30*time.Second)
	return cfg
}

// NewHTTPClient creates a new HTTP client with the provided configuration.
// If config is nil, DefaultConfig() is used.
//
// Transparent decompression is disabled; the transport negotiates and decodes
// encodings itself.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}

// NewDefaultHTTPClient creates a new HTTP client with default configuration.
func NewDefaultHTTPClient() *http.Client {
	return NewHTTPClient(nil)
}

// NewStreamingHTTPClient creates a client suitable for long-lived SSE streams.
func NewStreamingHTTPClient() *http.Client {
	cfg := StreamingConfig()
	return NewHTTPClient(&cfg)
}
