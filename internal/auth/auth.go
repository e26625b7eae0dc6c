// Package auth owns the credential used to authenticate against the cast service.
// It holds either a static API key or a token-fetching function whose result is
// cached, with concurrent fetches collapsed into one.
package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"nuacast/internal/core"
	"nuacast/internal/credentials"
)

// flightKey is the single singleflight key; a Manager only ever fetches one token.
const flightKey = "token"

// TokenFunc fetches a bearer token, e.g. from the caller's own backend.
type TokenFunc func(ctx context.Context) (string, error)

// Config holds the credential configuration. Exactly one of APIKey and
// FetchToken may be set. An empty APIKey falls back to NUABASE_API_KEY when
// running server-side and no FetchToken is given.
type Config struct {
	APIKey     string
	FetchToken TokenFunc
}

// Manager hands out the bearer token for outgoing requests.
// It is safe for concurrent use.
type Manager struct {
	apiKey string
	fetch  TokenFunc

	mu     sync.RWMutex
	cached string

	group   singleflight.Group
	fetches atomic.Int64
}

// NewManager validates the configuration against the environment snapshot and
// returns a Manager. It fails with a configuration error when both or neither
// credential modes are given, or when a static key would ship to a browser.
func NewManager(cfg Config, env credentials.Environment) (*Manager, error) {
	if cfg.FetchToken != nil && cfg.APIKey != "" {
		return nil, core.NewConfigurationError("Provide either apiKey or fetchToken, not both.")
	}

	if cfg.FetchToken != nil {
		return &Manager{fetch: cfg.FetchToken}, nil
	}

	if env.Browser && cfg.APIKey != "" {
		return nil, core.NewConfigurationError(
			"A static API key must not be used in a browser environment. Use fetchToken to obtain a short-lived token from your backend.")
	}

	apiKey, ok := credentials.Resolve(cfg.APIKey, credentials.EnvAPIKey, env)
	if !ok {
		return nil, core.NewConfigurationError(
			"API key is required. Provide it via config.apiKey, config.fetchToken or the " + credentials.EnvAPIKey + " environment variable.")
	}

	return &Manager{apiKey: apiKey}, nil
}

// Token returns the bearer token. A static key is returned as is. In fetch
// mode the first call fetches the token and later calls reuse it; callers
// arriving while a fetch is in flight share its outcome. A failed fetch is not
// cached, so the next call retries.
//
// Cached tokens never expire.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if m.apiKey != "" {
		return m.apiKey, nil
	}
	if tok, ok := m.cachedToken(); ok {
		return tok, nil
	}

	ch := m.group.DoChan(flightKey, func() (interface{}, error) {
		// A flight that finished between the cache check and DoChan already stored the token.
		if tok, ok := m.cachedToken(); ok {
			return tok, nil
		}

		m.fetches.Add(1)
		// The fetch is shared, so one caller's cancellation must not fail the others.
		tok, err := m.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", fmt.Errorf("fetch token: %w", err)
		}
		if tok == "" {
			return "", core.NewConfigurationError("fetchToken returned an empty token")
		}

		m.mu.Lock()
		m.cached = tok
		m.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// FetchCount returns how many times the fetch function has been invoked.
func (m *Manager) FetchCount() int64 {
	return m.fetches.Load()
}

// Static reports whether the manager uses a static API key.
func (m *Manager) Static() bool {
	return m.apiKey != ""
}

func (m *Manager) cachedToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached, m.cached != ""
}
