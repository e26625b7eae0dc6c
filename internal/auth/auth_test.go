package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuacast/internal/core"
	"nuacast/internal/credentials"
)

var serverEnv = credentials.NewEnvironment(false, nil)

func TestNewManager_ConfigurationErrors(t *testing.T) {
	fetch := func(context.Context) (string, error) { return "tok", nil }

	tests := []struct {
		name string
		cfg  Config
		env  credentials.Environment
	}{
		{"both modes", Config{APIKey: "key", FetchToken: fetch}, serverEnv},
		{"neither mode", Config{}, serverEnv},
		{"static key in browser", Config{APIKey: "key"}, credentials.NewEnvironment(true, nil)},
		{"browser ignores env key", Config{}, credentials.NewEnvironment(true, map[string]string{credentials.EnvAPIKey: "env"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.cfg, tt.env)
			require.Error(t, err)
			assert.Nil(t, m)
			assert.True(t, core.IsConfiguration(err), "expected configuration error, got %v", err)
		})
	}
}

func TestNewManager_FetchModeAllowedInBrowser(t *testing.T) {
	m, err := NewManager(Config{FetchToken: func(context.Context) (string, error) { return "tok", nil }},
		credentials.NewEnvironment(true, nil))
	require.NoError(t, err)
	assert.False(t, m.Static())
}

func TestToken_StaticKey(t *testing.T) {
	m, err := NewManager(Config{APIKey: "sk-static"}, serverEnv)
	require.NoError(t, err)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-static", tok)
	assert.True(t, m.Static())
	assert.Zero(t, m.FetchCount())
}

func TestToken_StaticKeyFromEnvironment(t *testing.T) {
	env := credentials.NewEnvironment(false, map[string]string{credentials.EnvAPIKey: "sk-env"})
	m, err := NewManager(Config{}, env)
	require.NoError(t, err)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-env", tok)
}

func TestToken_FetchIsCached(t *testing.T) {
	var calls atomic.Int32
	m, err := NewManager(Config{FetchToken: func(context.Context) (string, error) {
		calls.Add(1)
		return "tok-1", nil
	}}, serverEnv)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), m.FetchCount())
}

func TestToken_ConcurrentCallersShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	m, err := NewManager(Config{FetchToken: func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared-token", nil
	}}, serverEnv)
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.Token(context.Background())
		}(i)
	}

	// Give the callers time to pile up behind the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", tokens[i])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestToken_FailedFetchIsRetried(t *testing.T) {
	var calls atomic.Int32
	m, err := NewManager(Config{FetchToken: func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("backend down")
		}
		return "tok-2", nil
	}}, serverEnv)
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestToken_EmptyFetchedTokenIsConfigurationError(t *testing.T) {
	m, err := NewManager(Config{FetchToken: func(context.Context) (string, error) { return "", nil }}, serverEnv)
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestToken_CancelledWaiterDoesNotCancelSharedFetch(t *testing.T) {
	release := make(chan struct{})
	m, err := NewManager(Config{FetchToken: func(ctx context.Context) (string, error) {
		<-release
		return "tok", ctx.Err()
	}}, serverEnv)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Token(ctx)
		done <- err
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, int64(1), m.FetchCount())
}
