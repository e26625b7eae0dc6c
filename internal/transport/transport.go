// Package transport performs authenticated JSON requests against the cast API
// and normalises every failure into a *core.Error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"nuacast/internal/core"
	"nuacast/internal/httpclient"
	"nuacast/internal/version"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.nuabase.com"

// RequestIDHeader carries the id attached with core.WithRequestID, or a fresh
// one, for correlating client and service logs.
const RequestIDHeader = "X-Request-ID"

// TokenSource supplies the bearer token for a request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Observer receives one callback per completed exchange.
// status is 0 when the request failed before a response arrived.
type Observer interface {
	ObserveRequest(method, path string, status int, d time.Duration)
}

// Config holds configuration for the transport client
type Config struct {
	// BaseURL is the API base URL (default: DefaultBaseURL)
	BaseURL string

	// Tokens provides the Authorization bearer token. Required.
	Tokens TokenSource

	// HTTPClient overrides the default tuned client
	HTTPClient *http.Client

	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit float64
	// Burst is the limiter bucket size (default: 1)
	Burst int

	Observer Observer
	Logger   *slog.Logger
}

// Client is an authenticated JSON client for the cast API.
// It never retries.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	observer   Observer
	logger     *slog.Logger
}

// New creates a transport client. It fails with a configuration error when no
// token source is given.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, core.NewConfigurationError("transport requires a token source")
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.NewDefaultHTTPClient()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token exposes the bearer token so push channel subscriptions can reuse it.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, body)
}

// Request sends method to baseURL/path and returns the parsed JSON body of a
// 2xx response. body is JSON encoded when non-nil and the method is not GET.
//
// Token acquisition failures that are already *core.Error values are returned
// as is; anything else becomes a transport error.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			return nil, err
		}
		return nil, core.NewTransportError(0, "Error calling Nuabase API: "+err.Error(), err)
	}

	req, err := c.buildRequest(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, core.NewTransportError(0, "Error calling Nuabase API: "+err.Error(), err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, path, 0, start)
		c.logger.Debug("nuabase request failed", "method", method, "path", path, "error", err)
		return nil, core.NewTransportError(0, "Error calling Nuabase API: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := readBody(resp)
	c.observe(method, path, resp.StatusCode, start)
	if err != nil {
		return nil, core.NewTransportError(resp.StatusCode, "Error calling Nuabase API: "+err.Error(), err)
	}

	c.logger.Debug("nuabase request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewTransportError(resp.StatusCode, errorMessage(path, resp, raw), nil)
	}

	if !json.Valid(raw) {
		return nil, core.NewTransportError(resp.StatusCode,
			"Invalid response received from Nuabase API call, unable to parse", nil)
	}
	return json.RawMessage(raw), nil
}

func (c *Client) buildRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var bodyReader io.Reader
	withBody := body != nil && method != http.MethodGet
	if withBody {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, core.NewValidationError("failed to encode request body: " + err.Error())
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, core.NewTransportError(0, "Error calling Nuabase API: "+err.Error(), err)
	}

	if withBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, gzip")
	req.Header.Set("Authorization", "Bearer "+token)
	requestID := core.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

func (c *Client) observe(method, path string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(method, path, status, time.Since(start))
	}
}

// errorMessage derives the message for a non-2xx response: the body's string
// "error" field, else the trimmed body text, else a status line.
func errorMessage(path string, resp *http.Response, raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		msg := fmt.Sprintf("Request to %s failed with status %d", path, resp.StatusCode)
		if statusText := http.StatusText(resp.StatusCode); statusText != "" {
			msg += " " + statusText
		}
		return msg
	}

	if gjson.Valid(text) {
		if field := gjson.Get(text, "error"); field.Type == gjson.String {
			return field.String()
		}
	}
	return text
}
