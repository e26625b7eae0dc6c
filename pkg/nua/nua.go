// Package nua is the typed client for the Nuabase cast service.
//
// A Client holds the credential, the HTTP transport and the optional record
// cache, usage recorder and metrics. Casters are built from a Client and a
// Definition:
//
//	client, err := nua.New(nua.Config{APIKey: key})
//	foods, err := nua.NewValueCaster(client, nua.Definition[Food]{
//		Prompt: "Extract the food and estimate its calories",
//		Output: nua.Output[Food]{Name: "food", Schema: nua.SchemaFor[Food]()},
//	})
//	res, err := foods.Now(ctx, "Biriyani")
package nua

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nuacast/internal/auth"
	"nuacast/internal/cast"
	"nuacast/internal/core"
	"nuacast/internal/credentials"
	"nuacast/internal/observability"
	"nuacast/internal/schema"
	"nuacast/internal/sse"
	"nuacast/internal/transport"
)

// DefaultBaseURL is used when neither Config.BaseURL nor NUABASE_BASE_URL is set.
const DefaultBaseURL = transport.DefaultBaseURL

type (
	// Error is the single error type returned by every operation.
	Error = core.Error
	// ErrorType classifies an Error.
	ErrorType = core.ErrorType
	// Kind identifies a cast operation.
	Kind = core.Kind
	// Usage is the token usage reported for a cast.
	Usage = core.Usage
	// QueuedResponse is the handle of a queued cast.
	QueuedResponse = core.QueuedResponse
	// RequestRecord is the stored metadata of a cast request.
	RequestRecord = core.RequestRecord
	// Row is one input row of an array cast.
	Row = cast.Row
	// Completion summarises a finished cast.
	Completion = cast.Completion
	// TokenFunc fetches a bearer token.
	TokenFunc = auth.TokenFunc
	// Environment is a snapshot of the process environment.
	Environment = credentials.Environment
	// Metrics collects Prometheus metrics for a Client.
	Metrics = observability.Metrics
	// RecordCache stores terminal request records.
	RecordCache = cast.RecordCache
	// Issues lists schema validation failures.
	Issues = schema.Issues
)

// Generic aliases for cast definitions and results.
type (
	Schema[T any]      = schema.Schema[T]
	Output[T any]      = cast.Output[T]
	Definition[T any]  = cast.Definition[T]
	ValueResult[T any] = cast.ValueResult[T]
	ArrayResult[T any] = cast.ArrayResult[T]
	ArrayRow[T any]    = cast.ArrayRow[T]
)

const (
	KindValue = core.KindValue
	KindArray = core.KindArray
)

// SchemaFor derives the output schema of T from its Go type.
func SchemaFor[T any]() Schema[T] {
	return schema.For[T]()
}

// SchemaFromDocument builds an output schema from a JSON Schema document for
// outputs whose shape is only known at run time.
func SchemaFromDocument(doc map[string]any) Schema[any] {
	return schema.FromDocument(doc)
}

// RowsFrom converts a slice of structs or maps into rows.
func RowsFrom(v any) ([]Row, error) {
	return cast.RowsFrom(v)
}

// NewMetrics registers the client metrics with reg (nil uses the default registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return observability.NewMetrics(reg)
}

// UsageRecorder receives a Completion for every validated cast result.
type UsageRecorder interface {
	Record(c Completion)
}

// Config holds the client configuration. Exactly one of APIKey and FetchToken
// may be set; with neither, NUABASE_API_KEY is used when running server-side.
type Config struct {
	APIKey     string
	FetchToken TokenFunc

	// BaseURL falls back to NUABASE_BASE_URL, then DefaultBaseURL.
	BaseURL string

	// HTTPClient is used for API requests; StreamClient for push channel
	// subscriptions. Both default to tuned clients.
	HTTPClient   *http.Client
	StreamClient *http.Client

	// RateLimit caps outgoing requests per second (0 = unlimited)
	RateLimit float64
	Burst     int

	// WaitTimeout bounds Wait (default: 30s)
	WaitTimeout time.Duration

	Cache   RecordCache
	Usage   UsageRecorder
	Metrics *Metrics
	Logger  *slog.Logger

	// Environment overrides the process environment snapshot.
	Environment *Environment
}

// Client is safe for concurrent use.
type Client struct {
	tokens      *auth.Manager
	transport   *transport.Client
	fetcher     *cast.RequestFetcher
	stream      *http.Client
	waitTimeout time.Duration
	usage       UsageRecorder
	metrics     *Metrics
	logger      *slog.Logger
}

// New validates the configuration and returns a Client. Invalid credential
// combinations fail with a configuration error.
func New(cfg Config) (*Client, error) {
	env := credentials.Snapshot()
	if cfg.Environment != nil {
		env = *cfg.Environment
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := auth.NewManager(auth.Config{APIKey: cfg.APIKey, FetchToken: cfg.FetchToken}, env)
	if err != nil {
		return nil, err
	}

	baseURL, ok := credentials.Resolve(cfg.BaseURL, credentials.EnvBaseURL, env)
	if !ok {
		baseURL = DefaultBaseURL
	}

	var observer transport.Observer
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}
	tc, err := transport.New(transport.Config{
		BaseURL:    baseURL,
		Tokens:     tokens,
		HTTPClient: cfg.HTTPClient,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
		Observer:   observer,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = sse.DefaultTimeout
	}

	return &Client{
		tokens:      tokens,
		transport:   tc,
		fetcher:     cast.NewRequestFetcher(tc, cfg.Cache, logger),
		stream:      cfg.StreamClient,
		waitTimeout: waitTimeout,
		usage:       cfg.Usage,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// BaseURL returns the API base URL in use.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL()
}

// Token returns the bearer token the client sends.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// Request sends a raw authenticated API request. Casters use it; it is
// exported for endpoints the typed API does not cover.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	return c.transport.Request(ctx, method, path, body)
}

// GetRequest fetches the stored record of a cast request.
func (c *Client) GetRequest(ctx context.Context, id string) (*RequestRecord, error) {
	return c.fetcher.Get(ctx, id)
}

// WaitOption adjusts a single Wait.
type WaitOption func(*waitOptions)

type waitOptions struct {
	timeout time.Duration
	headers map[string]string
}

// WithWaitTimeout overrides Config.WaitTimeout for one wait.
func WithWaitTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// WithWaitHeader adds a header to the subscription request.
func WithWaitHeader(key, value string) WaitOption {
	return func(o *waitOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// Wait subscribes to a queued cast's channel URL and returns the success
// payload. The subscription carries the client's bearer token.
func (c *Client) Wait(ctx context.Context, channelURL string, opts ...WaitOption) (map[string]any, error) {
	raw, err := c.WaitRaw(ctx, channelURL, opts...)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewChannelError("Unable to parse SSE payload: "+err.Error(), err)
	}
	return payload, nil
}

// WaitRaw is Wait returning the payload bytes.
func (c *Client) WaitRaw(ctx context.Context, channelURL string, opts ...WaitOption) (json.RawMessage, error) {
	o := waitOptions{timeout: c.waitTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	sseOpts := []sse.Option{
		sse.WithTimeout(o.timeout),
		sse.WithTokenSource(c.tokens),
		sse.WithHTTPClient(c.stream),
		sse.WithLogger(c.logger),
		sse.WithObserver(c.metrics.ObserveWait),
	}
	for k, v := range o.headers {
		sseOpts = append(sseOpts, sse.WithHeader(k, v))
	}
	return sse.WaitRaw(ctx, channelURL, sseOpts...)
}

// complete is the OnComplete hook shared by every caster of this client.
func (c *Client) complete(done Completion) {
	c.metrics.ObserveUsage(done.Kind, done.Usage, done.CacheHits)
	if c.usage != nil {
		c.usage.Record(done)
	}
}

func (c *Client) castOptions() cast.Options {
	return cast.Options{Logger: c.logger, OnComplete: c.complete}
}
