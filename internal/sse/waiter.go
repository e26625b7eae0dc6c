// Package sse waits on a cast's push channel (Server-Sent Events) until the
// service delivers a terminal success or error payload.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"nuacast/internal/core"
	"nuacast/internal/httpclient"
)

// DefaultTimeout bounds a wait when no timeout option is given.
const DefaultTimeout = 30 * time.Second

const (
	msgErrorPayload = "SSE stream returned an error payload"
	msgTimeout      = "Timed out while waiting for SSE result"
	msgStreamError  = "SSE stream error: "
)

// TokenSource supplies a bearer token for the subscription request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type options struct {
	timeout    time.Duration
	httpClient *http.Client
	tokens     TokenSource
	headers    http.Header
	logger     *slog.Logger
	observe    func(err error, d time.Duration)
}

// Option configures a wait.
type Option func(*options)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHTTPClient sets the client used for the subscription. It should not
// have an overall timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTokenSource sends an Authorization bearer header on the subscription.
func WithTokenSource(ts TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

// WithHeader adds a request header to the subscription.
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers.Add(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a callback invoked once with the wait's outcome.
func WithObserver(fn func(err error, d time.Duration)) Option {
	return func(o *options) { o.observe = fn }
}

// Wait subscribes to url and returns the first payload with isSuccess:true,
// decoded as a JSON object.
func Wait(ctx context.Context, url string, opts ...Option) (map[string]any, error) {
	raw, err := WaitRaw(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewChannelError("Unable to parse SSE payload: "+err.Error(), err)
	}
	return payload, nil
}

// WaitRaw is Wait returning the payload bytes, for callers that validate the
// payload against a schema.
//
// Exactly one outcome is produced: the success payload, a channel error
// (error payload, malformed message, transport failure), a timeout error, or
// the context's error. The stream is torn down on every path.
func WaitRaw(ctx context.Context, url string, opts ...Option) (json.RawMessage, error) {
	o := options{
		timeout: DefaultTimeout,
		headers: make(http.Header),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.NewStreamingHTTPClient()
	}

	w := newWaiter(o)
	start := time.Now()
	raw, err := w.run(ctx, url)
	if o.observe != nil {
		o.observe(err, time.Since(start))
	}
	return raw, err
}

// State is the lifecycle position of a wait.
type State int

const (
	StateConnecting State = iota
	StateListening
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type outcome struct {
	raw json.RawMessage
	err error
}

type waiter struct {
	opts options

	mu    sync.Mutex
	state State

	outcomes chan outcome
	done     chan struct{}

	cancel      context.CancelFunc
	timer       *time.Timer
	cleanupOnce sync.Once
}

func newWaiter(o options) *waiter {
	return &waiter{
		opts:     o,
		state:    StateConnecting,
		outcomes: make(chan outcome, 1),
		done:     make(chan struct{}),
	}
}

func (w *waiter) run(ctx context.Context, url string) (json.RawMessage, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.timer = time.NewTimer(w.opts.timeout)
	defer w.cleanup()

	go w.stream(streamCtx, url)

	var res outcome
	select {
	case res = <-w.outcomes:
	case <-w.timer.C:
		res = outcome{err: core.NewTimeoutError(msgTimeout)}
	case <-ctx.Done():
		res = outcome{err: ctx.Err()}
	}

	if res.err != nil {
		w.setState(StateRejected)
		w.opts.logger.Debug("sse wait rejected", "url", url, "error", res.err)
	} else {
		w.setState(StateResolved)
	}
	return res.raw, res.err
}

// cleanup tears the subscription down: it stops the timer, cancels the
// request (closing the body) and waits for the reader goroutine. Safe to call
// more than once.
func (w *waiter) cleanup() {
	w.cleanupOnce.Do(func() {
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.cancel != nil {
			w.cancel()
		}
		<-w.done
	})
}

func (w *waiter) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

func (w *waiter) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// settle offers the outcome; only the first one is kept.
func (w *waiter) settle(o outcome) {
	select {
	case w.outcomes <- o:
	default:
	}
}

func (w *waiter) stream(ctx context.Context, url string) {
	defer close(w.done)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		w.settle(outcome{err: streamError(err.Error(), err)})
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range w.opts.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if w.opts.tokens != nil {
		token, err := w.opts.tokens.Token(ctx)
		if err != nil {
			w.settle(outcome{err: streamError(err.Error(), err)})
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.opts.httpClient.Do(req)
	if err != nil {
		w.settle(outcome{err: streamError(err.Error(), err)})
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.settle(outcome{err: streamError(fmt.Sprintf("unexpected status %s", resp.Status), nil)})
		return
	}

	w.setState(StateListening)
	w.opts.logger.Debug("sse subscribed", "url", url)

	err = readEvents(resp.Body, func(ev event) bool {
		if ev.name != "" && ev.name != "message" {
			return true
		}
		res, terminal := handleMessage(ev.data)
		if terminal {
			w.settle(res)
			return false
		}
		return true
	})
	if err != nil {
		w.settle(outcome{err: streamError(err.Error(), err)})
	}
}

// handleMessage applies the payload rules to one message. It reports whether
// the message ends the wait.
func handleMessage(data string) (outcome, bool) {
	if data == "" {
		return outcome{}, false
	}
	if !gjson.Valid(data) {
		var probe any
		err := json.Unmarshal([]byte(data), &probe)
		return outcome{err: core.NewChannelError("Unable to parse SSE payload: "+errMessage(err), err)}, true
	}

	payload := gjson.Parse(data)
	if !payload.IsObject() {
		return outcome{}, false
	}

	if payload.Get("isError").Type == gjson.True {
		msg := msgErrorPayload
		if e := payload.Get("error"); e.Type == gjson.String {
			msg = e.String()
		}
		return outcome{err: core.NewChannelError(msg, nil)}, true
	}
	if payload.Get("isSuccess").Type == gjson.True {
		return outcome{raw: json.RawMessage(data)}, true
	}
	return outcome{}, false
}

type event struct {
	name string
	data string
}

// errStreamClosed reports a stream that ended before a terminal message.
var errStreamClosed = errors.New("stream closed")

// readEvents parses the event stream and calls fn for every dispatched event
// until fn returns false. Multi-line data fields are joined with "\n".
func readEvents(r io.Reader, fn func(event) bool) error {
	reader := bufio.NewReader(r)

	var (
		name    string
		data    []string
		hasData bool
	)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamClosed
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		// Empty line dispatches the pending event
		if line == "" {
			if hasData {
				if !fn(event{name: name, data: strings.Join(data, "\n")}) {
					return nil
				}
			}
			name, data, hasData = "", nil, false
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
}

func streamError(msg string, err error) error {
	return core.NewChannelError(msgStreamError+msg, err)
}

func errMessage(err error) string {
	if err == nil {
		return "invalid JSON"
	}
	return err.Error()
}
