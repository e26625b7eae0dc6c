package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuacast/internal/core"
)

// streamServer writes each chunk as-is, flushing between them, then holds the
// connection open until the client goes away.
func streamServer(t *testing.T, chunks ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var closed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = fmt.Fprint(w, c)
			flusher.Flush()
		}
		<-r.Context().Done()
		closed.Add(1)
	}))
	t.Cleanup(srv.Close)
	return srv, &closed
}

func TestWait_ResolvesOnSuccessPayload(t *testing.T) {
	srv, _ := streamServer(t,
		": keep-alive\n\n",
		"data: {\"status\":\"processing\"}\n\n",
		"data: [1,2]\n\n",
		"data: \n\n",
		"data: {\"isSuccess\":true,\"llmRequestId\":\"req-1\",\"kind\":\"cast/value\",\"data\":{\"name\":\"Biriyani\"}}\n\n",
	)

	payload, err := Wait(context.Background(), srv.URL, WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, true, payload["isSuccess"])
	assert.Equal(t, "req-1", payload["llmRequestId"])
	assert.Equal(t, map[string]any{"name": "Biriyani"}, payload["data"])
}

func TestWait_MultiLineDataAndNamedEvents(t *testing.T) {
	srv, _ := streamServer(t,
		"event: ping\ndata: {\"isSuccess\":true,\"from\":\"ping\"}\n\n",
		"event: message\r\ndata: {\"isSuccess\":true,\r\ndata: \"from\":\"message\"}\r\n\r\n",
	)

	payload, err := Wait(context.Background(), srv.URL, WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "message", payload["from"])
}

func TestWait_ErrorPayloads(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"with message", `{"isError":true,"error":"LLM provider failed"}`, "LLM provider failed"},
		{"without message", `{"isError":true}`, msgErrorPayload},
		{"non-string message", `{"isError":true,"error":{"code":1}}`, msgErrorPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := streamServer(t, "data: "+tt.data+"\n\n")
			_, err := Wait(context.Background(), srv.URL, WithTimeout(2*time.Second))
			require.Error(t, err)
			assert.True(t, core.IsChannel(err))
			assert.False(t, core.IsTimeout(err))
			assert.Equal(t, tt.wantMsg, core.MessageFromError(err))
		})
	}
}

func TestWait_MalformedPayloadRejects(t *testing.T) {
	srv, _ := streamServer(t, "data: {not json\n\n")
	_, err := Wait(context.Background(), srv.URL, WithTimeout(2*time.Second))
	require.Error(t, err)
	assert.True(t, core.IsChannel(err))
	assert.True(t, strings.HasPrefix(core.MessageFromError(err), "Unable to parse SSE payload"))
}

func TestWait_Timeout(t *testing.T) {
	srv, closed := streamServer(t, "data: {\"status\":\"processing\"}\n\n")

	start := time.Now()
	_, err := Wait(context.Background(), srv.URL, WithTimeout(100*time.Millisecond))
	require.Error(t, err)
	assert.True(t, core.IsTimeout(err))
	assert.True(t, core.IsChannel(err))
	assert.Equal(t, msgTimeout, core.MessageFromError(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 10*time.Millisecond,
		"subscription must be closed after timeout")
}

func TestWait_StreamEndsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"status\":\"processing\"}\n\n")
	}))
	defer srv.Close()

	_, err := Wait(context.Background(), srv.URL, WithTimeout(2*time.Second))
	require.Error(t, err)
	assert.True(t, core.IsChannel(err))
	assert.False(t, core.IsTimeout(err))
	assert.Equal(t, "SSE stream error: stream closed", core.MessageFromError(err))
}

func TestWait_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := Wait(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, core.IsChannel(err))
	assert.Equal(t, "SSE stream error: unexpected status 410 Gone", core.MessageFromError(err))
}

func TestWait_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Wait(context.Background(), url)
	require.Error(t, err)
	assert.True(t, core.IsChannel(err))
	assert.True(t, strings.HasPrefix(core.MessageFromError(err), "SSE stream error: "))
}

func TestWait_ContextCanceled(t *testing.T) {
	srv, closed := streamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Wait(ctx, srv.URL, WithTimeout(5*time.Second))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 10*time.Millisecond)
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func TestWait_SendsHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("X-Trace")
		_, _ = fmt.Fprint(w, "data: {\"isSuccess\":true}\n\n")
	}))
	defer srv.Close()

	_, err := Wait(context.Background(), srv.URL,
		WithTokenSource(staticToken("tok-1")),
		WithHeader("X-Trace", "abc"),
	)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "abc", gotCustom)
}

func TestWait_ObserverSeesOutcome(t *testing.T) {
	srv, _ := streamServer(t, "data: {\"isError\":true}\n\n")

	var calls int
	var observed error
	_, err := Wait(context.Background(), srv.URL, WithObserver(func(err error, d time.Duration) {
		calls++
		observed = err
		assert.Positive(t, d)
	}))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, err, observed)
}

func TestWaiter_StateAndIdempotentCleanup(t *testing.T) {
	srv, _ := streamServer(t, "data: {\"isSuccess\":true}\n\n")

	w := newWaiter(options{
		timeout:    2 * time.Second,
		httpClient: srv.Client(),
		headers:    make(http.Header),
		logger:     discardLogger(),
	})
	assert.Equal(t, StateConnecting, w.currentState())

	_, err := w.run(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, w.currentState())
	assert.Equal(t, "resolved", w.currentState().String())

	w.cleanup()
	w.cleanup()
}

func TestReadEvents(t *testing.T) {
	input := "id: 1\nevent: update\ndata: a\ndata: b\n\n: comment\ndata:c\n\ndata: trailing"
	var got []event
	err := readEvents(strings.NewReader(input), func(ev event) bool {
		got = append(got, ev)
		return true
	})
	assert.ErrorIs(t, err, errStreamClosed)
	assert.Equal(t, []event{{name: "update", data: "a\nb"}, {data: "c"}}, got)
}
