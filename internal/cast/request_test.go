package cast

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuacast/internal/core"
)

const storedRecord = `{
	"id": "req-1",
	"requestType": "cast/value",
	"llmStatus": "%s",
	"sseStatus": "sent",
	"webhookStatus": "n/a",
	"input": {"prompt": "Extract the food", "data": "\"Biriyani\"", "primaryKey": null},
	"output": {"name": "food", "schema": "{}", "effectiveSchema": "{}"},
	"result": {"food": {"name": "Biriyani", "calories": 650}},
	"error": null,
	"fullPrompt": "Extract the food\n\"Biriyani\"",
	"model": "gpt-4.1-mini",
	"provider": "openai",
	"startedAt": "2025-06-01T10:00:00.000Z",
	"finishedAt": null,
	"createdAt": "2025-06-01T09:59:59.500Z",
	"updatedAt": "2025-06-01T10:00:02Z"
}`

func record(status string) string {
	return strings.Replace(storedRecord, "%s", status, 1)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*core.RequestRecord
	sets int
}

func (m *mapCache) Get(_ context.Context, id string) (*core.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id], nil
}

func (m *mapCache) Set(_ context.Context, r *core.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]*core.RequestRecord)
	}
	m.data[r.ID] = r
	m.sets++
	return nil
}

func TestRequestFetcher_Get(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{"requests/req-1": record("success")}}
	f := NewRequestFetcher(fake, nil, nil)

	rec, err := f.Get(context.Background(), "req-1")
	require.NoError(t, err)

	assert.Equal(t, "req-1", rec.ID)
	assert.Equal(t, core.LLMStatusSuccess, rec.LLMStatus)
	assert.Equal(t, core.DeliverySent, rec.SSEStatus)
	assert.Equal(t, core.DeliveryNotApplicable, rec.WebhookStatus)
	require.NotNil(t, rec.Input.Prompt)
	assert.Nil(t, rec.Input.PrimaryKey)
	assert.Contains(t, rec.Result, "food")
	assert.Nil(t, rec.Error)
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.FinishedAt)
	assert.Equal(t, 2025, rec.CreatedAt.Year())

	require.Len(t, fake.calls, 1)
	assert.Equal(t, http.MethodGet, fake.calls[0].method)
	assert.Equal(t, "null", string(fake.calls[0].body))
}

func TestRequestFetcher_EscapesID(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{}}
	f := NewRequestFetcher(fake, nil, nil)
	_, _ = f.Get(context.Background(), "a/b c")
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "requests/a%2Fb%20c", fake.calls[0].path)
}

func TestRequestFetcher_Unparsable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown status", record("exploded")},
		{"bad timestamp", strings.Replace(record("success"), `"2025-06-01T10:00:02Z"`, `"yesterday"`, 1)},
		{"missing model", strings.Replace(record("success"), `"model": "gpt-4.1-mini",`, "", 1)},
		{"not an object", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRequester{responses: map[string]string{"requests/req-1": tt.body}}
			_, err := NewRequestFetcher(fake, nil, nil).Get(context.Background(), "req-1")
			require.Error(t, err)
			assert.True(t, core.IsInternal(err))
			assert.Equal(t, StoredResultUnparsable, core.MessageFromError(err))
		})
	}
}

func TestRequestFetcher_TransportErrorsPassThrough(t *testing.T) {
	notFound := core.NewTransportError(http.StatusNotFound, "Request not found", nil)
	_, err := NewRequestFetcher(&fakeRequester{err: notFound}, nil, nil).Get(context.Background(), "req-1")
	assert.True(t, errors.Is(err, notFound))
}

func TestRequestFetcher_CachesTerminalRecords(t *testing.T) {
	cache := &mapCache{}

	pending := &fakeRequester{responses: map[string]string{"requests/req-1": record("processing")}}
	_, err := NewRequestFetcher(pending, cache, nil).Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Zero(t, cache.sets, "non-terminal records are not cached")

	done := &fakeRequester{responses: map[string]string{"requests/req-1": record("failed")}}
	f := NewRequestFetcher(done, cache, nil)
	_, err = f.Get(context.Background(), "req-1")
	require.NoError(t, err)
	rec, err := f.Get(context.Background(), "req-1")
	require.NoError(t, err)

	assert.Equal(t, core.LLMStatusFailed, rec.LLMStatus)
	assert.Equal(t, 1, cache.sets)
	assert.Len(t, done.calls, 1, "second read is served from cache")
}
