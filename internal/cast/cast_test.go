package cast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuacast/internal/core"
	"nuacast/internal/schema"
)

type call struct {
	method string
	path   string
	body   json.RawMessage
}

// fakeRequester replays canned responses and records what was sent.
type fakeRequester struct {
	mu        sync.Mutex
	calls     []call
	responses map[string]string
	err       error
}

func (f *fakeRequester) Request(_ context.Context, method, path string, body any) (json.RawMessage, error) {
	encoded, _ := json.Marshal(body)
	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, path: path, body: encoded})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.responses[path]), nil
}

type food struct {
	Name     string `json:"name"`
	Calories int    `json:"calories"`
}

type sentiment struct {
	Label string `json:"label"`
}

func foodDef() Definition[food] {
	return Definition[food]{
		Prompt: "Extract the food and its calories",
		Output: Output[food]{Name: "food", Schema: schema.For[food]()},
	}
}

func sentimentDef() Definition[sentiment] {
	return Definition[sentiment]{
		Prompt: "Classify the sentiment of the review",
		Output: Output[sentiment]{Name: "sentiment", Schema: schema.For[sentiment]()},
	}
}

func TestNewValueCaster_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		client Requester
		def    Definition[food]
	}{
		{"nil client", nil, foodDef()},
		{"no output name", &fakeRequester{}, Definition[food]{Output: Output[food]{Schema: schema.For[food]()}}},
		{"no schema", &fakeRequester{}, Definition[food]{Output: Output[food]{Name: "food"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValueCaster(tt.client, tt.def, Options{})
			assert.True(t, core.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestValueCaster_Now_Biriyani(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/value/now": `{
			"llmRequestId": "llm-1",
			"kind": "cast/value",
			"data": {"name": "Biriyani", "calories": 650},
			"isCacheHit": false,
			"isSuccess": true,
			"usage": {"promptTokens": 120, "completionTokens": 30, "totalTokens": 150}
		}`,
	}}

	var completed []Completion
	c, err := NewValueCaster(fake, foodDef(), Options{OnComplete: func(c Completion) { completed = append(completed, c) }})
	require.NoError(t, err)

	res, err := c.Now(context.Background(), "I had a plate of Biriyani for lunch")
	require.NoError(t, err)

	assert.Equal(t, "llm-1", res.RequestID)
	assert.Equal(t, core.KindValue, res.Kind)
	assert.Equal(t, food{Name: "Biriyani", Calories: 650}, res.Data)
	assert.False(t, res.IsCacheHit)
	assert.True(t, res.Usage.Consistent())
	assert.Equal(t, 150, res.Usage.TotalTokens)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, http.MethodPost, fake.calls[0].method)

	var body struct {
		Input struct {
			Prompt string `json:"prompt"`
			Data   string `json:"data"`
		} `json:"input"`
		Output struct {
			Schema map[string]any `json:"schema"`
			Name   string         `json:"name"`
		} `json:"output"`
	}
	require.NoError(t, json.Unmarshal(fake.calls[0].body, &body))
	assert.Equal(t, "Extract the food and its calories", body.Input.Prompt)
	assert.Equal(t, "I had a plate of Biriyani for lunch", body.Input.Data)
	assert.Equal(t, "food", body.Output.Name)
	assert.Equal(t, "object", body.Output.Schema["type"])
	assert.NotContains(t, string(fake.calls[0].body), "primaryKey")

	require.Len(t, completed, 1)
	assert.Equal(t, "llm-1", completed[0].RequestID)
	assert.Equal(t, "food", completed[0].OutputName)
	assert.NotEmpty(t, completed[0].Fingerprint)
}

func TestValueCaster_Now_SchemaMismatch(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/value/now": `{
			"llmRequestId": "llm-1",
			"kind": "cast/array",
			"data": {"name": 7},
			"isCacheHit": "no",
			"usage": {"promptTokens": 1, "completionTokens": 1, "totalTokens": 3},
			"surprise": true
		}`,
	}}
	c, err := NewValueCaster(fake, foodDef(), Options{})
	require.NoError(t, err)

	_, err = c.Now(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, core.IsSchemaMismatch(err))

	msg := core.MessageFromError(err)
	assert.Contains(t, msg, "Invalid data received from Nuabase API: ")
	assert.Contains(t, msg, "→ at kind")
	assert.Contains(t, msg, "→ at data.name")
	assert.Contains(t, msg, "→ at data.calories")
	assert.Contains(t, msg, "→ at isCacheHit")
	assert.Contains(t, msg, "→ at usage.totalTokens")
	assert.Contains(t, msg, `Unrecognized key: "surprise"`)
}

func TestValueCaster_Now_EnvelopeFlags(t *testing.T) {
	base := `"llmRequestId":"a","kind":"cast/value","data":{"name":"x","calories":1},"isCacheHit":true,"usage":{"promptTokens":1,"completionTokens":1,"totalTokens":2}`
	tests := []struct {
		name    string
		extra   string
		wantErr bool
	}{
		{"no flags", "", false},
		{"success flag", `,"isSuccess":true`, false},
		{"error flag false", `,"isError":false`, false},
		{"success flag false", `,"isSuccess":false`, true},
		{"error flag true", `,"isError":true`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRequester{responses: map[string]string{"cast/value/now": "{" + base + tt.extra + "}"}}
			c, err := NewValueCaster(fake, foodDef(), Options{})
			require.NoError(t, err)
			res, err := c.Now(context.Background(), "x")
			if tt.wantErr {
				assert.True(t, core.IsSchemaMismatch(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.IsCacheHit)
		})
	}
}

func TestValueCaster_Now_MissingUsage(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/value/now": `{"llmRequestId":"a","kind":"cast/value","data":{"name":"x","calories":1},"isCacheHit":false}`,
	}}
	c, err := NewValueCaster(fake, foodDef(), Options{})
	require.NoError(t, err)
	_, err = c.Now(context.Background(), "x")
	assert.True(t, core.IsSchemaMismatch(err))
	assert.Contains(t, core.MessageFromError(err), "→ at usage")
}

func TestValueCaster_TransportErrorPassesThrough(t *testing.T) {
	transportErr := core.NewTransportError(http.StatusUnauthorized, "Invalid API key", nil)
	c, err := NewValueCaster(&fakeRequester{err: transportErr}, foodDef(), Options{})
	require.NoError(t, err)

	_, err = c.Now(context.Background(), "x")
	assert.True(t, errors.Is(err, transportErr))

	_, err = c.Queue(context.Background(), "x")
	assert.True(t, errors.Is(err, transportErr))
}

func TestValueCaster_Queue(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantChannel string
		wantErr     bool
	}{
		{"sseUrl", `{"id":"req-1","sseUrl":"https://sse.example/req-1"}`, "https://sse.example/req-1", false},
		{"channelUrl alias", `{"id":"req-1","channelUrl":"https://sse.example/req-1"}`, "https://sse.example/req-1", false},
		{"missing url", `{"id":"req-1"}`, "", true},
		{"empty url", `{"id":"req-1","sseUrl":""}`, "", true},
		{"extra key", `{"id":"req-1","sseUrl":"u","status":"queued"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRequester{responses: map[string]string{"cast/value": tt.response}}
			c, err := NewValueCaster(fake, foodDef(), Options{})
			require.NoError(t, err)

			q, err := c.Queue(context.Background(), map[string]string{"text": "hi"})
			if tt.wantErr {
				assert.True(t, core.IsSchemaMismatch(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "req-1", q.RequestID)
			assert.Equal(t, tt.wantChannel, q.ChannelURL)
			assert.Equal(t, "cast/value", fake.calls[0].path)
		})
	}
}

func TestValueCaster_DecodePushedPayload(t *testing.T) {
	c, err := NewValueCaster(&fakeRequester{}, foodDef(), Options{})
	require.NoError(t, err)

	res, err := c.Decode([]byte(`{"isSuccess":true,"llmRequestId":"req-9","kind":"cast/value","data":{"name":"Dal","calories":300},"sseStatus":"sent"}`))
	require.NoError(t, err)
	assert.Equal(t, "req-9", res.RequestID)
	assert.Equal(t, "Dal", res.Data.Name)
	assert.False(t, res.HasUsage)

	_, err = c.Decode([]byte(`{"llmRequestId":"req-9","kind":"cast/value","data":{"name":"Dal","calories":300}}`))
	assert.True(t, core.IsSchemaMismatch(err), "pushed payloads must carry isSuccess")
}

func TestFingerprint_Stable(t *testing.T) {
	doc := map[string]any{"type": "object", "properties": map[string]any{"a": 1, "b": 2}}
	a := Fingerprint("p", "out", doc)
	b := Fingerprint("p", "out", map[string]any{"properties": map[string]any{"b": 2, "a": 1}, "type": "object"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint("p2", "out", doc))
	assert.NotEqual(t, Fingerprint("ab", "c", doc), Fingerprint("a", "bc", doc))
}

func TestValueCaster_Settle(t *testing.T) {
	var completed []Completion
	c, err := NewValueCaster(&fakeRequester{}, foodDef(), Options{OnComplete: func(done Completion) { completed = append(completed, done) }})
	require.NoError(t, err)

	queued := &core.QueuedResponse{RequestID: "req-9", ChannelURL: "https://sse.example/req-9"}
	payload := []byte(`{"isSuccess":true,"llmRequestId":"req-9","kind":"cast/value","data":{"name":"Dal","calories":300},"isCacheHit":true,"usage":{"promptTokens":3,"completionTokens":2,"totalTokens":5}}`)

	res, err := c.Settle(queued, payload)
	require.NoError(t, err)
	assert.Equal(t, "Dal", res.Data.Name)
	require.Len(t, completed, 1)
	assert.Equal(t, "req-9", completed[0].RequestID)
	assert.Equal(t, "food", completed[0].OutputName)
	assert.Equal(t, c.Fingerprint(), completed[0].Fingerprint)
	assert.Equal(t, 1, completed[0].CacheHits)

	other := &core.QueuedResponse{RequestID: "req-10", ChannelURL: "https://sse.example/req-10"}
	_, err = c.Settle(other, payload)
	require.Error(t, err)
	assert.True(t, core.IsSchemaMismatch(err))
	assert.Contains(t, core.MessageFromError(err), `llmRequestId "req-9" does not match queued request "req-10"`)
	assert.Len(t, completed, 1, "a rejected result is not reported")
}

func TestValueCaster_SettleWithoutUsage(t *testing.T) {
	called := false
	c, err := NewValueCaster(&fakeRequester{}, foodDef(), Options{OnComplete: func(Completion) { called = true }})
	require.NoError(t, err)

	_, err = c.Settle(&core.QueuedResponse{RequestID: "req-9"},
		[]byte(`{"isSuccess":true,"llmRequestId":"req-9","kind":"cast/value","data":{"name":"Dal","calories":300}}`))
	require.NoError(t, err)
	assert.False(t, called)
}
