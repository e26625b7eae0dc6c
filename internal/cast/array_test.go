package cast

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuacast/internal/core"
)

func reviewRows() []Row {
	return []Row{
		{"id": 1, "review": "Loved it"},
		{"id": 2, "review": "Terrible service"},
		{"id": "c-3", "review": "It was fine"},
	}
}

func TestArrayCaster_Now_ReconcilesRows(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/array/now": `{
			"llmRequestId": "llm-arr",
			"kind": "cast/array",
			"data": [
				{"id": "c-3", "sentiment": {"label": "neutral"}},
				{"id": 1, "sentiment": {"label": "positive"}}
			],
			"cacheHits": 1,
			"rowsWithNoResults": ["2"],
			"usage": {"promptTokens": 200, "completionTokens": 40, "totalTokens": 240}
		}`,
	}}

	var completed Completion
	c, err := NewArrayCaster(fake, sentimentDef(), Options{OnComplete: func(c Completion) { completed = c }})
	require.NoError(t, err)

	rows := reviewRows()
	res, err := c.Now(context.Background(), rows, "id")
	require.NoError(t, err)

	assert.Equal(t, "llm-arr", res.RequestID)
	assert.Equal(t, core.KindArray, res.Kind)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, []string{"2"}, res.RowsWithNoResults)
	require.Len(t, res.Rows, 2)

	assert.Equal(t, "c-3", res.Rows[0].Key)
	assert.Equal(t, "neutral", res.Rows[0].Value.Label)
	assert.Equal(t, rows[2], res.Rows[0].SourceRow)

	assert.Equal(t, 1, res.Rows[1].Key)
	assert.Equal(t, "positive", res.Rows[1].Value.Label)
	assert.Equal(t, rows[0], res.Rows[1].SourceRow)

	var body struct {
		Input struct {
			Data       []map[string]any `json:"data"`
			PrimaryKey string           `json:"primaryKey"`
		} `json:"input"`
	}
	require.NoError(t, json.Unmarshal(fake.calls[0].body, &body))
	assert.Equal(t, "id", body.Input.PrimaryKey)
	assert.Len(t, body.Input.Data, 3)

	assert.Equal(t, core.KindArray, completed.Kind)
	assert.Equal(t, 3, completed.Rows)
	assert.Equal(t, 1, completed.RowsWithNoResults)
}

func TestArrayCaster_Now_UnknownKeyFailsLoudly(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/array/now": `{
			"llmRequestId": "llm-arr",
			"kind": "cast/array",
			"data": [{"id": 99, "sentiment": {"label": "positive"}}],
			"cacheHits": 0,
			"rowsWithNoResults": [],
			"usage": {"promptTokens": 1, "completionTokens": 1, "totalTokens": 2}
		}`,
	}}
	c, err := NewArrayCaster(fake, sentimentDef(), Options{})
	require.NoError(t, err)

	_, err = c.Now(context.Background(), reviewRows(), "id")
	require.Error(t, err)
	assert.True(t, core.IsSchemaMismatch(err))
	assert.Contains(t, core.MessageFromError(err), "data[0].id 99 does not match any input row")
}

func TestArrayCaster_Now_LargeIntegerKeys(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/array/now": `{
			"llmRequestId": "llm-arr",
			"kind": "cast/array",
			"data": [
				{"id": 9007199254740992, "sentiment": {"label": "negative"}},
				{"id": 9007199254740993, "sentiment": {"label": "positive"}}
			],
			"cacheHits": 0,
			"rowsWithNoResults": [],
			"usage": {"promptTokens": 1, "completionTokens": 1, "totalTokens": 2}
		}`,
	}}
	c, err := NewArrayCaster(fake, sentimentDef(), Options{})
	require.NoError(t, err)

	rows := []Row{
		{"id": int64(9007199254740993), "review": "Loved it"},
		{"id": int64(9007199254740992), "review": "Terrible service"},
	}
	res, err := c.Now(context.Background(), rows, "id")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, rows[1], res.Rows[0].SourceRow)
	assert.Equal(t, "negative", res.Rows[0].Value.Label)
	assert.Equal(t, rows[0], res.Rows[1].SourceRow)
	assert.Equal(t, "positive", res.Rows[1].Value.Label)
}

func TestArrayCaster_Now_StrictRows(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{
		"cast/array/now": `{
			"llmRequestId": "llm-arr",
			"kind": "cast/array",
			"data": [
				{"id": 1, "sentiment": {"label": "positive"}, "confidence": 0.9},
				{"sentiment": {"label": 5}}
			],
			"cacheHits": 0,
			"rowsWithNoResults": [],
			"usage": {"promptTokens": 1, "completionTokens": 1, "totalTokens": 2}
		}`,
	}}
	c, err := NewArrayCaster(fake, sentimentDef(), Options{})
	require.NoError(t, err)

	_, err = c.Now(context.Background(), reviewRows(), "id")
	require.Error(t, err)
	msg := core.MessageFromError(err)
	assert.Contains(t, msg, `Unrecognized key: "confidence"`)
	assert.Contains(t, msg, "→ at data[0]")
	assert.Contains(t, msg, "→ at data[1].id")
	assert.Contains(t, msg, "→ at data[1].sentiment.label")
}

func TestArrayCaster_PreconditionsFailBeforeRequest(t *testing.T) {
	tests := []struct {
		name       string
		rows       []Row
		primaryKey string
		wantMsg    string
	}{
		{"empty primary key", reviewRows(), "", "`primaryKeyName` must be a non-empty string."},
		{"nil row", []Row{{"id": 1}, nil}, "id", "data[1] must be a non-null object."},
		{"missing key", []Row{{"id": 1}, {"review": "no id"}}, "id", "data[1] must contain property 'id'."},
		{"bad key type", []Row{{"id": []int{1}}}, "id", "data[0].id must be a string or number."},
		{"duplicate key", []Row{{"id": 1}, {"id": 1.0}}, "id", "data[1].id repeats the primary key of data[0]."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRequester{}
			c, err := NewArrayCaster(fake, sentimentDef(), Options{})
			require.NoError(t, err)

			_, err = c.Now(context.Background(), tt.rows, tt.primaryKey)
			require.Error(t, err)
			assert.True(t, core.IsValidation(err))
			assert.Equal(t, tt.wantMsg, core.MessageFromError(err))

			_, err = c.Queue(context.Background(), tt.rows, tt.primaryKey)
			assert.True(t, core.IsValidation(err))

			assert.Empty(t, fake.calls, "no request may be sent for invalid rows")
		})
	}
}

func TestArrayCaster_Queue(t *testing.T) {
	fake := &fakeRequester{responses: map[string]string{"cast/array": `{"id":"req-a","sseUrl":"https://sse.example/req-a"}`}}
	c, err := NewArrayCaster(fake, sentimentDef(), Options{})
	require.NoError(t, err)

	q, err := c.Queue(context.Background(), nil, "id")
	require.NoError(t, err)
	assert.Equal(t, "req-a", q.RequestID)
	assert.Contains(t, string(fake.calls[0].body), `"data":[]`)
}

func TestArrayCaster_DecodePushedPayload(t *testing.T) {
	c, err := NewArrayCaster(&fakeRequester{}, sentimentDef(), Options{})
	require.NoError(t, err)

	rows := reviewRows()
	res, err := c.Decode([]byte(`{"isSuccess":true,"llmRequestId":"req-a","kind":"cast/array","data":[{"id":2,"sentiment":{"label":"negative"}}]}`), rows, "id")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, rows[1], res.Rows[0].SourceRow)
	assert.Empty(t, res.RowsWithNoResults)
}

func TestArrayCaster_Settle(t *testing.T) {
	var completed []Completion
	c, err := NewArrayCaster(&fakeRequester{}, sentimentDef(), Options{OnComplete: func(done Completion) { completed = append(completed, done) }})
	require.NoError(t, err)

	rows := reviewRows()
	payload := []byte(`{"isSuccess":true,"llmRequestId":"req-a","kind":"cast/array","data":[{"id":2,"sentiment":{"label":"negative"}}],"cacheHits":0,"rowsWithNoResults":["1","c-3"],"usage":{"promptTokens":3,"completionTokens":2,"totalTokens":5}}`)

	res, err := c.Settle(&core.QueuedResponse{RequestID: "req-a"}, payload, rows, "id")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, rows[1], res.Rows[0].SourceRow)
	require.Len(t, completed, 1)
	assert.Equal(t, 3, completed[0].Rows)
	assert.Equal(t, 2, completed[0].RowsWithNoResults)
	assert.Equal(t, c.Fingerprint(), completed[0].Fingerprint)

	_, err = c.Settle(&core.QueuedResponse{RequestID: "req-b"}, payload, rows, "id")
	require.Error(t, err)
	assert.True(t, core.IsSchemaMismatch(err))
	assert.Len(t, completed, 1)
}
