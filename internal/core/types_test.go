package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestLLMStatus_Terminal(t *testing.T) {
	tests := []struct {
		status LLMStatus
		want   bool
	}{
		{LLMStatusPending, false},
		{LLMStatusProcessing, false},
		{LLMStatusSuccess, true},
		{LLMStatusFailed, true},
		{LLMStatus("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("%q.Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestQueuedResponse_WireNames(t *testing.T) {
	b, err := json.Marshal(QueuedResponse{RequestID: "req_1", ChannelURL: "https://example.test/sse/req_1"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"id":"req_1","sseUrl":"https://example.test/sse/req_1"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestRequestRecord_Decode(t *testing.T) {
	raw := `{
		"id": "req_1",
		"requestType": "cast/value",
		"llmStatus": "success",
		"sseStatus": "sent",
		"webhookStatus": "n/a",
		"input": {"prompt": "Extract", "data": "\"Biriyani\"", "primaryKey": null},
		"output": {"name": "dish", "schema": "{}", "effectiveSchema": "{}"},
		"result": {"data": {"calories": 450}},
		"error": null,
		"fullPrompt": "Extract",
		"model": "m",
		"provider": "p",
		"startedAt": "2026-01-02T03:04:05Z",
		"finishedAt": null,
		"createdAt": "2026-01-02T03:04:00Z",
		"updatedAt": "2026-01-02T03:04:06Z"
	}`

	var rec RequestRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rec.LLMStatus != LLMStatusSuccess || rec.SSEStatus != DeliverySent || rec.WebhookStatus != DeliveryNotApplicable {
		t.Errorf("statuses = %q/%q/%q", rec.LLMStatus, rec.SSEStatus, rec.WebhookStatus)
	}
	if rec.Input.PrimaryKey != nil {
		t.Errorf("PrimaryKey = %v, want nil", *rec.Input.PrimaryKey)
	}
	if rec.Input.Prompt == nil || *rec.Input.Prompt != "Extract" {
		t.Errorf("Prompt = %v", rec.Input.Prompt)
	}
	if rec.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", rec.FinishedAt)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("StartedAt = %v", rec.StartedAt)
	}
	if string(rec.Result["data"]) != `{"calories": 450}` {
		t.Errorf("Result[data] = %s", rec.Result["data"])
	}
}
