package core

import (
	"encoding/json"
	"time"
)

// Kind identifies the cast operation that produced a result.
type Kind string

const (
	KindValue Kind = "cast/value"
	KindArray Kind = "cast/array"
)

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Consistent reports whether TotalTokens equals PromptTokens + CompletionTokens.
func (u Usage) Consistent() bool {
	return u.TotalTokens == u.PromptTokens+u.CompletionTokens
}

// QueuedResponse is returned when a cast was accepted for asynchronous processing.
// The result is delivered later on ChannelURL.
type QueuedResponse struct {
	RequestID  string `json:"id"`
	ChannelURL string `json:"sseUrl"`
}

// LLMStatus is the processing status of a stored request.
type LLMStatus string

const (
	LLMStatusPending    LLMStatus = "pending"
	LLMStatusProcessing LLMStatus = "processing"
	LLMStatusSuccess    LLMStatus = "success"
	LLMStatusFailed     LLMStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s LLMStatus) Terminal() bool {
	return s == LLMStatusSuccess || s == LLMStatusFailed
}

// DeliveryStatus is the delivery status of a push channel or webhook notification.
type DeliveryStatus string

const (
	DeliveryNotApplicable DeliveryStatus = "n/a"
	DeliveryPending       DeliveryStatus = "pending"
	DeliverySent          DeliveryStatus = "sent"
	DeliveryFailed        DeliveryStatus = "failed"
)

// RequestInput echoes the input of a stored request.
type RequestInput struct {
	Prompt     *string `json:"prompt"`
	Data       *string `json:"data"`
	PrimaryKey *string `json:"primaryKey"`
}

// RequestOutput echoes the output definition of a stored request.
type RequestOutput struct {
	Name            string `json:"name"`
	Schema          string `json:"schema"`
	EffectiveSchema string `json:"effectiveSchema"`
}

// RequestRecord is the metadata the service keeps for every cast request.
type RequestRecord struct {
	ID            string                     `json:"id"`
	RequestType   string                     `json:"requestType"`
	LLMStatus     LLMStatus                  `json:"llmStatus"`
	SSEStatus     DeliveryStatus             `json:"sseStatus"`
	WebhookStatus DeliveryStatus             `json:"webhookStatus"`
	Input         RequestInput               `json:"input"`
	Output        RequestOutput              `json:"output"`
	Result        map[string]json.RawMessage `json:"result,omitempty"`
	Error         *string                    `json:"error"`
	FullPrompt    string                     `json:"fullPrompt"`
	Model         string                     `json:"model"`
	Provider      string                     `json:"provider"`
	StartedAt     *time.Time                 `json:"startedAt"`
	FinishedAt    *time.Time                 `json:"finishedAt"`
	CreatedAt     time.Time                  `json:"createdAt"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}
