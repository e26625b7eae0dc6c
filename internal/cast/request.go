package cast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"nuacast/internal/core"
	"nuacast/internal/schema"
)

// StoredResultUnparsable is the message of the internal error returned when a
// stored request record does not have the expected shape.
const StoredResultUnparsable = "Unable to parse stored LLM result"

// RecordCache stores request records that reached a terminal status.
// Get returns nil, nil on a miss.
type RecordCache interface {
	Get(ctx context.Context, id string) (*core.RequestRecord, error)
	Set(ctx context.Context, record *core.RequestRecord) error
}

// RequestFetcher reads stored request records.
type RequestFetcher struct {
	client Requester
	cache  RecordCache
	logger *slog.Logger
}

// NewRequestFetcher returns a fetcher. cache may be nil.
func NewRequestFetcher(client Requester, cache RecordCache, logger *slog.Logger) *RequestFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestFetcher{client: client, cache: cache, logger: logger}
}

// Get fetches the record of a cast request. Transport errors are returned as
// is; a 2xx body that is not a valid record yields an internal error.
func (f *RequestFetcher) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	if f.cache != nil {
		record, err := f.cache.Get(ctx, id)
		if err != nil {
			f.logger.Warn("request cache read failed", "request_id", id, "error", err)
		} else if record != nil {
			return record, nil
		}
	}

	raw, err := f.client.Request(ctx, http.MethodGet, "requests/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	record, issues := DecodeRecord(raw)
	if len(issues) > 0 {
		f.logger.Debug("stored request failed validation", "request_id", id, "issues", issues.Pretty())
		return nil, core.NewInternalError(StoredResultUnparsable, issues)
	}

	if f.cache != nil && record.LLMStatus.Terminal() {
		if err := f.cache.Set(ctx, record); err != nil {
			f.logger.Warn("request cache write failed", "request_id", id, "error", err)
		}
	}
	return record, nil
}

var (
	llmStatuses      = []any{string(core.LLMStatusPending), string(core.LLMStatusProcessing), string(core.LLMStatusSuccess), string(core.LLMStatusFailed)}
	deliveryStatuses = []any{string(core.DeliveryNotApplicable), string(core.DeliveryPending), string(core.DeliverySent), string(core.DeliveryFailed)}
)

// DecodeRecord validates a stored request record: required fields, known
// status values and parseable timestamps. Unknown keys are tolerated.
func DecodeRecord(raw json.RawMessage) (*core.RequestRecord, schema.Issues) {
	_, issues := schema.Passthrough(raw,
		schema.Field{Name: "id", Check: schema.String(0)},
		schema.Field{Name: "requestType", Check: schema.String(0)},
		schema.Field{Name: "llmStatus", Check: oneOf(llmStatuses)},
		schema.Field{Name: "sseStatus", Check: oneOf(deliveryStatuses)},
		schema.Field{Name: "webhookStatus", Check: oneOf(deliveryStatuses)},
		schema.Field{Name: "input", Check: inputCheck()},
		schema.Field{Name: "output", Check: outputCheck()},
		schema.Field{Name: "result", Optional: true, Check: nullable(objectCheck())},
		schema.Field{Name: "error", Check: nullable(schema.String(0))},
		schema.Field{Name: "fullPrompt", Check: schema.String(0)},
		schema.Field{Name: "model", Check: schema.String(0)},
		schema.Field{Name: "provider", Check: schema.String(0)},
		schema.Field{Name: "startedAt", Check: nullable(timestamp())},
		schema.Field{Name: "finishedAt", Check: nullable(timestamp())},
		schema.Field{Name: "createdAt", Check: timestamp()},
		schema.Field{Name: "updatedAt", Check: timestamp()},
	)
	if len(issues) > 0 {
		return nil, issues
	}

	var record core.RequestRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, schema.Issues{{Message: err.Error()}}
	}
	return &record, nil
}

func inputCheck() schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		_, issues := schema.Passthrough(raw,
			schema.Field{Name: "prompt", Check: nullable(schema.String(0))},
			schema.Field{Name: "data", Check: nullable(schema.String(0))},
			schema.Field{Name: "primaryKey", Check: nullable(schema.String(0))},
		)
		return issues
	}
}

func outputCheck() schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		_, issues := schema.Passthrough(raw,
			schema.Field{Name: "name", Check: schema.String(0)},
			schema.Field{Name: "schema", Check: schema.String(0)},
			schema.Field{Name: "effectiveSchema", Check: schema.String(0)},
		)
		return issues
	}
}

func objectCheck() schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		_, issues := schema.Passthrough(raw)
		return issues
	}
}

func oneOf(allowed []any) schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		var s string
		if raw != nil && json.Unmarshal(raw, &s) == nil {
			for _, a := range allowed {
				if a == s {
					return nil
				}
			}
		}
		encoded, _ := json.Marshal(allowed)
		return schema.Issues{{Message: "Invalid option: expected one of " + string(encoded)}}
	}
}

// nullable accepts JSON null in addition to whatever check accepts. A missing
// field is still passed to check.
func nullable(check schema.Check) schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		if string(raw) == "null" {
			return nil
		}
		return check(raw)
	}
}

func timestamp() schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		var s string
		if raw == nil || json.Unmarshal(raw, &s) != nil {
			return schema.Issues{{Message: "Invalid input: expected ISO 8601 timestamp"}}
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return schema.Issues{{Message: "Invalid input: expected ISO 8601 timestamp, received " + s}}
		}
		return nil
	}
}
