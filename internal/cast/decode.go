package cast

import (
	"encoding/json"

	"nuacast/internal/core"
	"nuacast/internal/schema"
)

var usageSchema = schema.For[core.Usage]()

// envelope selects how much of a success payload is enforced. "now" responses
// are strict; payloads pushed on the channel may carry extra keys and omit
// usage.
type envelope int

const (
	strictEnvelope envelope = iota
	pushedEnvelope
)

// validate checks the fields every success envelope shares plus the
// kind-specific extra fields.
func (e envelope) validate(raw json.RawMessage, kind core.Kind, usage *core.Usage, hasUsage *bool, extra ...schema.Field) (map[string]json.RawMessage, schema.Issues) {
	fields := []schema.Field{
		{Name: "llmRequestId", Check: schema.String(0)},
		{Name: "kind", Check: schema.Literal(string(kind))},
		{Name: "usage", Optional: e == pushedEnvelope, Check: usageCheck(usage, hasUsage)},
		{Name: "isSuccess", Optional: e == strictEnvelope, Check: schema.Literal(true)},
		{Name: "isError", Optional: true, Check: schema.Literal(false)},
	}
	fields = append(fields, extra...)

	if e == pushedEnvelope {
		return schema.Passthrough(raw, fields...)
	}
	return schema.Strict(raw, fields...)
}

func usageCheck(dst *core.Usage, seen *bool) schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		if raw == nil {
			return schema.Issues{{Message: "Invalid input: expected object, received undefined"}}
		}
		u, issues := usageSchema.Validate(raw)
		if len(issues) > 0 {
			return issues
		}
		if !u.Consistent() {
			return schema.Issues{{Path: schema.Path{"totalTokens"}, Message: "Invalid input: totalTokens must equal promptTokens + completionTokens"}}
		}
		*dst = u
		*seen = true
		return nil
	}
}

func stringField(members map[string]json.RawMessage, name string) string {
	var s string
	_ = json.Unmarshal(members[name], &s)
	return s
}

// DecodeQueued validates the acknowledgement of a queued cast. The channel URL
// is read from "sseUrl", or from "channelUrl" when the service uses that name.
func DecodeQueued(raw json.RawMessage) (*core.QueuedResponse, error) {
	members, issues := schema.Strict(raw,
		schema.Field{Name: "id", Check: schema.String(0)},
		schema.Field{Name: "sseUrl", Optional: true, Check: schema.String(1)},
		schema.Field{Name: "channelUrl", Optional: true, Check: schema.String(1)},
	)
	if len(issues) == 0 {
		_, hasSSE := members["sseUrl"]
		_, hasChannel := members["channelUrl"]
		if !hasSSE && !hasChannel {
			issues = append(issues, schema.Issue{Path: schema.Path{"sseUrl"}, Message: "Invalid input: expected string, received undefined"})
		}
	}
	if len(issues) > 0 {
		return nil, mismatch(issues)
	}

	queued := &core.QueuedResponse{
		RequestID:  stringField(members, "id"),
		ChannelURL: stringField(members, "sseUrl"),
	}
	if queued.ChannelURL == "" {
		queued.ChannelURL = stringField(members, "channelUrl")
	}
	return queued, nil
}

// DecodeValue validates a strict cast/value/now response.
func DecodeValue[T any](raw json.RawMessage, s schema.Schema[T]) (*ValueResult[T], error) {
	return decodeValue(raw, s, strictEnvelope)
}

// DecodePushedValue validates a cast/value success payload delivered on the
// push channel. Unknown keys are tolerated and usage is optional.
func DecodePushedValue[T any](raw json.RawMessage, s schema.Schema[T]) (*ValueResult[T], error) {
	return decodeValue(raw, s, pushedEnvelope)
}

func decodeValue[T any](raw json.RawMessage, s schema.Schema[T], mode envelope) (*ValueResult[T], error) {
	var (
		data     T
		usage    core.Usage
		hasUsage bool
		cacheHit bool
	)

	members, issues := mode.validate(raw, core.KindValue, &usage, &hasUsage,
		schema.Field{Name: "data", Check: schema.Of(s, &data)},
		schema.Field{Name: "isCacheHit", Optional: mode == pushedEnvelope, Check: schema.Bool()},
	)
	if len(issues) > 0 {
		return nil, mismatch(issues)
	}
	if hit, ok := members["isCacheHit"]; ok {
		_ = json.Unmarshal(hit, &cacheHit)
	}

	return &ValueResult[T]{
		RequestID:  stringField(members, "llmRequestId"),
		Kind:       core.KindValue,
		Data:       data,
		IsCacheHit: cacheHit,
		Usage:      usage,
		HasUsage:   hasUsage,
	}, nil
}

// DecodeArray validates a strict cast/array/now response and maps every
// output row back to its source row.
func DecodeArray[T any](raw json.RawMessage, s schema.Schema[T], outputName, primaryKey string, rows []Row) (*ArrayResult[T], error) {
	return decodeArray(raw, s, outputName, primaryKey, rows, strictEnvelope)
}

// DecodePushedArray is DecodeArray for payloads delivered on the push channel.
func DecodePushedArray[T any](raw json.RawMessage, s schema.Schema[T], outputName, primaryKey string, rows []Row) (*ArrayResult[T], error) {
	return decodeArray(raw, s, outputName, primaryKey, rows, pushedEnvelope)
}

func decodeArray[T any](raw json.RawMessage, s schema.Schema[T], outputName, primaryKey string, rows []Row, mode envelope) (*ArrayResult[T], error) {
	if err := ValidateRows(rows, primaryKey); err != nil {
		return nil, err
	}

	var (
		usage    core.Usage
		hasUsage bool
		outRows  []outputRow[T]
	)

	members, issues := mode.validate(raw, core.KindArray, &usage, &hasUsage,
		schema.Field{Name: "data", Check: rowsCheck(s, outputName, primaryKey, &outRows)},
		schema.Field{Name: "cacheHits", Optional: mode == pushedEnvelope, Check: schema.Number()},
		schema.Field{Name: "rowsWithNoResults", Optional: mode == pushedEnvelope, Check: stringsCheck()},
	)
	if len(issues) > 0 {
		return nil, mismatch(issues)
	}

	reconciled, err := reconcile(outRows, primaryKey, rows)
	if err != nil {
		return nil, err
	}

	result := &ArrayResult[T]{
		RequestID:         stringField(members, "llmRequestId"),
		Kind:              core.KindArray,
		Rows:              reconciled,
		RowsWithNoResults: []string{},
		Usage:             usage,
		HasUsage:          hasUsage,
	}
	if hits, ok := members["cacheHits"]; ok {
		var n float64
		_ = json.Unmarshal(hits, &n)
		result.CacheHits = int(n)
	}
	if missing, ok := members["rowsWithNoResults"]; ok {
		_ = json.Unmarshal(missing, &result.RowsWithNoResults)
	}
	return result, nil
}

func stringsCheck() schema.Check {
	strs := schema.For[[]string]()
	return func(raw json.RawMessage) schema.Issues {
		if raw == nil {
			return schema.Issues{{Message: "Invalid input: expected array, received undefined"}}
		}
		_, issues := strs.Validate(raw)
		return issues
	}
}

// outputRow is one validated {<primaryKey>: any, <outputName>: T} element.
type outputRow[T any] struct {
	index int
	key   any
	value T
}

func rowsCheck[T any](s schema.Schema[T], outputName, primaryKey string, dst *[]outputRow[T]) schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		if raw == nil {
			return schema.Issues{{Message: "Invalid input: expected array, received undefined"}}
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			return schema.Issues{{Message: "Invalid input: expected array, received " + jsonKind(raw)}}
		}

		var issues schema.Issues
		out := make([]outputRow[T], 0, len(items))
		for i, item := range items {
			var (
				value T
				key   any
			)
			_, rowIssues := schema.Strict(item,
				schema.Field{Name: primaryKey, Check: anyInto(&key)},
				schema.Field{Name: outputName, Check: schema.Of(s, &value)},
			)
			if len(rowIssues) > 0 {
				issues = append(issues, rowIssues.Prefix(i)...)
				continue
			}
			out = append(out, outputRow[T]{index: i, key: key, value: value})
		}
		if len(issues) == 0 {
			*dst = out
		}
		return issues
	}
}

func anyInto(dst *any) schema.Check {
	return func(raw json.RawMessage) schema.Issues {
		if raw == nil {
			return schema.Issues{{Message: "Invalid input: expected value, received undefined"}}
		}
		v, err := decodeJSON(raw)
		if err != nil {
			return schema.Issues{{Message: "Invalid JSON: " + err.Error()}}
		}
		*dst = v
		return nil
	}
}

func jsonKind(raw json.RawMessage) string {
	v, err := decodeJSON(raw)
	if err != nil {
		return "invalid JSON"
	}
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "number"
	}
}
