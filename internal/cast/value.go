package cast

import (
	"context"
	"net/http"

	"nuacast/internal/core"
)

const (
	pathValue    = "cast/value"
	pathValueNow = "cast/value/now"
)

// ValueResult is a validated single-value cast result.
type ValueResult[T any] struct {
	RequestID  string     `json:"llmRequestId"`
	Kind       core.Kind  `json:"kind"`
	Data       T          `json:"data"`
	IsCacheHit bool       `json:"isCacheHit"`
	Usage      core.Usage `json:"usage"`

	// HasUsage is false for pushed payloads that carried no usage block.
	HasUsage bool `json:"-"`
}

// ValueCaster casts one arbitrary payload into T.
type ValueCaster[T any] struct {
	base[T]
}

// NewValueCaster validates the definition and returns a caster. The output
// schema is rendered once here.
func NewValueCaster[T any](client Requester, def Definition[T], opts Options) (*ValueCaster[T], error) {
	b, err := newBase(client, def, opts)
	if err != nil {
		return nil, err
	}
	return &ValueCaster[T]{base: b}, nil
}

// Queue submits the cast for asynchronous processing and returns the handle
// to wait on.
func (c *ValueCaster[T]) Queue(ctx context.Context, data any) (*core.QueuedResponse, error) {
	raw, err := c.client.Request(ctx, http.MethodPost, pathValue, c.body(data, ""))
	if err != nil {
		return nil, err
	}
	return DecodeQueued(raw)
}

// Now runs the cast synchronously and returns the validated result.
func (c *ValueCaster[T]) Now(ctx context.Context, data any) (*ValueResult[T], error) {
	raw, err := c.client.Request(ctx, http.MethodPost, pathValueNow, c.body(data, ""))
	if err != nil {
		return nil, err
	}

	result, err := DecodeValue(raw, c.def.Output.Schema)
	if err != nil {
		c.opts.Logger.Warn("cast response failed validation", "kind", core.KindValue, "output", c.def.Output.Name, "error", err)
		return nil, err
	}

	cacheHits := 0
	if result.IsCacheHit {
		cacheHits = 1
	}
	c.complete(Completion{
		RequestID: result.RequestID,
		Kind:      core.KindValue,
		Usage:     result.Usage,
		CacheHits: cacheHits,
		Rows:      1,
	})
	return result, nil
}

// Decode validates a success payload received on the push channel for a
// queued cast of this caster.
func (c *ValueCaster[T]) Decode(payload []byte) (*ValueResult[T], error) {
	return DecodePushedValue(payload, c.def.Output.Schema)
}

// Settle validates the payload pushed for queued and reports the completion
// like Now does. The payload must carry queued's request id.
func (c *ValueCaster[T]) Settle(queued *core.QueuedResponse, payload []byte) (*ValueResult[T], error) {
	result, err := c.Decode(payload)
	if err == nil {
		err = matchRequestID(queued, result.RequestID)
	}
	if err != nil {
		c.opts.Logger.Warn("pushed result failed validation", "kind", core.KindValue, "output", c.def.Output.Name, "error", err)
		return nil, err
	}

	if result.HasUsage {
		cacheHits := 0
		if result.IsCacheHit {
			cacheHits = 1
		}
		c.complete(Completion{
			RequestID: result.RequestID,
			Kind:      core.KindValue,
			Usage:     result.Usage,
			CacheHits: cacheHits,
			Rows:      1,
		})
	}
	return result, nil
}

// Definition returns the caster's definition.
func (c *ValueCaster[T]) Definition() Definition[T] {
	return c.def
}
