package nua

import (
	"context"

	"nuacast/internal/cast"
	"nuacast/internal/core"
)

// ValueCaster casts one payload into T. Queue and Now come from the
// underlying caster; Wait completes a queued cast.
type ValueCaster[T any] struct {
	*cast.ValueCaster[T]
	client *Client
}

// NewValueCaster builds a value caster bound to client.
func NewValueCaster[T any](client *Client, def Definition[T]) (*ValueCaster[T], error) {
	if client == nil {
		return nil, core.NewConfigurationError("caster requires a client")
	}
	vc, err := cast.NewValueCaster(client.transport, def, client.castOptions())
	if err != nil {
		return nil, err
	}
	return &ValueCaster[T]{ValueCaster: vc, client: client}, nil
}

// Wait subscribes to the queued cast and validates the pushed result.
func (c *ValueCaster[T]) Wait(ctx context.Context, queued *QueuedResponse, opts ...WaitOption) (*ValueResult[T], error) {
	if queued == nil {
		return nil, core.NewValidationError("queued response is required")
	}
	raw, err := c.client.WaitRaw(ctx, queued.ChannelURL, opts...)
	if err != nil {
		return nil, err
	}
	return c.Settle(queued, raw)
}

// QueueAndWait queues the cast and waits for its result.
func (c *ValueCaster[T]) QueueAndWait(ctx context.Context, data any, opts ...WaitOption) (*ValueResult[T], error) {
	queued, err := c.Queue(ctx, data)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, queued, opts...)
}

// ArrayCaster casts keyed rows, one T per row.
type ArrayCaster[T any] struct {
	*cast.ArrayCaster[T]
	client *Client
}

// NewArrayCaster builds an array caster bound to client.
func NewArrayCaster[T any](client *Client, def Definition[T]) (*ArrayCaster[T], error) {
	if client == nil {
		return nil, core.NewConfigurationError("caster requires a client")
	}
	ac, err := cast.NewArrayCaster(client.transport, def, client.castOptions())
	if err != nil {
		return nil, err
	}
	return &ArrayCaster[T]{ArrayCaster: ac, client: client}, nil
}

// Wait subscribes to the queued cast and reconciles the pushed rows against
// the rows that were queued.
func (c *ArrayCaster[T]) Wait(ctx context.Context, queued *QueuedResponse, rows []Row, primaryKey string, opts ...WaitOption) (*ArrayResult[T], error) {
	if queued == nil {
		return nil, core.NewValidationError("queued response is required")
	}
	if err := cast.ValidateRows(rows, primaryKey); err != nil {
		return nil, err
	}
	raw, err := c.client.WaitRaw(ctx, queued.ChannelURL, opts...)
	if err != nil {
		return nil, err
	}
	return c.Settle(queued, raw, rows, primaryKey)
}

// QueueAndWait queues the rows and waits for the reconciled result.
func (c *ArrayCaster[T]) QueueAndWait(ctx context.Context, rows []Row, primaryKey string, opts ...WaitOption) (*ArrayResult[T], error) {
	queued, err := c.Queue(ctx, rows, primaryKey)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, queued, rows, primaryKey, opts...)
}
