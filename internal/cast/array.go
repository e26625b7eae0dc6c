package cast

import (
	"context"
	"net/http"

	"nuacast/internal/core"
)

const (
	pathArray    = "cast/array"
	pathArrayNow = "cast/array/now"
)

// ArrayRow is one output value together with the input row it was derived
// from. Key is the primary key value as the caller supplied it.
type ArrayRow[T any] struct {
	Key       any `json:"key"`
	Value     T   `json:"value"`
	SourceRow Row `json:"sourceRow"`
}

// ArrayResult is a validated, reconciled array cast result. Rows may come
// back in any order and may omit inputs listed in RowsWithNoResults.
type ArrayResult[T any] struct {
	RequestID         string        `json:"llmRequestId"`
	Kind              core.Kind     `json:"kind"`
	Rows              []ArrayRow[T] `json:"rows"`
	CacheHits         int           `json:"cacheHits"`
	RowsWithNoResults []string      `json:"rowsWithNoResults"`
	Usage             core.Usage    `json:"usage"`

	HasUsage bool `json:"-"`
}

// ArrayCaster casts a keyed batch of rows, one T per row.
type ArrayCaster[T any] struct {
	base[T]
}

// NewArrayCaster validates the definition and returns a caster.
func NewArrayCaster[T any](client Requester, def Definition[T], opts Options) (*ArrayCaster[T], error) {
	b, err := newBase(client, def, opts)
	if err != nil {
		return nil, err
	}
	return &ArrayCaster[T]{base: b}, nil
}

// Queue validates the rows, submits the cast for asynchronous processing and
// returns the handle to wait on. Invalid rows fail before any request is sent.
func (c *ArrayCaster[T]) Queue(ctx context.Context, rows []Row, primaryKey string) (*core.QueuedResponse, error) {
	if err := ValidateRows(rows, primaryKey); err != nil {
		return nil, err
	}
	raw, err := c.client.Request(ctx, http.MethodPost, pathArray, c.body(rowsOrEmpty(rows), primaryKey))
	if err != nil {
		return nil, err
	}
	return DecodeQueued(raw)
}

// Now runs the cast synchronously and returns the reconciled rows.
func (c *ArrayCaster[T]) Now(ctx context.Context, rows []Row, primaryKey string) (*ArrayResult[T], error) {
	if err := ValidateRows(rows, primaryKey); err != nil {
		return nil, err
	}
	raw, err := c.client.Request(ctx, http.MethodPost, pathArrayNow, c.body(rowsOrEmpty(rows), primaryKey))
	if err != nil {
		return nil, err
	}

	result, err := DecodeArray(raw, c.def.Output.Schema, c.def.Output.Name, primaryKey, rows)
	if err != nil {
		c.opts.Logger.Warn("cast response failed validation", "kind", core.KindArray, "output", c.def.Output.Name, "error", err)
		return nil, err
	}

	c.complete(Completion{
		RequestID:         result.RequestID,
		Kind:              core.KindArray,
		Usage:             result.Usage,
		CacheHits:         result.CacheHits,
		Rows:              len(rows),
		RowsWithNoResults: len(result.RowsWithNoResults),
	})
	return result, nil
}

// Decode validates a success payload received on the push channel for a
// queued cast of these rows.
func (c *ArrayCaster[T]) Decode(payload []byte, rows []Row, primaryKey string) (*ArrayResult[T], error) {
	return DecodePushedArray(payload, c.def.Output.Schema, c.def.Output.Name, primaryKey, rows)
}

// Settle validates and reconciles the payload pushed for queued and reports
// the completion like Now does. The payload must carry queued's request id.
func (c *ArrayCaster[T]) Settle(queued *core.QueuedResponse, payload []byte, rows []Row, primaryKey string) (*ArrayResult[T], error) {
	result, err := c.Decode(payload, rows, primaryKey)
	if err == nil {
		err = matchRequestID(queued, result.RequestID)
	}
	if err != nil {
		c.opts.Logger.Warn("pushed result failed validation", "kind", core.KindArray, "output", c.def.Output.Name, "error", err)
		return nil, err
	}

	if result.HasUsage {
		c.complete(Completion{
			RequestID:         result.RequestID,
			Kind:              core.KindArray,
			Usage:             result.Usage,
			CacheHits:         result.CacheHits,
			Rows:              len(rows),
			RowsWithNoResults: len(result.RowsWithNoResults),
		})
	}
	return result, nil
}

// Definition returns the caster's definition.
func (c *ArrayCaster[T]) Definition() Definition[T] {
	return c.def
}

// rowsOrEmpty keeps a nil batch encoding as [] rather than null.
func rowsOrEmpty(rows []Row) []Row {
	if rows == nil {
		return []Row{}
	}
	return rows
}
