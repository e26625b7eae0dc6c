// Package cast implements the value and array casters: it builds cast
// requests, sends them through the transport and validates the service's
// answers against the caller's output schema.
package cast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"nuacast/internal/core"
	"nuacast/internal/schema"
)

// Invalid service payloads are reported with this prefix followed by the
// pretty-printed issue list.
const invalidDataPrefix = "Invalid data received from Nuabase API: "

// Requester sends one authenticated API request and returns the 2xx body.
type Requester interface {
	Request(ctx context.Context, method, path string, body any) (json.RawMessage, error)
}

// Output names the value the LLM produces and the shape it must have.
type Output[T any] struct {
	Name   string
	Schema schema.Schema[T]
}

// Definition is a reusable cast: a prompt plus its output.
type Definition[T any] struct {
	Prompt string
	Output Output[T]
}

// Completion summarises a finished cast for usage accounting.
type Completion struct {
	RequestID         string
	Kind              core.Kind
	OutputName        string
	Fingerprint       string
	Usage             core.Usage
	CacheHits         int
	Rows              int
	RowsWithNoResults int
}

// Options holds optional caster collaborators.
type Options struct {
	Logger *slog.Logger

	// OnComplete is called after every successfully validated "now" result.
	OnComplete func(Completion)
}

// requestBody is the wire shape shared by both cast kinds.
type requestBody struct {
	Input  requestInput  `json:"input"`
	Output requestOutput `json:"output"`
}

type requestInput struct {
	Prompt     string `json:"prompt"`
	Data       any    `json:"data"`
	PrimaryKey string `json:"primaryKey,omitempty"`
}

type requestOutput struct {
	Schema map[string]any `json:"schema"`
	Name   string         `json:"name"`
}

// base holds what both casters share. It is immutable after construction.
type base[T any] struct {
	client      Requester
	def         Definition[T]
	rendered    map[string]any
	fingerprint string
	opts        Options
}

func newBase[T any](client Requester, def Definition[T], opts Options) (base[T], error) {
	if client == nil {
		return base[T]{}, core.NewConfigurationError("caster requires a client")
	}
	if def.Output.Name == "" {
		return base[T]{}, core.NewConfigurationError("output name is required")
	}
	if def.Output.Schema == nil {
		return base[T]{}, core.NewConfigurationError("output schema is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rendered := def.Output.Schema.JSONSchema()
	return base[T]{
		client:      client,
		def:         def,
		rendered:    rendered,
		fingerprint: Fingerprint(def.Prompt, def.Output.Name, rendered),
		opts:        opts,
	}, nil
}

func (b *base[T]) body(data any, primaryKey string) requestBody {
	return requestBody{
		Input: requestInput{
			Prompt:     b.def.Prompt,
			Data:       data,
			PrimaryKey: primaryKey,
		},
		Output: requestOutput{
			Schema: b.rendered,
			Name:   b.def.Output.Name,
		},
	}
}

func (b *base[T]) complete(c Completion) {
	c.OutputName = b.def.Output.Name
	c.Fingerprint = b.fingerprint
	b.opts.Logger.Debug("cast completed",
		"request_id", c.RequestID,
		"kind", c.Kind,
		"output", c.OutputName,
		"total_tokens", c.Usage.TotalTokens,
		"cache_hits", c.CacheHits,
	)
	if b.opts.OnComplete != nil {
		b.opts.OnComplete(c)
	}
}

// Fingerprint identifies a cast definition: the same prompt, output name and
// schema always hash to the same value.
func Fingerprint(prompt, outputName string, rendered map[string]any) string {
	h := xxhash.New()
	_, _ = h.WriteString(prompt)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(outputName)
	_, _ = h.Write([]byte{0})
	// encoding/json sorts map keys, so the encoding is stable.
	encoded, _ := json.Marshal(rendered)
	_, _ = h.Write(encoded)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Fingerprint returns the fingerprint of the caster's definition.
func (b *base[T]) Fingerprint() string {
	return b.fingerprint
}

// matchRequestID rejects a pushed result that belongs to another request.
func matchRequestID(queued *core.QueuedResponse, got string) error {
	if queued == nil || queued.RequestID == got {
		return nil
	}
	return core.NewSchemaMismatchError(fmt.Sprintf("%sllmRequestId %q does not match queued request %q", invalidDataPrefix, got, queued.RequestID))
}

func mismatch(issues schema.Issues) error {
	return core.NewSchemaMismatchError(invalidDataPrefix + issues.Pretty())
}
