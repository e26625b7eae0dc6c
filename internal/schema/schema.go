// Package schema validates service payloads against caller-declared output
// shapes and renders those shapes as portable JSON Schema documents.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema is an output shape: it validates a raw JSON value into T and renders
// itself as JSON Schema for the service.
type Schema[T any] interface {
	Validate(raw json.RawMessage) (T, Issues)
	JSONSchema() map[string]any
}

// Validator is implemented by output types with semantic checks that a JSON
// Schema cannot express. It runs after the structural checks pass.
type Validator interface {
	Validate() error
}

// TypeSchema derives both validation and JSON Schema from the Go type T.
// Struct fields follow encoding/json tags; fields without omitempty or
// omitzero are required, unknown keys are rejected.
type TypeSchema[T any] struct {
	rendered map[string]any
}

// For builds the schema for T. It panics if T cannot be rendered, which only
// happens for types encoding/json cannot represent either (channels, funcs).
func For[T any]() *TypeSchema[T] {
	rendered, err := render(reflect.TypeFor[T]())
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return &TypeSchema[T]{rendered: rendered}
}

// JSONSchema returns a fresh copy of the rendered schema.
func (s *TypeSchema[T]) JSONSchema() map[string]any {
	return cloneMap(s.rendered)
}

// Validate checks raw against T and decodes it.
func (s *TypeSchema[T]) Validate(raw json.RawMessage) (T, Issues) {
	var out T

	value, err := parse(raw)
	if err != nil {
		return out, Issues{{Message: "Invalid JSON: " + err.Error()}}
	}

	if issues := walk(value, reflect.TypeFor[T](), nil); len(issues) > 0 {
		return out, issues
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, Issues{{Message: err.Error()}}
	}

	if v, ok := any(out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, Issues{{Message: err.Error()}}
		}
	} else if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, Issues{{Message: err.Error()}}
		}
	}
	return out, nil
}

// FuncSchema adapts a hand-written validate function and a JSON Schema
// document into a Schema.
type FuncSchema[T any] struct {
	Document map[string]any
	Check    func(raw json.RawMessage) (T, Issues)
}

func (s FuncSchema[T]) Validate(raw json.RawMessage) (T, Issues) { return s.Check(raw) }

func (s FuncSchema[T]) JSONSchema() map[string]any { return cloneMap(s.Document) }

func render(t reflect.Type) (map[string]any, error) {
	r := &jsonschema.Reflector{DoNotReference: true}
	doc := r.ReflectFromType(t)

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", t, err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("render %s: %w", t, err)
	}
	return out, nil
}

func parse(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
