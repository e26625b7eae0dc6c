package mockserver

import (
	"errors"
	"sort"
	"strings"
)

// ErrNoResult makes a Responder skip a row; its key is reported in
// rowsWithNoResults.
var ErrNoResult = errors.New("no result for row")

// Call is one unit of work handed to a Responder: the whole payload of a value
// cast, or a single row of an array cast.
type Call struct {
	Kind       string
	Prompt     string
	OutputName string
	Schema     map[string]any
	Data       any
}

// Responder produces the output for a Call. Returning ErrNoResult from an
// array call omits that row; any other error fails the cast.
type Responder func(call Call) (any, error)

// Synthesize is the default Responder: it fabricates a value that satisfies
// the call's output schema.
func Synthesize(call Call) (any, error) {
	return synthesize(call.Schema, call.Schema, call.OutputName, 0), nil
}

const maxSynthDepth = 16

// synthesize walks a JSON Schema document. root resolves local $refs; name is
// the nearest property name, used to make strings recognisable.
func synthesize(node, root map[string]any, name string, depth int) any {
	if node == nil || depth > maxSynthDepth {
		return nil
	}

	if ref, ok := node["$ref"].(string); ok {
		return synthesize(resolveRef(root, ref), root, name, depth+1)
	}
	if v, ok := node["const"]; ok {
		return v
	}
	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if branches, ok := node[key].([]any); ok && len(branches) > 0 {
			if branch := firstNonNull(branches); branch != nil {
				return synthesize(branch, root, name, depth+1)
			}
			return nil
		}
	}

	switch schemaType(node) {
	case "object":
		return synthObject(node, root, depth)
	case "array":
		return synthArray(node, root, name, depth)
	case "string":
		return synthString(node, name)
	case "integer":
		return int64(synthNumber(node))
	case "number":
		return synthNumber(node)
	case "boolean":
		return true
	case "null":
		return nil
	}

	if _, ok := node["properties"]; ok {
		return synthObject(node, root, depth)
	}
	// An empty schema accepts anything.
	return map[string]any{}
}

func synthObject(node, root map[string]any, depth int) map[string]any {
	out := make(map[string]any)
	props, _ := node["properties"].(map[string]any)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		child, _ := props[k].(map[string]any)
		out[k] = synthesize(child, root, k, depth+1)
	}
	return out
}

func synthArray(node, root map[string]any, name string, depth int) []any {
	n := 1
	if minItems, ok := number(node["minItems"]); ok && int(minItems) > n {
		n = int(minItems)
	}
	if maxItems, ok := number(node["maxItems"]); ok && int(maxItems) < n {
		n = int(maxItems)
	}
	items, _ := node["items"].(map[string]any)
	out := make([]any, n)
	for i := range out {
		out[i] = synthesize(items, root, name, depth+1)
	}
	return out
}

func synthString(node map[string]any, name string) string {
	switch node["format"] {
	case "date-time":
		return "2025-01-01T00:00:00Z"
	case "date":
		return "2025-01-01"
	case "time":
		return "00:00:00Z"
	case "email":
		return "someone@example.com"
	case "uri":
		return "https://example.com"
	case "uuid":
		return "00000000-0000-4000-8000-000000000000"
	}

	s := "sample"
	if name != "" {
		s = "sample " + name
	}
	if minLen, ok := number(node["minLength"]); ok {
		for len(s) < int(minLen) {
			s += "x"
		}
	}
	if maxLen, ok := number(node["maxLength"]); ok && len(s) > int(maxLen) {
		s = s[:int(maxLen)]
	}
	return s
}

func synthNumber(node map[string]any) float64 {
	if v, ok := number(node["minimum"]); ok {
		return v
	}
	if v, ok := number(node["exclusiveMinimum"]); ok {
		return v + 1
	}
	if v, ok := number(node["maximum"]); ok && v < 1 {
		return v
	}
	return 1
}

// schemaType returns the node's type, taking the first non-null entry when
// the type is a list.
func schemaType(node map[string]any) string {
	switch t := node["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
		return "null"
	}
	return ""
}

func firstNonNull(branches []any) map[string]any {
	var fallback map[string]any
	for _, b := range branches {
		m, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if schemaType(m) != "null" {
			return m
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback
}

func resolveRef(root map[string]any, ref string) map[string]any {
	path, ok := strings.CutPrefix(ref, "#/")
	if !ok {
		return nil
	}
	var cur any = root
	for _, part := range strings.Split(path, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")]
	}
	m, _ := cur.(map[string]any)
	return m
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
