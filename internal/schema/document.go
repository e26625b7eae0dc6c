package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FromDocument builds a schema from a JSON Schema document supplied at run
// time. Validation covers the structural keywords (type, properties,
// required, additionalProperties, items, enum, const, anyOf, oneOf, allOf,
// length and range bounds, local $ref). Other keywords are sent to the
// service but not checked locally.
func FromDocument(doc map[string]any) FuncSchema[any] {
	return FuncSchema[any]{
		Document: cloneMap(doc),
		Check: func(raw json.RawMessage) (any, Issues) {
			v, err := parse(raw)
			if err != nil {
				return nil, Issues{{Message: "Invalid JSON: " + err.Error()}}
			}
			if issues := checkNode(v, doc, doc, nil, 0); len(issues) > 0 {
				return nil, issues
			}
			return v, nil
		},
	}
}

const maxRefDepth = 32

func checkNode(v any, node, root map[string]any, path Path, depth int) Issues {
	if node == nil {
		return nil
	}
	if ref, ok := node["$ref"].(string); ok {
		if depth >= maxRefDepth {
			return Issues{{Path: path, Message: "Schema reference too deep: " + ref}}
		}
		target := lookupRef(root, ref)
		if target == nil {
			return Issues{{Path: path, Message: "Unresolvable schema reference: " + ref}}
		}
		return checkNode(v, target, root, path, depth+1)
	}

	if want, ok := node["const"]; ok && !sameJSON(v, want) {
		encoded, _ := json.Marshal(want)
		return Issues{{Path: path, Message: "Invalid input: expected " + string(encoded)}}
	}
	if options, ok := node["enum"].([]any); ok && !containsJSON(options, v) {
		return Issues{{Path: path, Message: "Invalid option: expected one of " + joinJSON(options)}}
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := node[key].([]any)
		if !ok {
			continue
		}
		matched := false
		for _, b := range branches {
			if sub, ok := b.(map[string]any); ok && len(checkNode(v, sub, root, path, depth+1)) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			return Issues{{Path: path, Message: "Invalid input: no " + key + " branch matched"}}
		}
	}
	if branches, ok := node["allOf"].([]any); ok {
		var issues Issues
		for _, b := range branches {
			if sub, ok := b.(map[string]any); ok {
				issues = append(issues, checkNode(v, sub, root, path, depth+1)...)
			}
		}
		if len(issues) > 0 {
			return issues
		}
	}

	if types := typeList(node["type"]); len(types) > 0 && !matchesAny(v, types) {
		return Issues{{Path: path, Message: expected(strings.Join(types, " | "), v)}}
	}

	switch t := v.(type) {
	case map[string]any:
		return checkObject(t, node, root, path, depth)
	case []any:
		return checkArray(t, node, root, path, depth)
	case string:
		n := utf8.RuneCountInString(t)
		if limit, ok := intKeyword(node, "minLength"); ok && n < limit {
			return Issues{{Path: path, Message: "Too small: expected string to have >=" + strconv.Itoa(limit) + " characters"}}
		}
		if limit, ok := intKeyword(node, "maxLength"); ok && n > limit {
			return Issues{{Path: path, Message: "Too big: expected string to have <=" + strconv.Itoa(limit) + " characters"}}
		}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Issues{{Path: path, Message: "Invalid input: malformed number " + t.String()}}
		}
		if limit, ok := numberKeyword(node, "minimum"); ok && f < limit {
			return Issues{{Path: path, Message: "Too small: expected number to be >=" + formatNumber(limit)}}
		}
		if limit, ok := numberKeyword(node, "maximum"); ok && f > limit {
			return Issues{{Path: path, Message: "Too big: expected number to be <=" + formatNumber(limit)}}
		}
	}
	return nil
}

func checkObject(obj map[string]any, node, root map[string]any, path Path, depth int) Issues {
	var issues Issues
	props, _ := node["properties"].(map[string]any)

	if required, ok := node["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				sub, _ := props[name].(map[string]any)
				issues = append(issues, Issue{Path: path.with(name), Message: missing(describeNode(sub))})
			}
		}
	}

	for _, key := range sortedKeys(obj) {
		if sub, ok := props[key].(map[string]any); ok {
			issues = append(issues, checkNode(obj[key], sub, root, path.with(key), depth)...)
			continue
		}
		switch extra := node["additionalProperties"].(type) {
		case bool:
			if !extra {
				issues = append(issues, Issue{Path: path, Message: unrecognizedKey(key)})
			}
		case map[string]any:
			issues = append(issues, checkNode(obj[key], extra, root, path.with(key), depth)...)
		}
	}
	return issues
}

func checkArray(items []any, node, root map[string]any, path Path, depth int) Issues {
	if limit, ok := intKeyword(node, "minItems"); ok && len(items) < limit {
		return Issues{{Path: path, Message: "Too small: expected array to have >=" + strconv.Itoa(limit) + " items"}}
	}
	if limit, ok := intKeyword(node, "maxItems"); ok && len(items) > limit {
		return Issues{{Path: path, Message: "Too big: expected array to have <=" + strconv.Itoa(limit) + " items"}}
	}
	sub, ok := node["items"].(map[string]any)
	if !ok {
		return nil
	}
	var issues Issues
	for i, item := range items {
		issues = append(issues, checkNode(item, sub, root, path.with(i), depth)...)
	}
	return issues
}

func lookupRef(root map[string]any, ref string) map[string]any {
	if ref == "#" {
		return root
	}
	if !strings.HasPrefix(ref, "#/") {
		return nil
	}
	var cur any = root
	for _, part := range strings.Split(ref[2:], "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	out, _ := cur.(map[string]any)
	return out
}

func typeList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func matchesAny(v any, types []string) bool {
	for _, want := range types {
		if matchesType(v, want) {
			return true
		}
	}
	return false
}

func matchesType(v any, want string) bool {
	switch want {
	case "integer":
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Int64(); err == nil {
			return true
		}
		f, err := n.Float64()
		return err == nil && f == math.Trunc(f)
	case "number":
		_, ok := v.(json.Number)
		return ok
	default:
		return jsonKind(v) == want
	}
}

func describeNode(node map[string]any) string {
	if types := typeList(node["type"]); len(types) > 0 {
		return strings.Join(types, " | ")
	}
	return "value"
}

func intKeyword(node map[string]any, key string) (int, bool) {
	f, ok := numberKeyword(node, key)
	return int(f), ok
}

func numberKeyword(node map[string]any, key string) (float64, bool) {
	switch n := node[key].(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sameJSON compares two generic JSON values, treating numbers by value
// regardless of whether they were decoded as float64 or json.Number.
func sameJSON(a, b any) bool {
	ea, errA := json.Marshal(normalizeNumbers(a))
	eb, errB := json.Marshal(normalizeNumbers(b))
	return errA == nil && errB == nil && string(ea) == string(eb)
}

func containsJSON(options []any, v any) bool {
	for _, o := range options {
		if sameJSON(o, v) {
			return true
		}
	}
	return false
}

func joinJSON(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		encoded, _ := json.Marshal(v)
		parts[i] = string(encoded)
	}
	return strings.Join(parts, "|")
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeNumbers(item)
		}
		return out
	default:
		return v
	}
}
