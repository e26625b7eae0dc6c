package schema

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

var jsonUnmarshalerType = reflect.TypeFor[json.Unmarshaler]()

// walk compares a generic JSON value (numbers as json.Number) with the Go type
// t and reports every mismatch. null is only accepted for pointers and
// interfaces.
func walk(v any, t reflect.Type, path Path) Issues {
	if t.Kind() == reflect.Pointer {
		if v == nil {
			return nil
		}
		return walk(v, t.Elem(), path)
	}
	if t.Kind() == reflect.Interface {
		return nil
	}

	if reflect.PointerTo(t).Implements(jsonUnmarshalerType) {
		return opaque(v, t, path)
	}

	switch t.Kind() {
	case reflect.Bool:
		if _, ok := v.(bool); !ok {
			return Issues{{Path: path, Message: expected("boolean", v)}}
		}

	case reflect.String:
		if _, ok := v.(string); !ok {
			return Issues{{Path: path, Message: expected("string", v)}}
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.(json.Number)
		if !ok {
			return Issues{{Path: path, Message: expected("int", v)}}
		}
		i, err := n.Int64()
		if err != nil {
			return Issues{{Path: path, Message: "Invalid input: expected int, received number " + n.String()}}
		}
		if reflect.Zero(t).OverflowInt(i) {
			return Issues{{Path: path, Message: "Too big: " + n.String() + " overflows " + t.String()}}
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := v.(json.Number)
		if !ok {
			return Issues{{Path: path, Message: expected("int", v)}}
		}
		i, err := n.Int64()
		if err != nil || i < 0 {
			return Issues{{Path: path, Message: "Invalid input: expected non-negative int, received number " + n.String()}}
		}
		if reflect.Zero(t).OverflowUint(uint64(i)) {
			return Issues{{Path: path, Message: "Too big: " + n.String() + " overflows " + t.String()}}
		}

	case reflect.Float32, reflect.Float64:
		if _, ok := v.(json.Number); !ok {
			return Issues{{Path: path, Message: expected("number", v)}}
		}

	case reflect.Slice, reflect.Array:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			if _, ok := v.(string); !ok {
				return Issues{{Path: path, Message: expected("string", v)}}
			}
			return nil
		}
		items, ok := v.([]any)
		if !ok {
			return Issues{{Path: path, Message: expected("array", v)}}
		}
		if t.Kind() == reflect.Array && len(items) != t.Len() {
			return Issues{{Path: path, Message: "Invalid input: expected array of length " + strconv.Itoa(t.Len()) + ", received " + strconv.Itoa(len(items))}}
		}
		var issues Issues
		for i, item := range items {
			issues = append(issues, walk(item, t.Elem(), path.with(i))...)
		}
		return issues

	case reflect.Map:
		obj, ok := v.(map[string]any)
		if !ok {
			return Issues{{Path: path, Message: expected("object", v)}}
		}
		var issues Issues
		for _, key := range sortedKeys(obj) {
			issues = append(issues, walk(obj[key], t.Elem(), path.with(key))...)
		}
		return issues

	case reflect.Struct:
		obj, ok := v.(map[string]any)
		if !ok {
			return Issues{{Path: path, Message: expected("object", v)}}
		}
		return walkStruct(obj, t, path)

	default:
		return Issues{{Path: path, Message: "Unsupported type " + t.String()}}
	}
	return nil
}

func walkStruct(obj map[string]any, t reflect.Type, path Path) Issues {
	fields := structFields(t)
	known := make(map[string]bool, len(fields))

	var issues Issues
	for _, f := range fields {
		known[f.name] = true
		val, present := obj[f.name]
		if !present {
			if f.required {
				issues = append(issues, Issue{Path: path.with(f.name), Message: missing(describe(f.typ))})
			}
			continue
		}
		issues = append(issues, walk(val, f.typ, path.with(f.name))...)
	}

	for _, key := range sortedKeys(obj) {
		if !known[key] {
			issues = append(issues, Issue{Path: path, Message: unrecognizedKey(key)})
		}
	}
	return issues
}

// opaque validates types that decode themselves (time.Time, json.RawMessage)
// by running their own unmarshaler.
func opaque(v any, t reflect.Type, path Path) Issues {
	encoded, err := json.Marshal(v)
	if err != nil {
		return Issues{{Path: path, Message: err.Error()}}
	}
	if err := json.Unmarshal(encoded, reflect.New(t).Interface()); err != nil {
		return Issues{{Path: path, Message: "Invalid input: " + err.Error()}}
	}
	return nil
}

type fieldInfo struct {
	name     string
	typ      reflect.Type
	required bool
}

func structFields(t reflect.Type) []fieldInfo {
	var out []fieldInfo
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				out = append(out, structFields(ft)...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		optional := sf.Type.Kind() == reflect.Pointer ||
			strings.Contains(opts, "omitempty") ||
			strings.Contains(opts, "omitzero")
		out = append(out, fieldInfo{name: name, typ: sf.Type, required: !optional})
	}
	return out
}

func describe(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		if reflect.PointerTo(t).Implements(jsonUnmarshalerType) {
			return "value"
		}
		return "object"
	default:
		return "value"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

