package schema

import (
	"strconv"
	"strings"
)

// Path locates a value inside a JSON document. Elements are object keys
// (string) or array indexes (int).
type Path []any

// String renders the path as data.rows[2].name.
func (p Path) String() string {
	var b strings.Builder
	for _, seg := range p {
		switch s := seg.(type) {
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s))
			b.WriteByte(']')
		case string:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s)
		}
	}
	return b.String()
}

func (p Path) with(seg any) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	return append(next, seg)
}

// Issue is a single mismatch between a document and its expected shape.
type Issue struct {
	Path    Path
	Message string
}

// Issues is every mismatch found while validating one document.
type Issues []Issue

// Prefix returns the issues re-rooted under prefix.
func (is Issues) Prefix(prefix ...any) Issues {
	if len(is) == 0 || len(prefix) == 0 {
		return is
	}
	out := make(Issues, len(is))
	for i, issue := range is {
		p := make(Path, 0, len(prefix)+len(issue.Path))
		p = append(p, prefix...)
		out[i] = Issue{Path: append(p, issue.Path...), Message: issue.Message}
	}
	return out
}

// Pretty renders the issues one per line, each followed by its location:
//
//	✖ Invalid input: expected string, received number
//	  → at data.name
func (is Issues) Pretty() string {
	lines := make([]string, 0, len(is)*2)
	for _, issue := range is {
		lines = append(lines, "✖ "+issue.Message)
		if len(issue.Path) > 0 {
			lines = append(lines, "  → at "+issue.Path.String())
		}
	}
	return strings.Join(lines, "\n")
}

// Error implements error so a non-empty Issues can be returned directly.
func (is Issues) Error() string {
	return is.Pretty()
}

func expected(want string, got any) string {
	return "Invalid input: expected " + want + ", received " + jsonKind(got)
}

func missing(want string) string {
	return "Invalid input: expected " + want + ", received undefined"
}

func unrecognizedKey(key string) string {
	return "Unrecognized key: " + strconv.Quote(key)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "number"
	}
}
