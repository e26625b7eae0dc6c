package schema

import (
	"encoding/json"
	"errors"
	"strconv"
)

// Check validates one field of an envelope. raw is nil when the field is absent.
type Check func(raw json.RawMessage) Issues

// Field is a named member of a strict envelope.
type Field struct {
	Name     string
	Optional bool
	Check    Check
}

// Strict validates raw as an object holding exactly the given fields and
// returns the members by name. Every mismatch is reported, not just the first.
func Strict(raw json.RawMessage, fields ...Field) (map[string]json.RawMessage, Issues) {
	return object(raw, true, fields)
}

// Passthrough is Strict without the unknown key check.
func Passthrough(raw json.RawMessage, fields ...Field) (map[string]json.RawMessage, Issues) {
	return object(raw, false, fields)
}

func object(raw json.RawMessage, strict bool, fields []Field) (map[string]json.RawMessage, Issues) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		value, _ := parse(raw)
		return nil, Issues{{Message: expected("object", value)}}
	}

	known := make(map[string]bool, len(fields))
	var issues Issues
	for _, f := range fields {
		known[f.Name] = true
		member, ok := members[f.Name]
		if !ok {
			if !f.Optional {
				issues = append(issues, f.Check(nil).Prefix(f.Name)...)
			}
			continue
		}
		issues = append(issues, f.Check(member).Prefix(f.Name)...)
	}

	if !strict {
		return members, issues
	}

	extra := make(map[string]any)
	for key := range members {
		if !known[key] {
			extra[key] = nil
		}
	}
	for _, key := range sortedKeys(extra) {
		issues = append(issues, Issue{Message: unrecognizedKey(key)})
	}
	return members, issues
}

// String requires a JSON string. minLen > 0 also rejects shorter strings.
func String(minLen int) Check {
	return func(raw json.RawMessage) Issues {
		v, err := fieldValue(raw)
		if err != nil {
			return Issues{{Message: missing("string")}}
		}
		s, ok := v.(string)
		if !ok {
			return Issues{{Message: expected("string", v)}}
		}
		if len(s) < minLen {
			return Issues{{Message: "Too small: expected string to have >=" + strconv.Itoa(minLen) + " characters"}}
		}
		return nil
	}
}

// Bool requires a JSON boolean.
func Bool() Check {
	return func(raw json.RawMessage) Issues {
		v, err := fieldValue(raw)
		if err != nil {
			return Issues{{Message: missing("boolean")}}
		}
		if _, ok := v.(bool); !ok {
			return Issues{{Message: expected("boolean", v)}}
		}
		return nil
	}
}

// Number requires a JSON number.
func Number() Check {
	return func(raw json.RawMessage) Issues {
		v, err := fieldValue(raw)
		if err != nil {
			return Issues{{Message: missing("number")}}
		}
		if _, ok := v.(json.Number); !ok {
			return Issues{{Message: expected("number", v)}}
		}
		return nil
	}
}

// Literal requires exactly the given string or bool.
func Literal(want any) Check {
	return func(raw json.RawMessage) Issues {
		v, err := fieldValue(raw)
		if err != nil || v != want {
			encoded, _ := json.Marshal(want)
			return Issues{{Message: "Invalid input: expected " + string(encoded)}}
		}
		return nil
	}
}

// Any accepts any present value.
func Any() Check {
	return func(raw json.RawMessage) Issues {
		if raw == nil {
			return Issues{{Message: missing("value")}}
		}
		return nil
	}
}

// Of validates a field with a Schema and stores the decoded value in dst.
func Of[T any](s Schema[T], dst *T) Check {
	return func(raw json.RawMessage) Issues {
		if raw == nil {
			return Issues{{Message: missing("value")}}
		}
		v, issues := s.Validate(raw)
		if len(issues) == 0 && dst != nil {
			*dst = v
		}
		return issues
	}
}

func fieldValue(raw json.RawMessage) (any, error) {
	if raw == nil {
		return nil, errAbsent
	}
	return parse(raw)
}

var errAbsent = errors.New("absent")
