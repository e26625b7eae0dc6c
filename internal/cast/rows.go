package cast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"

	"nuacast/internal/core"
)

// Row is one caller-supplied record of an array cast.
type Row = map[string]any

// RowsFrom converts any slice of objects (maps or structs) to rows through
// its JSON encoding, so struct tags decide the field names. Numbers are kept
// as json.Number.
func RowsFrom(v any) ([]Row, error) {
	if rows, ok := v.([]Row); ok {
		return rows, nil
	}
	if v == nil {
		return nil, core.NewValidationError("`data` must be an array of objects.")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, core.NewValidationError("`data` must be an array of objects.")
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, core.NewValidationError("`data` must be an array of objects: " + err.Error())
	}
	decoded, err := decodeJSON(encoded)
	if err != nil {
		return nil, core.NewValidationError("`data` must be an array of objects: " + err.Error())
	}
	items, ok := decoded.([]any)
	if !ok {
		if decoded == nil {
			return []Row{}, nil
		}
		return nil, core.NewValidationError("`data` must be an array of objects.")
	}

	rows := make([]Row, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, core.NewValidationError(fmt.Sprintf("data[%d] must be a non-null object.", i))
		}
		rows[i] = obj
	}
	return rows, nil
}

// ValidateRows checks the array cast preconditions: a non-empty primary key
// name and, in every row, a string or number under that key with no value
// repeated.
func ValidateRows(rows []Row, primaryKey string) error {
	if primaryKey == "" {
		return core.NewValidationError("`primaryKeyName` must be a non-empty string.")
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if row == nil {
			return core.NewValidationError(fmt.Sprintf("data[%d] must be a non-null object.", i))
		}
		value, ok := row[primaryKey]
		if !ok {
			return core.NewValidationError(fmt.Sprintf("data[%d] must contain property '%s'.", i, primaryKey))
		}
		key, ok := canonicalKey(value)
		if !ok {
			return core.NewValidationError(fmt.Sprintf("data[%d].%s must be a string or number.", i, primaryKey))
		}
		if j, dup := seen[key]; dup {
			return core.NewValidationError(fmt.Sprintf("data[%d].%s repeats the primary key of data[%d].", i, primaryKey, j))
		}
		seen[key] = i
	}
	return nil
}

// canonicalKey maps a primary key value to a comparable string. Numbers are
// compared by exact value, so 7, 7.0 and json.Number("7") are the same key,
// integers beyond float64 precision stay distinct, and no number collides
// with the string "7".
func canonicalKey(v any) (string, bool) {
	switch k := v.(type) {
	case string:
		return "s:" + k, true
	case json.Number:
		r, ok := new(big.Rat).SetString(string(k))
		if !ok {
			return "", false
		}
		if r.IsInt() {
			return integerKey(r.Num().String()), true
		}
		f, _ := r.Float64()
		return floatKey(f), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return integerKey(strconv.FormatInt(rv.Int(), 10)), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return integerKey(strconv.FormatUint(rv.Uint(), 10)), true
	case reflect.Float32, reflect.Float64:
		return floatKey(rv.Float()), true
	case reflect.String:
		return "s:" + rv.String(), true
	default:
		return "", false
	}
}

func integerKey(digits string) string {
	return "n:" + digits
}

// floatKey renders integral floats in the same form as integers.
func floatKey(f float64) string {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) {
		i, _ := big.NewFloat(f).Int(nil)
		return integerKey(i.String())
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}

// reconcile attaches each output row to the input row with the same primary
// key. An output key with no source row is a contract violation.
func reconcile[T any](out []outputRow[T], primaryKey string, rows []Row) ([]ArrayRow[T], error) {
	byKey := make(map[string]Row, len(rows))
	for _, row := range rows {
		key, _ := canonicalKey(row[primaryKey])
		byKey[key] = row
	}

	reconciled := make([]ArrayRow[T], 0, len(out))
	for _, o := range out {
		key, ok := canonicalKey(o.key)
		source, found := byKey[key]
		if !ok || !found {
			encoded, _ := json.Marshal(o.key)
			return nil, core.NewSchemaMismatchError(fmt.Sprintf(
				"%sdata[%d].%s %s does not match any input row", invalidDataPrefix, o.index, primaryKey, encoded))
		}
		reconciled = append(reconciled, ArrayRow[T]{
			Key:       source[primaryKey],
			Value:     o.value,
			SourceRow: source,
		})
	}
	return reconciled, nil
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
