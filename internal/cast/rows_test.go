package cast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuacast/internal/core"
)

type review struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

func TestRowsFrom(t *testing.T) {
	t.Run("structs use json tags", func(t *testing.T) {
		rows, err := RowsFrom([]review{{ID: 1, Text: "good"}, {ID: 2, Text: "bad"}})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, json.Number("1"), rows[0]["id"])
		assert.Equal(t, "bad", rows[1]["text"])
	})

	t.Run("rows pass through", func(t *testing.T) {
		in := []Row{{"id": "a"}}
		rows, err := RowsFrom(in)
		require.NoError(t, err)
		assert.Equal(t, in, rows)
	})

	t.Run("nil slice is empty", func(t *testing.T) {
		var in []review
		rows, err := RowsFrom(in)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	errorCases := []struct {
		name    string
		in      any
		wantMsg string
	}{
		{"nil", nil, "`data` must be an array of objects."},
		{"not a slice", map[string]any{"id": 1}, "`data` must be an array of objects."},
		{"scalar element", []any{map[string]any{"id": 1}, 5}, "data[1] must be a non-null object."},
		{"null element", []*review{nil}, "data[0] must be a non-null object."},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RowsFrom(tt.in)
			require.Error(t, err)
			assert.True(t, core.IsValidation(err))
			assert.Equal(t, tt.wantMsg, core.MessageFromError(err))
		})
	}
}

func TestRowsFrom_KeysReconcileWithServiceNumbers(t *testing.T) {
	rows, err := RowsFrom([]review{{ID: 7, Text: "ok"}})
	require.NoError(t, err)

	out := []outputRow[sentiment]{{index: 0, key: json.Number("7"), value: sentiment{Label: "neutral"}}}
	reconciled, err := reconcile(out, "id", rows)
	require.NoError(t, err)
	require.Len(t, reconciled, 1)
	assert.Equal(t, rows[0], reconciled[0].SourceRow)
}

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"string", "7", "s:7", true},
		{"int", 7, "n:7", true},
		{"int64", int64(7), "n:7", true},
		{"uint8", uint8(7), "n:7", true},
		{"float", 7.0, "n:7", true},
		{"fraction", 7.5, "n:7.5", true},
		{"json number", json.Number("7"), "n:7", true},
		{"json number with fraction digits", json.Number("7.0"), "n:7", true},
		{"json number exponent", json.Number("7e2"), "n:700", true},
		{"json number fraction", json.Number("7.5"), "n:7.5", true},
		{"int64 beyond float precision", int64(9007199254740993), "n:9007199254740993", true},
		{"uint64 max", uint64(18446744073709551615), "n:18446744073709551615", true},
		{"json number beyond float precision", json.Number("9007199254740993"), "n:9007199254740993", true},
		{"large integral float", 1e21, "n:1000000000000000000000", true},
		{"malformed json number", json.Number("7x"), "", false},
		{"bool", true, "", false},
		{"nil", nil, "", false},
		{"object", map[string]any{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := canonicalKey(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRows_LargeIntegerKeysStayDistinct(t *testing.T) {
	rows := []Row{
		{"id": int64(9007199254740993), "name": "a"},
		{"id": int64(9007199254740992), "name": "b"},
	}
	require.NoError(t, ValidateRows(rows, "id"))

	numbers := []Row{{"id": json.Number("9007199254740993")}, {"id": json.Number("9007199254740992")}}
	require.NoError(t, ValidateRows(numbers, "id"))

	out := []outputRow[sentiment]{{index: 0, key: json.Number("9007199254740992"), value: sentiment{Label: "neutral"}}}
	reconciled, err := reconcile(out, "id", rows)
	require.NoError(t, err)
	require.Len(t, reconciled, 1)
	assert.Equal(t, rows[1], reconciled[0].SourceRow)

	_, err = reconcile(out, "id", rows[:1])
	require.Error(t, err)
	assert.True(t, core.IsSchemaMismatch(err))
	assert.Contains(t, err.Error(), "9007199254740992 does not match any input row")
}
