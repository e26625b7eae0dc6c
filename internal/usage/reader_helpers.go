package usage

import (
	"fmt"
	"strings"
	"time"
)

// escapeLikeWildcards escapes SQL LIKE wildcard characters in user input.
// Escapes \, %, and _.
func escapeLikeWildcards(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// buildWhereClause joins condition strings into a SQL WHERE clause.
// Returns an empty string when conditions is empty.
func buildWhereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// clampLimitOffset normalises pagination parameters:
//   - limit defaults to 50 and is capped at 200
//   - offset floors at 0
func clampLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// sqlDialect captures the differences between the SQL backends.
type sqlDialect struct {
	placeholder func(n int) string
	timeArg     func(time.Time) any
}

var (
	sqliteDialect = sqlDialect{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
	}
	postgresDialect = sqlDialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		timeArg:     func(t time.Time) any { return t },
	}
)

// where renders the filter part of q.
func (d sqlDialect) where(q Query) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, d.placeholder(len(args))))
	}

	from, to := q.bounds()
	if !from.IsZero() {
		add("timestamp >= %s", d.timeArg(from))
	}
	if !to.IsZero() {
		add("timestamp < %s", d.timeArg(to))
	}
	if q.Kind != "" {
		add("kind = %s", q.Kind)
	}
	if q.OutputPrefix != "" {
		add(`output_name LIKE %s ESCAPE '\'`, escapeLikeWildcards(q.OutputPrefix)+"%")
	}
	return buildWhereClause(conditions), args
}

const summaryColumns = `COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cache_hits), 0), COALESCE(SUM(input_rows), 0)`

const periodColumns = `COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0)`

const entryColumns = `id, request_id, timestamp, kind, output_name, fingerprint,
	prompt_tokens, completion_tokens, total_tokens, cache_hits, input_rows, rows_with_no_results`
