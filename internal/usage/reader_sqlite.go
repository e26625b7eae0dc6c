package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteReader implements Reader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite ledger reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) Summary(ctx context.Context, q Query) (*Summary, error) {
	where, args := sqliteDialect.where(q)

	s := &Summary{}
	err := r.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM cast_usage`+where, args...).Scan(
		&s.Casts, &s.PromptTokens, &s.CompletionTokens, &s.TotalTokens, &s.CacheHits, &s.Rows,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	return s, nil
}

func sqliteGroupExpr(interval string) string {
	switch interval {
	case IntervalWeekly:
		return `strftime('%G-W%V', timestamp)`
	case IntervalMonthly:
		return `strftime('%Y-%m', timestamp)`
	case IntervalYearly:
		return `strftime('%Y', timestamp)`
	default:
		return `DATE(timestamp)`
	}
}

func (r *SQLiteReader) Periods(ctx context.Context, q Query) ([]Period, error) {
	if err := ValidateInterval(q.Interval); err != nil {
		return nil, err
	}
	groupExpr := sqliteGroupExpr(q.Interval)
	where, args := sqliteDialect.where(q)

	query := fmt.Sprintf(`SELECT %s AS period, %s FROM cast_usage%s GROUP BY period ORDER BY period`,
		groupExpr, periodColumns, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage periods: %w", err)
	}
	defer rows.Close()

	result := make([]Period, 0)
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.Label, &p.Casts, &p.PromptTokens, &p.CompletionTokens, &p.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage period: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage periods: %w", err)
	}
	return result, nil
}

func (r *SQLiteReader) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit, offset := clampLimitOffset(q.Limit, q.Offset)
	where, args := sqliteDialect.where(q)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM cast_usage`+where+` ORDER BY timestamp DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage entries: %w", err)
	}
	defer rows.Close()

	result := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var ts any
		if err := rows.Scan(&e.ID, &e.RequestID, &ts, &e.Kind, &e.OutputName, &e.Fingerprint,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.CacheHits, &e.Rows, &e.RowsWithNoResults); err != nil {
			return nil, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		if e.Timestamp, err = sqliteTime(ts); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage entries: %w", err)
	}
	return result, nil
}

// sqliteTime accepts the driver's representation of a DATETIME column.
func sqliteTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseStoredTime(t)
	case []byte:
		return parseStoredTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
