package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements Reader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL ledger reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func (r *PostgreSQLReader) Summary(ctx context.Context, q Query) (*Summary, error) {
	where, args := postgresDialect.where(q)

	s := &Summary{}
	err := r.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM cast_usage`+where, args...).Scan(
		&s.Casts, &s.PromptTokens, &s.CompletionTokens, &s.TotalTokens, &s.CacheHits, &s.Rows,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	return s, nil
}

func pgGroupExpr(interval string) string {
	switch interval {
	case IntervalWeekly:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'IYYY-"W"IW')`
	case IntervalMonthly:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM')`
	case IntervalYearly:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY')`
	default:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD')`
	}
}

func (r *PostgreSQLReader) Periods(ctx context.Context, q Query) ([]Period, error) {
	if err := ValidateInterval(q.Interval); err != nil {
		return nil, err
	}
	groupExpr := pgGroupExpr(q.Interval)
	where, args := postgresDialect.where(q)

	query := fmt.Sprintf(`SELECT %s AS period, %s FROM cast_usage%s GROUP BY period ORDER BY period`,
		groupExpr, periodColumns, where)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage periods: %w", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Period, error) {
		var p Period
		err := row.Scan(&p.Label, &p.Casts, &p.PromptTokens, &p.CompletionTokens, &p.TotalTokens)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage periods: %w", err)
	}
	return result, nil
}

func (r *PostgreSQLReader) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit, offset := clampLimitOffset(q.Limit, q.Offset)
	where, args := postgresDialect.where(q)
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT id::text, request_id, timestamp, kind, output_name, fingerprint,
		prompt_tokens, completion_tokens, total_tokens, cache_hits, input_rows, rows_with_no_results
		FROM cast_usage%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage entries: %w", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Kind, &e.OutputName, &e.Fingerprint,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.CacheHits, &e.Rows, &e.RowsWithNoResults)
		e.Timestamp = e.Timestamp.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage entries: %w", err)
	}
	return result, nil
}
