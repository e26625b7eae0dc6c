package usage

import (
	"context"
	"fmt"
	"time"
)

// Intervals accepted by Query.Interval.
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// Query selects ledger entries. Zero fields do not filter.
type Query struct {
	Since time.Time // inclusive, day precision
	Until time.Time // inclusive, day precision

	Kind         string
	OutputPrefix string

	// Interval groups Periods results; empty means daily.
	Interval string

	// Limit and Offset page Recent results.
	Limit  int
	Offset int
}

// Summary aggregates the entries matched by a Query.
type Summary struct {
	Casts            int   `json:"casts"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	CacheHits        int64 `json:"cache_hits"`
	Rows             int64 `json:"rows"`
}

// Period aggregates one interval.
// Label is YYYY-MM-DD (daily), YYYY-Www (weekly), YYYY-MM (monthly) or YYYY (yearly).
type Period struct {
	Label            string `json:"period"`
	Casts            int    `json:"casts"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// Reader provides read access to the ledger.
type Reader interface {
	Summary(ctx context.Context, q Query) (*Summary, error)
	Periods(ctx context.Context, q Query) ([]Period, error)
	// Recent lists entries, newest first.
	Recent(ctx context.Context, q Query) ([]Entry, error)
}

// ValidateInterval rejects unknown interval names.
func ValidateInterval(interval string) error {
	switch interval {
	case "", IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return nil
	default:
		return fmt.Errorf("unknown interval %q (valid: daily, weekly, monthly, yearly)", interval)
	}
}

// bounds converts Since/Until into a half-open UTC range [from, to).
func (q Query) bounds() (from, to time.Time) {
	if !q.Since.IsZero() {
		from = startOfDay(q.Since)
	}
	if !q.Until.IsZero() {
		to = startOfDay(q.Until).AddDate(0, 0, 1)
	}
	return from, to
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
