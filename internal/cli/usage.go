package cli

import (
	"time"

	"github.com/spf13/cobra"

	"nuacast/internal/app"
	"nuacast/internal/usage"
)

const dateLayout = "2006-01-02"

type usageFlags struct {
	since        string
	until        string
	kind         string
	outputPrefix string
}

func (f *usageFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.since, "since", "", "First day to include (YYYY-MM-DD)")
	flags.StringVar(&f.until, "until", "", "Last day to include (YYYY-MM-DD)")
	flags.StringVar(&f.kind, "kind", "", "Only casts of this kind (cast/value or cast/array)")
	flags.StringVar(&f.outputPrefix, "output", "", "Only outputs whose name starts with this prefix")
}

func (f *usageFlags) query() (usage.Query, error) {
	q := usage.Query{Kind: f.kind, OutputPrefix: f.outputPrefix}
	if f.since != "" {
		t, err := time.Parse(dateLayout, f.since)
		if err != nil {
			return q, newExitError(ExitUsage, "invalid --since", err)
		}
		q.Since = t
	}
	if f.until != "" {
		t, err := time.Parse(dateLayout, f.until)
		if err != nil {
			return q, newExitError(ExitUsage, "invalid --until", err)
		}
		q.Until = t
	}
	return q, nil
}

func newUsageCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report token usage recorded in the local ledger",
		Long: `Report token usage recorded in the local ledger.

Recording is enabled with usage.enabled in the config file or
NUACAST_USAGE_ENABLED=true.`,
	}
	cmd.AddCommand(newUsageSummaryCommand(o), newUsagePeriodsCommand(o), newUsageRecentCommand(o))
	return cmd
}

func newUsageSummaryCommand(o *options) *cobra.Command {
	f := &usageFlags{}
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Totals for the selected casts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := f.query()
			if err != nil {
				return err
			}
			return withReader(cmd, o, func(r usage.Reader) error {
				summary, err := r.Summary(cmd.Context(), q)
				if err != nil {
					return err
				}
				return o.print(cmd, summary)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newUsagePeriodsCommand(o *options) *cobra.Command {
	f := &usageFlags{}
	var interval string
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "Totals grouped by day, week, month or year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := usage.ValidateInterval(interval); err != nil {
				return newExitError(ExitUsage, "invalid --interval", err)
			}
			q, err := f.query()
			if err != nil {
				return err
			}
			q.Interval = interval
			return withReader(cmd, o, func(r usage.Reader) error {
				periods, err := r.Periods(cmd.Context(), q)
				if err != nil {
					return err
				}
				if periods == nil {
					periods = []usage.Period{}
				}
				return o.print(cmd, periods)
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&interval, "interval", usage.IntervalDaily, "daily, weekly, monthly or yearly")
	return cmd
}

func newUsageRecentCommand(o *options) *cobra.Command {
	f := &usageFlags{}
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "The most recent ledger entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := f.query()
			if err != nil {
				return err
			}
			q.Limit, q.Offset = limit, offset
			return withReader(cmd, o, func(r usage.Reader) error {
				entries, err := r.Recent(cmd.Context(), q)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []usage.Entry{}
				}
				return o.print(cmd, entries)
			})
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	return cmd
}

// withReader opens the ledger without building a client, so reports work
// without credentials.
func withReader(cmd *cobra.Command, o *options, fn func(usage.Reader) error) error {
	result, err := o.load()
	if err != nil {
		return err
	}
	if !result.Config.Usage.Enabled {
		return newExitError(ExitConfig, "usage ledger is disabled (set usage.enabled or NUACAST_USAGE_ENABLED=true)", nil)
	}
	logger, err := o.logger(cmd, result.Config)
	if err != nil {
		return err
	}

	ledger, err := app.OpenLedger(cmd.Context(), result.Config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			cmd.PrintErrln("warning:", err)
		}
	}()
	return fn(ledger.Reader)
}
