package cli

import (
	"time"

	"github.com/spf13/cobra"

	"nuacast/pkg/nua"
)

func newWaitCommand(o *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <channel-url>",
		Short: "Wait for a queued cast and print its raw result",
		Long: `Subscribe to the channel URL of a queued cast (the sseUrl printed by
'cast --no-wait') and print the result payload once it is pushed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdown(cmd, a)

			var opts []nua.WaitOption
			if timeout > 0 {
				opts = append(opts, nua.WithWaitTimeout(timeout))
			}
			payload, err := a.Client().Wait(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			return o.print(cmd, payload)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait (default: wait.timeout)")
	return cmd
}

func newRequestCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Inspect cast requests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Fetch the stored record of a cast request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer shutdown(cmd, a)

			record, err := a.Client().GetRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.print(cmd, record)
		},
	})
	return cmd
}
