package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nuacast/internal/version"
)

func newVersionCommand(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON || o.jq != "" {
				return o.print(cmd, version.Get())
			}
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nuacast version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  build date: %s\n", info.BuildDate)
			fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
