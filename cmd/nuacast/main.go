// Package main is the entry point for the nuacast command line.
package main

import (
	"context"
	"os"

	"nuacast/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(cli.PrintError(cmd.ErrOrStderr(), err))
	}
}
