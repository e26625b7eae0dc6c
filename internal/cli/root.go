// Package cli implements the nuacast command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"nuacast/config"
	"nuacast/internal/app"
	"nuacast/internal/logging"
	"nuacast/internal/version"
	"nuacast/pkg/nua"
)

// options are the global flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	apiKey     string
	baseURL    string
	jq         string
	compact    bool

	// environment replaces the process environment seen by the client.
	environment *nua.Environment
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{})
}

func newRootCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nuacast",
		Short: "nuacast - structured extraction with Nuabase",
		Long: `nuacast sends prompts and data to the Nuabase cast service and prints
results validated against a JSON Schema.

Run 'nuacast mock' to start a local stand-in for the service.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(version.Info() + "\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newExitError(ExitUsage, "invalid flags", err)
	})

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "Path to config file (default: config.yaml or config/config.yaml)")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&o.apiKey, "api-key", "", "Nuabase API key (default: NUABASE_API_KEY)")
	flags.StringVar(&o.baseURL, "base-url", "", "Nuabase API base URL (default: NUABASE_BASE_URL)")
	flags.StringVar(&o.jq, "jq", "", "jq expression applied to the JSON output")
	flags.BoolVar(&o.compact, "compact", false, "Print JSON on a single line")

	cmd.AddCommand(
		newCastCommand(o),
		newWaitCommand(o),
		newRequestCommand(o),
		newUsageCommand(o),
		newMockCommand(o),
		newVersionCommand(o),
	)
	return cmd
}

// load reads the configuration and applies the global flag overrides.
func (o *options) load() (*config.LoadResult, error) {
	result, err := config.Load(o.configPath)
	if err != nil {
		return nil, newExitError(ExitConfig, "failed to load configuration", err)
	}
	cfg := result.Config
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.apiKey != "" {
		cfg.Nuabase.APIKey = o.apiKey
	}
	if o.baseURL != "" {
		cfg.Nuabase.BaseURL = o.baseURL
	}
	return result, nil
}

func (o *options) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cmd.ErrOrStderr(),
		NoColor: cfg.Logging.NoColor,
	})
	if err != nil {
		return nil, newExitError(ExitConfig, "invalid logging configuration", err)
	}
	return logger, nil
}

// openApp builds the client stack. The caller must Shutdown the result.
func (o *options) openApp(cmd *cobra.Command) (*app.App, error) {
	result, err := o.load()
	if err != nil {
		return nil, err
	}
	logger, err := o.logger(cmd, result.Config)
	if err != nil {
		return nil, err
	}

	a, err := app.New(cmd.Context(), app.Config{
		AppConfig:   result,
		Logger:      logger,
		Registerer:  prometheus.NewRegistry(),
		Environment: o.environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

func shutdown(cmd *cobra.Command, a *app.App) {
	if err := a.Shutdown(cmd.Context()); err != nil {
		cmd.PrintErrln("warning:", err)
	}
}
