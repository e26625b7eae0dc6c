package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nuacast/internal/mockserver"
)

const mockShutdownTimeout = 30 * time.Second

type mockFlags struct {
	addr   string
	apiKey string
	delay  time.Duration
}

func newMockCommand(o *options) *cobra.Command {
	f := &mockFlags{}
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local stand-in for the Nuabase cast service",
		Long: `Run a local stand-in for the Nuabase cast service.

Outputs are synthesized from each request's schema, queued casts complete
after --delay and are pushed over SSE. Point a client at it with
--base-url http://<addr> or NUABASE_BASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMock(cmd, o, f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (default: mock.addr)")
	cmd.Flags().StringVar(&f.apiKey, "mock-api-key", "", "Bearer token clients must send (default: mock.api_key, empty accepts any)")
	cmd.Flags().DurationVar(&f.delay, "delay", -1, "How long queued casts stay pending (default: mock.delay)")
	return cmd
}

func runMock(cmd *cobra.Command, o *options, f *mockFlags) error {
	result, err := o.load()
	if err != nil {
		return err
	}
	cfg := result.Config
	logger, err := o.logger(cmd, cfg)
	if err != nil {
		return err
	}

	addr := cfg.Mock.Addr
	if f.addr != "" {
		addr = f.addr
	}
	apiKey := cfg.Mock.APIKey
	if f.apiKey != "" {
		apiKey = f.apiKey
	}
	delay := cfg.Mock.Delay
	if f.delay >= 0 {
		delay = f.delay
	}

	srv := mockserver.New(mockserver.Config{
		APIKey:          apiKey,
		Delay:           delay,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	if apiKey == "" {
		logger.Warn("mock service accepts any bearer token", "recommendation", "set --mock-api-key to require one")
	}
	logger.Info("mock service listening", "address", addr, "delay", delay)

	select {
	case err := <-errCh:
		if err != nil {
			return newExitError(ExitFailure, "mock service failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down mock service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), mockShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return newExitError(ExitFailure, "mock service shutdown", err)
	}
	return <-errCh
}
