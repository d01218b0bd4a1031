package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactdir/contactdir-server/internal/app"
	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/telemetry"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	telemetryFlushTimeout  = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the directory API server and the sync scheduler",
		Long: `Start the directory API server. The sync scheduler pulls the remote
contact source periodically, and POST /v1/sync triggers a sync on demand.

The server requires a configuration file (--config) that specifies the
contact source, the sync schedule, the local storage and optional telemetry
and event settings. See examples/ directory for sample configurations.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	addConfigFlag(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	opts := []app.DirectoryAppOptions{
		app.WithConfig(cfg),
		app.WithAddress(address),
	}
	opts = append(opts, telemetryOptions(cfg, tel)...)

	directoryApp, err := app.NewDirectoryApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return directoryApp.Run(ctx, defaultGracefulTimeout)
}

// telemetryOptions wires the providers enabled in the configuration
func telemetryOptions(cfg *config.Config, tel *telemetry.Telemetry) []app.DirectoryAppOptions {
	tc := cfg.Telemetry
	if tc == nil || !tc.Enabled {
		return nil
	}

	var opts []app.DirectoryAppOptions
	if tc.Tracing != nil && tc.Tracing.Enabled {
		opts = append(opts, app.WithTracerProvider(tel.TracerProvider()))
	}
	if tc.Metrics != nil && tc.Metrics.Enabled {
		opts = append(opts, app.WithMeterProvider(tel.MeterProvider()))
		if h := tel.MetricsHandler(); h != nil {
			opts = append(opts, app.WithMetricsHandler(h))
		}
	}
	return opts
}
