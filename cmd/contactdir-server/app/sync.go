package app

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactdir/contactdir-server/internal/app"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/sync/coordinator"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync in process and print the resulting state",
		Long: `Run a single sync of the configured contact source into the local store,
without starting the HTTP server or the scheduler. The command fails when the
sync does not end in Success. Interrupting it cancels the sync.`,
		RunE: runSync,
	}
	addConfigFlag(cmd)
	cmd.Flags().String("format", "table", "Output format (table or json)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	directoryApp, err := app.NewDirectoryApp(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() {
		if err := directoryApp.Stop(defaultGracefulTimeout); err != nil {
			slog.Warn("Failed to stop application", "error", err)
		}
	}()

	coord := directoryApp.Components().SyncCoordinator
	if !coord.RequestSync(coordinator.TriggerManual) {
		return fmt.Errorf("a sync is already running")
	}

	finished := make(chan struct{})
	go func() {
		coord.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		slog.Info("Interrupted, cancelling sync")
		if err := coord.Stop(); err != nil {
			slog.Warn("Sync did not stop cleanly", "error", err)
		}
	}

	final := coord.Status()
	if err := printState(cmd.OutOrStdout(), final, format, time.Now()); err != nil {
		return err
	}
	if final.Status != status.StatusSuccess {
		return fmt.Errorf("sync ended with status %s", final.Status)
	}
	return nil
}

