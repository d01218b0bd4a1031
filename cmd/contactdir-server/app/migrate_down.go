package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Long: `Revert database migrations. Without --num-steps every migration is
reverted, which drops all contacts and the sync state.`,
		RunE: runMigrateDown,
	}
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	m, target, release, err := openMigrator(cfg)
	if err != nil {
		return err
	}
	defer release()

	if !yes {
		question := fmt.Sprintf("About to revert %d migration(s) on %s.", steps, target)
		if steps == 0 {
			question = "About to revert ALL migrations on " + target + ", deleting all data."
		}
		ok, err := confirm(cmd.OutOrStdout(), cmd.InOrStdin(), question)
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	if steps > 0 {
		err = m.Steps(-int(steps))
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	reportVersion(m)
	return nil
}
