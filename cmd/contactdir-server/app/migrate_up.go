package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/contactdir/contactdir-server/database"
)

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations to bring the schema up to date.
This command reads the storage settings from the config file and applies all
migrations that haven't been run yet, or --num-steps of them.`,
		RunE: runMigrateUp,
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
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
		ok, err := confirm(cmd.OutOrStdout(), cmd.InOrStdin(), "About to apply migrations to "+target+".")
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	slog.Info("Applying database migrations", "target", target, "steps", steps)
	if steps > 0 {
		err = m.Steps(int(steps))
	} else {
		err = database.MigrateUp(m)
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reportVersion(m)
	return nil
}
