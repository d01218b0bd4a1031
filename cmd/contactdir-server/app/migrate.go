package app

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/contactdir/contactdir-server/database"
	"github.com/contactdir/contactdir-server/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long: `Database migration tool for managing schema versions of the sqlite and
database storage types. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := cmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	return cmd
}

// openMigrator returns a migrator for the configured store, with a
// description of the target and a function releasing it
func openMigrator(cfg *config.Config) (database.Migrator, string, func(), error) {
	switch cfg.Storage.Type {
	case config.StorageTypeDatabase:
		if cfg.Database == nil {
			return nil, "", nil, fmt.Errorf("database configuration is required")
		}
		connStr, err := cfg.Database.GetConnectionString()
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to build connection string: %w", err)
		}
		m, err := database.NewPostgresMigrator(connStr)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		target := fmt.Sprintf("postgres %s@%s:%d/%s",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		return m, target, func() {}, nil

	case config.StorageTypeSQLite:
		path := cfg.Storage.GetSQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, "", nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to open database: %w", err)
		}
		m, err := database.NewSQLiteMigrator(db)
		if err != nil {
			_ = db.Close()
			return nil, "", nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, "sqlite " + path, func() { _ = db.Close() }, nil

	default:
		return nil, "", nil, fmt.Errorf("storage type %s has no schema to migrate", cfg.Storage.Type)
	}
}

// confirm asks the user to confirm, reading the answer from in
func confirm(out io.Writer, in io.Reader, question string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s Continue? (yes/no): ", question); err != nil {
		return false, err
	}
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "yes" || answer == "y", nil
}

// reportVersion logs the schema version reached by m
func reportVersion(m database.Migrator) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("No migration applied")
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations applied successfully", "version", version)
	}
}
