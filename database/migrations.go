// Package database provides schema migrations for the SQL contact stores.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const (
	// DialectPostgres selects the PostgreSQL migrations
	DialectPostgres = "postgres"
	// DialectSQLite selects the SQLite migrations
	DialectSQLite = "sqlite"
)

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
}

// migrationsFromSource returns a migration source driver for the given dialect
func migrationsFromSource(dialect string) (source.Driver, error) {
	d, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s migrations: %w", dialect, err)
	}
	return d, nil
}

// NewPostgresMigrator returns a migrator for a postgres:// or postgresql:// connection string
func NewPostgresMigrator(connString string) (Migrator, error) {
	d, err := migrationsFromSource(DialectPostgres)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", d, toPgx5URL(connString))
}

// NewSQLiteMigrator returns a migrator working on an open SQLite database.
// The migrator shares db and must not be closed independently.
func NewSQLiteMigrator(db *sql.DB) (Migrator, error) {
	d, err := migrationsFromSource(DialectSQLite)
	if err != nil {
		return nil, err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", d, DialectSQLite, driver)
}

// MigrateUp applies all pending migrations, treating "no change" as success
func MigrateUp(m Migrator) error {
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// toPgx5URL rewrites the scheme so golang-migrate picks the pgx v5 driver
func toPgx5URL(connString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connString, prefix) {
			return "pgx5://" + strings.TrimPrefix(connString, prefix)
		}
	}
	return connString
}
