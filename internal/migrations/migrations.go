// Package migrations applies the embedded schema migrations at startup.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var migrationFiles embed.FS

// Run applies all pending migrations. With autoMigrate false it only
// reports the current version and leaves the schema untouched, for
// deployments where the schema is managed out of band.
func Run(db *sql.DB, autoMigrate bool) error {
	sourceDriver, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("get current migration version: %w", err)
	}

	if dirty {
		// A single baseline migration makes force-to-current-version a
		// safe recovery from an interrupted run.
		slog.Warn("Database is in dirty migration state", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("recover dirty migration state at version %d: %w", version, err)
		}
		slog.Info("Recovered dirty migration state", "version", version)
	}

	if !autoMigrate {
		slog.Info("Auto-migration disabled, skipping migrations", "current_version", version)
		return nil
	}

	slog.Info("Running database migrations", "current_version", version)

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			slog.Info("Database schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("get updated migration version: %w", err)
	}
	slog.Info("Database migrations completed", "from_version", version, "to_version", newVersion)
	return nil
}
