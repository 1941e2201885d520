// Package migrations holds the embedded kv_store schema for the SQL backends
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/Rrens/zyra/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed postgres/*.sql mysql/*.sql sqlite/*.sql
var files embed.FS

// Supports reports whether driver has SQL migrations
func Supports(driver string) bool {
	switch driver {
	case "postgres", "mysql", "sqlite":
		return true
	}
	return false
}

// DatabaseURL builds the golang-migrate URL for the configured driver
func DatabaseURL(cfg config.StorageConfig) (string, error) {
	switch cfg.Driver {
	case "postgres":
		return cfg.Postgres.DSN(), nil
	case "mysql":
		return "mysql://" + cfg.MySQL.MySQLDSN(), nil
	case "sqlite":
		return "sqlite://" + cfg.SQLite.Path, nil
	}
	return "", fmt.Errorf("storage driver %s has no migrations", cfg.Driver)
}

func newMigrate(cfg config.StorageConfig) (*migrate.Migrate, error) {
	if !Supports(cfg.Driver) {
		return nil, fmt.Errorf("storage driver %s has no migrations", cfg.Driver)
	}

	src, err := iofs.New(files, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	dbURL, err := DatabaseURL(cfg)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations
func Up(cfg config.StorageConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Str("driver", cfg.Driver).Msg("Database migration: no changes")
			return nil
		}
		return fmt.Errorf("failed to run migrate up: %w", err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("Database migration: success")
	return nil
}

// Down rolls back the last applied migration
func Down(cfg config.StorageConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("failed to run migrate down: %w", err)
	}
	return nil
}

// Version returns the current schema version
func Version(cfg config.StorageConfig) (uint, bool, error) {
	m, err := newMigrate(cfg)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read version: %w", err)
	}
	return version, dirty, nil
}
