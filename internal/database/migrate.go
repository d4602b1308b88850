package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"  // mysql:// URLs
	_ "github.com/golang-migrate/migrate/v4/database/sqlite" // sqlite:// URLs
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

//go:embed migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Migrate applies every pending schema migration for the configured driver.
// It opens its own connection so the application pool is unaffected.
func Migrate(cfg config.DatabaseConfig) error {
	src, err := iofs.New(migrationFiles, "migrations/"+string(cfg.Driver))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator: source=%v database=%v", srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("Database schema at version %d (%s)", version, cfg.Driver)
	return nil
}
