// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/internal/database"
)

// NewSQLite returns a connection to a fully migrated SQLite database in a
// temporary directory. The database is closed when the test ends.
func NewSQLite(t testing.TB) *sqlx.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "noticeboard.db"),
	}
	if err := database.Migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
