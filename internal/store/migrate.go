package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationState is the schema version after a migration action.
type MigrationState struct {
	Version uint
	Dirty   bool
	// Applied is false when the database has no migration recorded.
	Applied bool
}

// Migrate runs action (up, down or version) against the postgres database at dsn.
func Migrate(dsn, action string) (MigrationState, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return MigrationState{}, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return MigrationState{}, fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return MigrationState{}, err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return MigrationState{}, err
		}
	case "version":
	default:
		return MigrationState{}, fmt.Errorf("unsupported migration action %q", action)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{}, nil
	}
	if err != nil {
		return MigrationState{}, err
	}
	return MigrationState{Version: version, Dirty: dirty, Applied: true}, nil
}
