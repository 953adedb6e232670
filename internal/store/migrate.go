// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema named in section 6 (pbs_server, pbs_sched,
// pbs_queue, pbs_job, pbs_resv, pbs_node, pbs_jobscript,
// pbs_mominfo_time) up to the latest version. Only the embedded numbered
// migrations run; no upgrade of pre-21 jobfiles is performed. Any future
// schema change to the pbs_job row layout ships as a new numbered
// migration rather than an in-place field patch, so the on-disk record
// stays versioned.
func (s *Store) Migrate(driverName string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	var dbDriver interface {
		Close() error
	}
	var m *migrate.Migrate

	switch driverName {
	case "sqlite3":
		driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("store: sqlite3 migrate driver: %w", err)
		}
		dbDriver = driver
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			return fmt.Errorf("store: migrate instance: %w", err)
		}
	case "postgres":
		driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("store: postgres migrate driver: %w", err)
		}
		dbDriver = driver
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		if err != nil {
			return fmt.Errorf("store: migrate instance: %w", err)
		}
	default:
		return fmt.Errorf("store: unsupported driver %q for migration", driverName)
	}
	defer dbDriver.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}
