// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"tma-auth/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run applies migrations in the given direction inside schema. dsn must already select schema
// through search_path (see config.Environment.DSN) so the tables and the schema_migrations
// bookkeeping land in the environment's own namespace. direction must be "up" or "down".
func Run(ctx context.Context, dsn, schema, direction string) error {
	if dsn == "" {
		return errors.New("database URL is not set; set DATABASE_URL_DEV or DATABASE_URL_PROD")
	}
	if schema == "" {
		return errors.New("database schema is not set")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	if direction == "up" {
		conn, err := db.Open(dsn)
		if err != nil {
			return fmt.Errorf("migrate: open: %w", err)
		}
		err = db.EnsureSchema(ctx, conn, schema)
		_ = conn.Close()
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
