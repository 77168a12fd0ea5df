// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package migrations bundles the schema of the ACE scheduling store: the
// named locks, the node registry and the work distribution queue.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"os"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var sqlMigrations embed.FS

// Migrations provides the bundled database migrations.
var Migrations = migrate.NewMigrations()

// Load returns the migrations discovered in dir, or the bundled
// [Migrations] when dir is empty.
func Load(dir string) (*migrate.Migrations, error) {
	if dir == "" {
		return Migrations, nil
	}

	m := migrate.NewMigrations(migrate.WithMigrationsDirectory(dir))
	if err := m.Discover(os.DirFS(dir)); err != nil {
		return nil, fmt.Errorf("cannot discover migrations in %s: %w", dir, err)
	}

	return m, nil
}

// Apply initializes the migration tables and applies all pending migrations
// while holding the migration lock. It returns the applied group, which is
// empty when the schema is up to date.
func Apply(ctx context.Context, db *bun.DB, m *migrate.Migrations) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, m)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("cannot init migrator: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("cannot lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	return migrator.Migrate(ctx)
}

func init() {
	if err := Migrations.Discover(sqlMigrations); err != nil {
		panic(err)
	}
}
