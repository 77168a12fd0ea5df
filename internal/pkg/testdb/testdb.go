// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package testdb provides a migrated Postgres database for integration
// tests. Tests using it are skipped unless [EnvDSN] is set.
package testdb

import (
	"context"
	"os"
	"testing"

	"github.com/uptrace/bun"

	"github.com/ace-ecosystem/ace/internal/pkg/migrations"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	dbutils "github.com/ace-ecosystem/ace/pkg/utils/db"
)

// EnvDSN is the environment variable, which specifies the DSN of the
// database used by integration tests.
const EnvDSN = "ACE_POSTGRES_DSN_INTEGRATION"

// tables are truncated before each test.
var tables = []string{
	"locks",
	"work_distribution",
	"incoming_workload",
	"work_distribution_groups",
	"incoming_workload_type",
	"workload",
	"node_modes",
	"node_modes_excluded",
	"nodes",
}

// New returns a connection to the integration test database with all
// migrations applied and all tables empty.
func New(t *testing.T) *bun.DB {
	t.Helper()

	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("set %s to run Postgres integration tests", EnvDSN)
	}

	db, err := dbutils.NewFromConfig(config.DatabaseConfig{DSN: dsn}, false)
	if err != nil {
		t.Fatalf("cannot connect to database: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if _, err := migrations.Apply(ctx, db, migrations.Migrations); err != nil {
		t.Fatalf("cannot apply migrations: %s", err)
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "TRUNCATE TABLE ? RESTART IDENTITY CASCADE", bun.Ident(table)); err != nil {
			t.Fatalf("cannot truncate %s: %s", table, err)
		}
	}

	return db
}
