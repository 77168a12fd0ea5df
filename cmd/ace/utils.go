// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/olekukonko/tablewriter"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/internal/pkg/migrations"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	dbutils "github.com/ace-ecosystem/ace/pkg/utils/db"
)

// na is the value printed for fields which are not set.
const na = "N/A"

// errNoRedisEndpoint is returned when the Redis endpoint is not configured.
var errNoRedisEndpoint = errors.New("no redis endpoint specified")

// errNoDashboardAddress is returned when the dashboard address is not
// configured.
var errNoDashboardAddress = errors.New("no dashboard address specified")

// configKey is the key used to store the parsed configuration in the
// context.
type configKey struct{}

// getConfig extracts the configuration from the specified context.
func getConfig(ctx *cli.Context) *config.Config {
	conf, ok := ctx.Context.Value(configKey{}).(*config.Config)
	if !ok {
		panic("configuration not found in context")
	}

	return conf
}

// validateRedisConfig validates the Redis settings.
func validateRedisConfig(conf *config.Config) error {
	if conf.Redis.Endpoint == "" {
		return errNoRedisEndpoint
	}

	return nil
}

// validateDBConfig validates the database settings.
func validateDBConfig(conf *config.Config) error {
	if conf.Database.DSN == "" {
		return dbutils.ErrInvalidDSN
	}

	return nil
}

// validateDashboardConfig validates the dashboard settings.
func validateDashboardConfig(conf *config.Config) error {
	if conf.Dashboard.Address == "" {
		return errNoDashboardAddress
	}

	return nil
}

// newTableWriter returns a new table writer with the given headers.
func newTableWriter(w io.Writer, headers []string) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithHeader(headers))
}

// newRedisClientOpt returns the Redis connection options of asynq.
func newRedisClientOpt(conf *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr: conf.Redis.Endpoint,
	}
}

// newInspector returns a new [asynq.Inspector].
func newInspector(conf *config.Config) *asynq.Inspector {
	return asynq.NewInspector(newRedisClientOpt(conf))
}

// newAsynqClient returns a new [asynq.Client].
func newAsynqClient(conf *config.Config) *asynq.Client {
	return asynq.NewClient(newRedisClientOpt(conf))
}

// newScheduler creates a new [asynq.Scheduler].
func newScheduler(conf *config.Config) *asynq.Scheduler {
	preEnqueueFunc := func(t *asynq.Task, _ []asynq.Option) {
		slog.Info("enqueueing task", "name", t.Type())
	}

	postEnqueueFunc := func(info *asynq.TaskInfo, err error) {
		if err != nil {
			slog.Error("failed to enqueue task", "reason", err)

			return
		}
		slog.Info("enqueued task", "name", info.Type, "id", info.ID, "queue", info.Queue)
	}

	opts := &asynq.SchedulerOpts{
		PreEnqueueFunc:  preEnqueueFunc,
		PostEnqueueFunc: postEnqueueFunc,
	}

	return asynq.NewScheduler(newRedisClientOpt(conf), opts)
}

// newDB returns a Bun database for the configured DSN.
func newDB(conf *config.Config) (*bun.DB, error) {
	return dbutils.NewFromConfig(conf.Database, conf.Debug)
}

// newMigrator returns a new [migrate.Migrator]. The bundled migrations are
// used, unless an alternate migrations directory is configured.
func newMigrator(conf *config.Config, db *bun.DB) (*migrate.Migrator, error) {
	m, err := migrations.Load(conf.Database.MigrationDirectory)
	if err != nil {
		return nil, err
	}

	return migrate.NewMigrator(db, m), nil
}

// formatTime formats the optional time, or returns [na].
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return na
	}

	return t.Format(time.RFC3339)
}
