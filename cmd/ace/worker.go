// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	asynqclient "github.com/ace-ecosystem/ace/pkg/clients/asynq"
	dbclient "github.com/ace-ecosystem/ace/pkg/clients/db"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	asynqutils "github.com/ace-ecosystem/ace/pkg/utils/asynq"
	"github.com/ace-ecosystem/ace/pkg/utils/asynq/worker"
)

// NewWorkerCommand returns a new command for interfacing with the workers.
func NewWorkerCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "worker",
		Usage:   "worker operations",
		Aliases: []string{"w"},
		Before: func(ctx *cli.Context) error {
			conf := getConfig(ctx)
			validatorFuncs := []func(c *config.Config) error{
				validateRedisConfig,
				validateDBConfig,
			}

			for _, validator := range validatorFuncs {
				if err := validator(conf); err != nil {
					return err
				}
			}

			return nil
		},
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Usage:   "start the workers",
				Aliases: []string{"s"},
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "concurrency",
						Usage:   "number of concurrent workers to start",
						EnvVars: []string{"CONCURRENCY_LEVEL"},
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					if ctx.IsSet("concurrency") {
						conf.Worker.Concurrency = ctx.Int("concurrency")
					}

					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					client := newAsynqClient(conf)
					defer client.Close() // nolint: errcheck
					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck

					// Initialize clients in workers
					dbclient.SetDB(db)
					asynqclient.SetClient(client)
					asynqclient.SetInspector(inspector)

					if conf.Metrics.Address != "" {
						server := metrics.NewServer(conf.Metrics.Address, conf.Metrics.Path)
						go func() {
							slog.Info("starting metrics server", "address", conf.Metrics.Address, "path", conf.Metrics.Path)
							if err := server.ListenAndServe(); err != nil {
								slog.Error("metrics server failed", "reason", err)
							}
						}()
					}

					errorHandler := func(ctx context.Context, task *asynq.Task, err error) {
						slog.ErrorContext(ctx, "task failed", "name", task.Type(), "reason", err)
					}
					w := worker.NewFromConfig(
						newRedisClientOpt(conf),
						conf.Worker,
						worker.WithBaseContext(ctx.Context),
						worker.WithErrorHandler(asynq.ErrorHandlerFunc(errorHandler)),
					)
					w.UseMiddlewares(
						asynqutils.NewLoggerMiddleware(slog.Default(), conf.Node.Name),
						asynqutils.NewMeasuringMiddleware(),
						asynqutils.NewMetricsMiddleware(),
					)

					// Register our task handlers
					for _, name := range registry.TaskRegistry.Keys() {
						slog.Info("registering task", "name", name)
					}
					w.HandlersFromRegistry(registry.TaskRegistry)

					return w.Run()
				},
			},
		},
	}

	return cmd
}
