// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/core/registry"
)

// NewSchedulerCommand returns a new command for interfacing with the scheduler.
func NewSchedulerCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "scheduler",
		Usage:   "scheduler operations",
		Aliases: []string{"s"},
		Before: func(ctx *cli.Context) error {
			return validateRedisConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Usage:   "start the scheduler",
				Aliases: []string{"s"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					scheduler := newScheduler(conf)
					queue := conf.Scheduler.DefaultQueue

					// Periodic maintenance tasks from the registry
					walker := func(name string, item registry.ScheduledTask) error {
						id, err := scheduler.Register(item.Spec, item.Task, asynq.Queue(queue))
						if err != nil {
							return fmt.Errorf("cannot register %s: %w", name, err)
						}
						slog.Info(
							"periodic task registered",
							"id", id,
							"name", name,
							"spec", item.Spec,
							"queue", queue,
							"source", "registry",
						)

						return nil
					}
					if err := registry.ScheduledTaskRegistry.Range(walker); err != nil {
						return err
					}

					// Tasks from the configuration file
					for _, job := range conf.Scheduler.Jobs {
						task := asynq.NewTask(job.Name, []byte(job.Payload))
						jobQueue := queue
						if job.Queue != "" {
							jobQueue = job.Queue
						}

						id, err := scheduler.Register(job.Spec, task, asynq.Queue(jobQueue))
						if err != nil {
							return fmt.Errorf("cannot register %s: %w", job.Name, err)
						}

						slog.Info(
							"periodic task registered",
							"id", id,
							"name", task.Type(),
							"spec", job.Spec,
							"desc", job.Desc,
							"queue", jobQueue,
							"source", "config",
						)
					}

					return scheduler.Run()
				},
			},
			{
				Name:    "jobs",
				Usage:   "list periodic jobs",
				Aliases: []string{"j"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck

					items, err := inspector.SchedulerEntries()
					if err != nil {
						return err
					}

					if len(items) == 0 {
						return nil
					}

					headers := []string{
						"ID",
						"SPEC",
						"TYPE",
						"PREV",
						"NEXT",
						"OPTS",
					}
					table := newTableWriter(os.Stdout, headers)
					for _, item := range items {
						prev := na
						if !item.Prev.IsZero() {
							prev = item.Prev.Format(time.RFC3339)
						}

						opts := make([]string, 0, len(item.Opts))
						for _, opt := range item.Opts {
							opts = append(opts, opt.String())
						}

						row := []string{
							item.ID,
							item.Spec,
							item.Task.Type(),
							prev,
							fmt.Sprintf("In %s", time.Until(item.Next).Round(time.Second)),
							strings.Join(opts, ", "),
						}
						if err := table.Append(row); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
		},
	}

	return cmd
}
