// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/core/config"
)

// queueFlag returns the flag which selects a queue.
func queueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "queue",
		Usage:   "queue name",
		Value:   config.DefaultQueueName,
		Aliases: []string{"q", "name"},
	}
}

// withInspector calls f with a new [asynq.Inspector] and the selected
// queue.
func withInspector(ctx *cli.Context, f func(inspector *asynq.Inspector, queue string) error) error {
	conf := getConfig(ctx)
	inspector := newInspector(conf)
	defer inspector.Close() // nolint: errcheck

	return f(inspector, ctx.String("queue"))
}

// NewQueueCommand returns a new command for interfacing with queues.
func NewQueueCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "queue",
		Usage:   "queue operations",
		Aliases: []string{"q"},
		Before: func(ctx *cli.Context) error {
			return validateRedisConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list queues",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, _ string) error {
						queues, err := inspector.Queues()
						if err != nil {
							return err
						}

						if len(queues) == 0 {
							return nil
						}

						table := newTableWriter(os.Stdout, []string{"NAME"})
						for _, item := range queues {
							if err := table.Append([]string{item}); err != nil {
								return err
							}
						}

						return table.Render()
					})
				},
			},
			{
				Name:    "info",
				Usage:   "get queue info",
				Aliases: []string{"i"},
				Flags:   []cli.Flag{queueFlag()},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
						q, err := inspector.GetQueueInfo(queue)
						if err != nil {
							return err
						}

						rows := [][]string{
							{"Name", q.Queue},
							{"Memory Usage", strconv.FormatInt(q.MemoryUsage, 10)},
							{"Latency", q.Latency.String()},
							{"Size", strconv.Itoa(q.Size)},
							{"Pending", strconv.Itoa(q.Pending)},
							{"Active", strconv.Itoa(q.Active)},
							{"Scheduled", strconv.Itoa(q.Scheduled)},
							{"Retry", strconv.Itoa(q.Retry)},
							{"Archived", strconv.Itoa(q.Archived)},
							{"Completed", strconv.Itoa(q.Completed)},
							{"Processed (daily)", strconv.Itoa(q.Processed)},
							{"Failed (daily)", strconv.Itoa(q.Failed)},
							{"Paused", strconv.FormatBool(q.Paused)},
						}

						for _, row := range rows {
							fmt.Printf("%-20s: %s\n", row[0], row[1])
						}

						return nil
					})
				},
			},
			{
				Name:    "pause",
				Usage:   "pause a queue",
				Aliases: []string{"p"},
				Flags:   []cli.Flag{queueFlag()},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
						return inspector.PauseQueue(queue)
					})
				},
			},
			{
				Name:    "resume",
				Usage:   "resume a queue",
				Aliases: []string{"r"},
				Flags:   []cli.Flag{queueFlag()},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
						return inspector.UnpauseQueue(queue)
					})
				},
			},
			{
				Name:    "drain",
				Usage:   "drain queue messages",
				Aliases: []string{"d"},
				Flags: []cli.Flag{
					queueFlag(),
					&cli.StringFlag{
						Name:  "type",
						Usage: "message type to drain",
						Value: "scheduled",
					},
				},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
						typeToFunc := map[string]func(queue string) (int, error){
							"scheduled": inspector.DeleteAllScheduledTasks,
							"pending":   inspector.DeleteAllPendingTasks,
							"archived":  inspector.DeleteAllArchivedTasks,
							"completed": inspector.DeleteAllCompletedTasks,
							"retry":     inspector.DeleteAllRetryTasks,
						}

						messageType := ctx.String("type")
						deleteFunc, ok := typeToFunc[messageType]
						if !ok {
							messageTypes := slices.Sorted(maps.Keys(typeToFunc))

							return fmt.Errorf("message type should be one of %s", strings.Join(messageTypes, ", "))
						}

						count, err := deleteFunc(queue)
						if err != nil {
							return err
						}

						fmt.Printf("deleted %d %s task(s) from %s\n", count, messageType, queue)

						return nil
					})
				},
			},
		},
	}

	return cmd
}
