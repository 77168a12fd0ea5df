// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
)

// NewTaskCommand returns a [cli.Command] for interfacing with task-related
// operations.
func NewTaskCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "task",
		Usage:   "task operations",
		Aliases: []string{"t"},
		Before: func(ctx *cli.Context) error {
			return validateRedisConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list registered tasks",
				Aliases: []string{"ls"},
				Action: func(_ *cli.Context) error {
					for _, name := range registry.TaskRegistry.Keys() {
						spec := na
						if item, ok := registry.ScheduledTaskRegistry.Get(name); ok {
							spec = item.Spec
						}
						fmt.Printf("%s\t%s\n", name, spec)
					}

					return nil
				},
			},
			{
				Name:    "cancel",
				Usage:   "cancel a running task",
				Aliases: []string{"c"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, _ string) error {
						return inspector.CancelProcessing(ctx.String("id"))
					})
				},
			},
			{
				Name:    "delete",
				Usage:   "delete a task",
				Aliases: []string{"d"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
					queueFlag(),
				},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
						return inspector.DeleteTask(queue, ctx.String("id"))
					})
				},
			},
			{
				Name:    "enqueue",
				Usage:   "submit a task",
				Aliases: []string{"submit"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "task",
						Aliases:  []string{"t"},
						Usage:    "name of task to enqueue",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "task payload",
					},
					&cli.PathFlag{
						Name:  "payload-file",
						Usage: "path to a payload file",
					},
					queueFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "set timeout for task",
						Value: 30 * time.Minute,
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					client := newAsynqClient(conf)
					defer client.Close() // nolint: errcheck

					taskName := ctx.String("task")
					var payload []byte
					payloadData := ctx.String("payload")
					payloadFile := ctx.Path("payload-file")
					switch {
					case payloadData != "" && payloadFile != "":
						return errors.New("cannot use --payload and --payload-file at the same time")
					case payloadData != "":
						payload = []byte(payloadData)
					case payloadFile != "":
						data, err := os.ReadFile(filepath.Clean(payloadFile))
						if err != nil {
							return fmt.Errorf("cannot read payload file: %w", err)
						}
						payload = data
					}

					task := asynq.NewTask(taskName, payload)
					opts := []asynq.Option{
						asynq.Queue(ctx.String("queue")),
						asynq.Timeout(ctx.Duration("timeout")),
					}
					info, err := client.EnqueueContext(ctx.Context, task, opts...)
					if err != nil {
						return fmt.Errorf("cannot enqueue %q task: %w", taskName, err)
					}

					fmt.Printf("%s/%s\n", info.Queue, info.ID)

					return nil
				},
			},
			{
				Name:    "inspect",
				Usage:   "inspect a task",
				Aliases: []string{"i"},
				Flags: []cli.Flag{
					queueFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
						info, err := inspector.GetTaskInfo(queue, ctx.String("id"))
						if err != nil {
							return err
						}

						printTaskInfo(info)

						return nil
					})
				},
			},
			newTaskStateCommand(asynq.TaskStateActive, "a"),
			newTaskStateCommand(asynq.TaskStatePending, "p"),
			newTaskStateCommand(asynq.TaskStateScheduled, "s"),
			newTaskStateCommand(asynq.TaskStateRetry, "r"),
			newTaskStateCommand(asynq.TaskStateArchived, "ar"),
			newTaskStateCommand(asynq.TaskStateCompleted, "co"),
		},
	}

	return cmd
}

// newTaskStateCommand returns a command, which lists the tasks in the given
// state.
func newTaskStateCommand(state asynq.TaskState, alias string) *cli.Command {
	cmd := &cli.Command{
		Name:    state.String(),
		Usage:   fmt.Sprintf("list %s tasks", state),
		Aliases: []string{alias},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "queue",
				Aliases: []string{"q"},
				Usage:   "name of queue to use",
				Value:   config.DefaultQueueName,
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "page number to retrieve",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "page size to use",
				Value: 50,
			},
		},
		Action: func(ctx *cli.Context) error {
			return printTasksInState(ctx, state)
		},
	}

	return cmd
}

// printTasksInState prints the tasks in the given state
func printTasksInState(ctx *cli.Context, state asynq.TaskState) error {
	return withInspector(ctx, func(inspector *asynq.Inspector, queue string) error {
		stateToFunc := map[asynq.TaskState]func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error){
			asynq.TaskStateActive:    inspector.ListActiveTasks,
			asynq.TaskStatePending:   inspector.ListPendingTasks,
			asynq.TaskStateArchived:  inspector.ListArchivedTasks,
			asynq.TaskStateCompleted: inspector.ListCompletedTasks,
			asynq.TaskStateRetry:     inspector.ListRetryTasks,
			asynq.TaskStateScheduled: inspector.ListScheduledTasks,
		}

		getFunc, ok := stateToFunc[state]
		if !ok {
			return fmt.Errorf("unknown task state: %v", state)
		}

		items, err := getFunc(queue, asynq.Page(ctx.Int("page")), asynq.PageSize(ctx.Int("size")))
		if err != nil {
			return err
		}

		if len(items) == 0 {
			return nil
		}

		headers := []string{
			"ID",
			"TYPE",
			"RETRIED",
			"IS ORPHANED",
		}
		table := newTableWriter(os.Stdout, headers)
		for _, item := range items {
			row := []string{
				item.ID,
				item.Type,
				fmt.Sprintf("%d/%d", item.Retried, item.MaxRetry),
				strconv.FormatBool(item.IsOrphaned),
			}
			if err := table.Append(row); err != nil {
				return err
			}
		}

		return table.Render()
	})
}

// printTaskInfo prints the details of a task.
func printTaskInfo(info *asynq.TaskInfo) {
	optionalTime := func(t time.Time) string {
		return formatTime(&t)
	}

	fields := [][]string{
		{"ID", info.ID},
		{"Queue", info.Queue},
		{"Type/Name", info.Type},
		{"State", info.State.String()},
		{"Group", info.Group},
		{"Is Orphaned", strconv.FormatBool(info.IsOrphaned)},
		{"Retry", fmt.Sprintf("%d/%d", info.Retried, info.MaxRetry)},
		{"Timeout", info.Timeout.String()},
		{"Deadline", optionalTime(info.Deadline)},
		{"Retention", info.Retention.String()},
		{"Last Failed At", optionalTime(info.LastFailedAt)},
		{"Next Process At", optionalTime(info.NextProcessAt)},
		{"Completed At", optionalTime(info.CompletedAt)},
	}
	for _, field := range fields {
		fmt.Printf("%-20s: %s\n", field[0], field[1])
	}

	sections := [][]string{
		{"Last Error", info.LastErr},
		{"Payload", string(info.Payload)},
		{"Result", string(info.Result)},
	}
	for _, section := range sections {
		value := section[1]
		if value == "" {
			value = "<nil>"
		}
		fmt.Printf("\n%s\n%s\n", section[0], value)
	}
}
