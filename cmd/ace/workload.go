// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/workload"
)

// NewWorkloadCommand returns a new command for interfacing with the work
// items pending distribution.
func NewWorkloadCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "workload",
		Usage:   "work distribution operations",
		Aliases: []string{"wl"},
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list pending work items",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					items, err := workload.NewBunStore(db).List(ctx.Context)
					if err != nil {
						return err
					}

					if len(items) == 0 {
						return nil
					}

					headers := []string{
						"ID",
						"TYPE",
						"MODE",
						"PRIORITY",
						"GROUP",
						"STATUS",
						"LEASE",
						"LOCKED-AT",
					}
					table := newTableWriter(os.Stdout, headers)
					for _, item := range items {
						lease := na
						if item.LockUUID != nil {
							lease = *item.LockUUID
						}

						row := []string{
							strconv.FormatInt(item.WorkID, 10),
							item.Type,
							item.Mode,
							strconv.Itoa(item.Priority),
							item.Group,
							item.Status,
							lease,
							formatTime(item.LockTime),
						}
						if err := table.Append(row); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
			{
				Name:  "priority",
				Usage: "analysis mode priorities",
				Subcommands: []*cli.Command{
					{
						Name:    "list",
						Usage:   "list analysis mode priorities",
						Aliases: []string{"ls"},
						Action: func(ctx *cli.Context) error {
							conf := getConfig(ctx)
							db, err := newDB(conf)
							if err != nil {
								return err
							}
							defer db.Close() // nolint: errcheck

							items, err := workload.NewBunStore(db).Priorities(ctx.Context)
							if err != nil {
								return err
							}

							if len(items) == 0 {
								return nil
							}

							table := newTableWriter(os.Stdout, []string{"MODE", "PRIORITY"})
							for _, item := range items {
								if err := table.Append([]string{item.AnalysisMode, strconv.Itoa(item.Priority)}); err != nil {
									return err
								}
							}

							return table.Render()
						},
					},
					{
						Name:      "set",
						Usage:     "set the priority of an analysis mode",
						ArgsUsage: "<mode> <priority>",
						Action: func(ctx *cli.Context) error {
							if ctx.NArg() != 2 {
								return cli.ShowSubcommandHelp(ctx)
							}

							mode := ctx.Args().Get(0)
							priority, err := strconv.Atoi(ctx.Args().Get(1))
							if err != nil {
								return fmt.Errorf("invalid priority %q: %w", ctx.Args().Get(1), err)
							}

							conf := getConfig(ctx)
							db, err := newDB(conf)
							if err != nil {
								return err
							}
							defer db.Close() // nolint: errcheck

							return workload.NewBunStore(db).SetPriority(ctx.Context, mode, priority)
						},
					},
				},
			},
		},
	}

	return cmd
}
