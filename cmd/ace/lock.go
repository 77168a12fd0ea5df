// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/locks"
)

// NewLockCommand returns a new command for interfacing with named locks.
func NewLockCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "lock",
		Usage:   "named lock operations",
		Aliases: []string{"l"},
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list named locks",
				Aliases: []string{"ls"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "node",
						Usage: "list only the locks owned by the given node",
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					items, err := locks.NewBunStore(db, conf.Locks.Timeout).List(ctx.Context, ctx.String("node"))
					if err != nil {
						return err
					}

					if len(items) == 0 {
						return nil
					}

					headers := []string{
						"KEY",
						"HOLDER",
						"NODE",
						"ACQUIRED-AT",
						"EXPIRED",
					}
					table := newTableWriter(os.Stdout, headers)
					now := time.Now()
					for _, item := range items {
						node := locks.HolderNode(item.Holder)
						if node == "" {
							node = na
						}

						row := []string{
							item.ResourceKey,
							item.Holder,
							node,
							formatTime(&item.AcquiredAt),
							fmt.Sprintf("%t", item.Expired(now, conf.Locks.Timeout)),
						}
						if err := table.Append(row); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
			{
				Name:  "clear-expired",
				Usage: "remove expired named locks",
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					count, err := locks.NewBunStore(db, conf.Locks.Timeout).ClearExpired(ctx.Context)
					if err != nil {
						return err
					}

					fmt.Printf("removed %d expired lock(s)\n", count)

					return nil
				},
			},
		},
	}

	return cmd
}
