// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/hunter"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

// errNoHuntTypes is returned when no hunt type is configured.
var errNoHuntTypes = errors.New("no hunt types configured")

// NewHuntCommand returns a new command for interfacing with hunts.
func NewHuntCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "hunt",
		Usage:   "hunt operations",
		Aliases: []string{"h"},
		Before: func(ctx *cli.Context) error {
			if len(getConfig(ctx).Hunter.Types) == 0 {
				return errNoHuntTypes
			}

			return nil
		},
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Usage:   "start the hunters without the other node routines",
				Aliases: []string{"s"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					service, err := newHunterService(runCtx, conf, workload.NewBunStore(db), slog.Default())
					if err != nil {
						return err
					}
					service.Run(runCtx)

					return nil
				},
			},
			{
				Name:    "list",
				Usage:   "list the loaded hunts",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					service, err := newHunterService(ctx.Context, conf, nil, slog.Default())
					if err != nil {
						return err
					}

					headers := []string{
						"TYPE",
						"NAME",
						"ENABLED",
						"SCHEDULE",
						"LAST-EXECUTED",
						"NEXT",
						"SUPPRESSED",
					}
					table := newTableWriter(os.Stdout, headers)
					for _, manager := range service.Managers() {
						for _, hunt := range manager.Hunts() {
							def := hunt.Definition()
							schedule := def.CronSpec
							if !def.IsCron() {
								schedule = def.Frequency.String()
							}
							next := hunt.NextExecutionTime()

							row := []string{
								hunt.Type(),
								hunt.Name(),
								strconv.FormatBool(def.Enabled),
								schedule,
								formatTime(hunt.LastExecutedTime()),
								formatTime(&next),
								strconv.FormatBool(hunt.Suppressed()),
							}
							if err := table.Append(row); err != nil {
								return err
							}
						}
					}

					return table.Render()
				},
			},
			{
				Name:      "validate",
				Usage:     "validate hunt definition files",
				Aliases:   []string{"v"},
				ArgsUsage: "<type> <path>...",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() < 2 {
						return cli.ShowSubcommandHelp(ctx)
					}

					conf := getConfig(ctx)
					service, err := newHunterService(ctx.Context, conf, nil, slog.Default())
					if err != nil {
						return err
					}

					manager, err := service.Manager(ctx.Args().First())
					if err != nil {
						return err
					}

					allErrs := make([]error, 0)
					for _, path := range ctx.Args().Tail() {
						hunt, err := manager.LoadHunt(path)
						if err != nil {
							allErrs = append(allErrs, err)
							fmt.Printf("%s: %s\n", path, err)

							continue
						}
						fmt.Printf("%s: %s ok\n", path, hunt)
					}

					return errors.Join(allErrs...)
				},
			},
			{
				Name:      "execute",
				Usage:     "execute a hunt once",
				Aliases:   []string{"x"},
				ArgsUsage: "<type> <name>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "submit",
						Usage: "insert the submissions as work items",
					},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 2 {
						return cli.ShowSubcommandHelp(ctx)
					}

					conf := getConfig(ctx)
					forward := ctx.Bool("submit")
					var work workload.Store
					if forward {
						db, err := newDB(conf)
						if err != nil {
							return err
						}
						defer db.Close() // nolint: errcheck
						work = workload.NewBunStore(db)
					}

					service, err := newHunterService(ctx.Context, conf, work, slog.Default())
					if err != nil {
						return err
					}

					manager, err := service.Manager(ctx.Args().Get(0))
					if err != nil {
						return err
					}

					submissions, err := manager.Execute(ctx.Context, ctx.Args().Get(1), forward)
					if err != nil {
						return err
					}

					return renderSubmissions(submissions)
				},
			},
		},
	}

	return cmd
}

// newHunterService creates the hunt service for the configured hunt types
// and loads the hunt definitions. Submissions are inserted as work items for
// all distribution groups, unless work is nil.
func newHunterService(ctx context.Context, conf *config.Config, work workload.Store, logger *slog.Logger) (*hunter.Service, error) {
	if len(conf.Hunter.Types) == 0 {
		return nil, nil
	}

	var sink hunter.Sink
	if work != nil {
		groups := make([]string, 0, len(conf.Distributor.Groups))
		for _, group := range conf.Distributor.Groups {
			groups = append(groups, group.Name)
		}

		producer, err := workload.NewProducer(ctx, work, conf.Hunter.WorkloadType, groups)
		if err != nil {
			return nil, fmt.Errorf("cannot create work producer: %w", err)
		}

		sink = hunter.SinkFunc(func(ctx context.Context, submission models.Submission) error {
			_, err := producer.Submit(ctx, submission)

			return err
		})
	}

	rt := hunter.NewRuntime(hunter.NewFileStateStore(conf.Hunter.PersistenceDir), logger)
	service, err := hunter.NewService(conf.Hunter, rt, sink)
	if err != nil {
		return nil, err
	}

	// Invalid definitions are skipped
	if err := service.Load(); err != nil {
		logger.Warn("some hunts could not be loaded", "reason", err)
	}

	return service, nil
}

// renderSubmissions prints the given submissions as a table.
func renderSubmissions(submissions []models.Submission) error {
	if len(submissions) == 0 {
		return nil
	}

	headers := []string{
		"UUID",
		"MODE",
		"TYPE",
		"DESCRIPTION",
		"OBSERVABLES",
	}
	table := newTableWriter(os.Stdout, headers)
	for _, item := range submissions {
		row := []string{
			item.UUID,
			item.AnalysisMode,
			item.Type,
			item.Description,
			strconv.Itoa(len(item.Observables)),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}
