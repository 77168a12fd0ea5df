// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	slogutils "github.com/ace-ecosystem/ace/pkg/utils/slog"
	"github.com/ace-ecosystem/ace/pkg/version"
)

func main() {
	app := &cli.App{
		Name:                 "ace",
		Version:              version.Version,
		EnableBashCompletion: true,
		Usage:                "command-line tool for managing ACE nodes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enables debug mode, if set",
				Value: false,
			},
			&cli.StringFlag{
				Name:     "config",
				Usage:    "path to config file",
				Required: true,
				Aliases:  []string{"file"},
				EnvVars:  []string{"ACE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "redis-endpoint",
				Usage:   "redis endpoint to connect to",
				EnvVars: []string{"REDIS_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "database-uri",
				Usage:   "database uri to connect to",
				EnvVars: []string{"DATABASE_URI"},
			},
			&cli.StringFlag{
				Name:    "node",
				Usage:   "name of the node",
				EnvVars: []string{"ACE_NODE"},
			},
			&cli.BoolFlag{
				Name:    "primary",
				Usage:   "run the node as primary node",
				EnvVars: []string{"ACE_IS_PRIMARY_NODE"},
				Value:   true,
			},
		},
		Before: func(ctx *cli.Context) error {
			configFile := ctx.String("config")
			conf, err := config.Parse(configFile)
			if err != nil {
				return fmt.Errorf("Cannot parse config: %w", err)
			}

			// Overrides from flags/options
			if ctx.IsSet("debug") {
				conf.Debug = ctx.Bool("debug")
			}

			if ctx.IsSet("redis-endpoint") {
				conf.Redis.Endpoint = ctx.String("redis-endpoint")
			}

			if ctx.IsSet("database-uri") {
				conf.Database.DSN = ctx.String("database-uri")
			}

			if ctx.IsSet("node") {
				conf.Node.Name = ctx.String("node")
			}

			if conf.Node.Name == "" {
				hostname, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("cannot determine node name: %w", err)
				}
				conf.Node.Name = hostname
			}

			logger, err := slogutils.NewFromConfig(os.Stderr, conf.Logging, conf.Debug)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx.Context = context.WithValue(ctx.Context, configKey{}, conf)

			return nil
		},
		Commands: []*cli.Command{
			NewDatabaseCommand(),
			NewNodeCommand(),
			NewHuntCommand(),
			NewLockCommand(),
			NewWorkloadCommand(),
			NewWorkerCommand(),
			NewSchedulerCommand(),
			NewTaskCommand(),
			NewQueueCommand(),
			NewDashboardCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
