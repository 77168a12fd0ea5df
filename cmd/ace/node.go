// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"

	"github.com/ace-ecosystem/ace/pkg/api"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/distributor"
	"github.com/ace-ecosystem/ace/pkg/engine"
	"github.com/ace-ecosystem/ace/pkg/locks"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	"github.com/ace-ecosystem/ace/pkg/nodes"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

// shutdownTimeout is the time given to HTTP servers to finish in-flight
// requests.
const shutdownTimeout = 10 * time.Second

// NewNodeCommand returns a new command for interfacing with nodes.
func NewNodeCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "node",
		Usage:   "node operations",
		Aliases: []string{"n"},
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Usage:   "start the node",
				Aliases: []string{"s"},
				Action:  startNode,
			},
			{
				Name:    "list",
				Usage:   "list registered nodes",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					items, err := nodes.NewBunStore(db).ListNodes(ctx.Context)
					if err != nil {
						return err
					}

					if len(items) == 0 {
						return nil
					}

					headers := []string{
						"ID",
						"NAME",
						"LOCATION",
						"COMPANY",
						"MODES",
						"EXCLUDED",
						"PRIMARY",
						"LAST-UPDATE",
					}
					table := newTableWriter(os.Stdout, headers)
					for _, item := range items {
						modes := "any"
						if !item.AnyMode {
							modes = strings.Join(item.IncludedModes(), ", ")
						}

						row := []string{
							strconv.FormatInt(item.ID, 10),
							item.Name,
							item.Location,
							strconv.FormatInt(item.CompanyID, 10),
							modes,
							strings.Join(item.ExcludedAnalysisModes(), ", "),
							strconv.FormatBool(item.IsPrimary),
							formatTime(&item.LastUpdate),
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

// startNode registers the node and runs its routines until interrupted: the
// status updates, the hunters, the distributor and the node API.
func startNode(ctx *cli.Context) error {
	conf := getConfig(ctx)
	if err := validateRedisConfig(conf); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := newDB(conf)
	if err != nil {
		return err
	}
	defer db.Close() // nolint: errcheck

	client := newAsynqClient(conf)
	defer client.Close() // nolint: errcheck

	logger := slog.Default()
	primary := ctx.Bool("primary")
	lockManager := locks.NewManager(locks.NewBunStore(db, conf.Locks.Timeout), conf.Node.Name, logger)
	nodeStore := nodes.NewBunStore(db)
	manager := nodes.NewManager(nodeStore, lockManager, conf.Node, primary, logger)
	if _, err := manager.Start(runCtx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	run := func(f func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(runCtx)
		}()
	}
	run(manager.Run)

	// Stops the routines started so far
	fail := func(err error) error {
		stop()
		wg.Wait()

		return err
	}

	work := workload.NewBunStore(db)
	service, err := newHunterService(runCtx, conf, work, logger)
	if err != nil {
		return fail(err)
	}
	if service != nil {
		run(service.Run)
	}

	eng := engine.New(nodeStore, manager, client, conf.Scheduler.DefaultQueue, logger)
	servers := make([]*http.Server, 0)
	if needsAPIKey(conf) {
		key, err := getAPIKey(runCtx, conf)
		if err != nil {
			return fail(err)
		}

		if err := startDistributor(runCtx, conf, db, eng, manager, key, run); err != nil {
			return fail(err)
		}

		if conf.API.Address != "" {
			var validator api.Validator
			if service != nil {
				validator = service
			}
			server := api.NewServer(eng, validator, key, logger).HTTPServer(conf.API.Address)
			servers = append(servers, server)
		}
	}

	if conf.Metrics.Address != "" {
		servers = append(servers, metrics.NewServer(conf.Metrics.Address, conf.Metrics.Path))
	}

	for _, server := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("starting server", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server failed", "address", server.Addr, "reason", err)
				stop()
			}
		}()
	}

	<-runCtx.Done()
	slog.Info("shutting down node", "name", conf.Node.Name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown server", "address", server.Addr, "reason", err)
		}
	}

	wg.Wait()

	return nil
}

// startDistributor starts the distribution groups enabled for the node.
func startDistributor(
	ctx context.Context,
	conf *config.Config,
	db *bun.DB,
	eng *engine.Engine,
	manager *nodes.Manager,
	key string,
	run func(f func(ctx context.Context)),
) error {
	logger := slog.Default()
	router := distributor.NewRouter(conf.Node.Name, eng, api.NewClient(conf.API, key, logger), manager)
	dist, err := distributor.New(
		ctx,
		conf.Distributor,
		conf.Node.CompanyID,
		workload.NewBunStore(db),
		nodes.NewBunStore(db),
		router,
		logger,
	)

	switch {
	case errors.Is(err, distributor.ErrNoGroups):
		slog.Info("no distribution group enabled")

		return nil
	case err != nil:
		return err
	}

	run(dist.Run)

	return nil
}

// needsAPIKey returns true, if the node talks to other nodes, either by
// serving the node API or by distributing work.
func needsAPIKey(conf *config.Config) bool {
	if conf.API.Address != "" {
		return true
	}

	for _, group := range conf.Distributor.Groups {
		if group.Enabled {
			return true
		}
	}

	return false
}
