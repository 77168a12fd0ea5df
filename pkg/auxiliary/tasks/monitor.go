// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ace-ecosystem/ace/pkg/clients/db"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	"github.com/ace-ecosystem/ace/pkg/locks"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	"github.com/ace-ecosystem/ace/pkg/nodes"
	"github.com/ace-ecosystem/ace/pkg/utils"
	asynqutils "github.com/ace-ecosystem/ace/pkg/utils/asynq"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

const (
	// MonitorTaskType is the name of the task, which reports the work
	// items, the workload of nodes and the named locks as metrics.
	MonitorTaskType = "aux:task:monitor"

	// MonitorSpec is the default cron spec of the monitor.
	MonitorSpec = "* * * * *"

	// unknownNode is the node label of locks, which are not owned by a
	// node.
	unknownNode = "unknown"
)

// HandleMonitorTask reports the state of the shared tables as metrics.
func HandleMonitorTask(ctx context.Context, _ *asynq.Task) error {
	return Monitor(
		ctx,
		workload.NewBunStore(db.DB),
		nodes.NewBunStore(db.DB),
		locks.NewBunStore(db.DB, config.DefaultLockTimeout),
	)
}

// Monitor reports the number of work items, the workload of nodes and the
// named locks per node to the [metrics.DefaultCollector].
func Monitor(ctx context.Context, work workload.Store, nodeStore nodes.Store, lockStore locks.Store) error {
	var errs error
	logger := asynqutils.GetLogger(ctx)

	counts, err := work.Counts(ctx)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	for _, c := range counts {
		metric := prometheus.MustNewConstMetric(
			workItemsDesc,
			prometheus.GaugeValue,
			float64(c.Count),
			c.Type, c.Mode, c.Group, c.Status,
		)
		key := metrics.Key(MonitorTaskType, "work", c.Type, c.Mode, c.Group, c.Status)
		metrics.DefaultCollector.AddMetric(key, metric)
	}

	nodeCounts, err := nodeStore.CountWorkload(ctx)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	for _, c := range nodeCounts {
		metric := prometheus.MustNewConstMetric(
			nodeWorkloadDesc,
			prometheus.GaugeValue,
			float64(c.Count),
			c.NodeName, c.AnalysisMode,
		)
		key := metrics.Key(MonitorTaskType, "workload", c.NodeName, c.AnalysisMode)
		metrics.DefaultCollector.AddMetric(key, metric)
	}

	items, err := lockStore.List(ctx, "")
	if err != nil {
		errs = errors.Join(errs, err)
	}
	byNode := utils.CountBy(items, unknownNode, func(l locks.Lock) string {
		return locks.HolderNode(l.Holder)
	})
	for node, held := range byNode {
		metric := prometheus.MustNewConstMetric(
			locksDesc,
			prometheus.GaugeValue,
			float64(held),
			node,
		)
		metrics.DefaultCollector.AddMetric(metrics.Key(MonitorTaskType, "locks", node), metric)
	}

	logger.Debug(
		"reported metrics",
		"work_counts", len(counts),
		"workload_counts", len(nodeCounts),
		"locks", len(items),
	)

	return errs
}

func init() {
	registry.TaskRegistry.MustRegister(MonitorTaskType, asynq.HandlerFunc(HandleMonitorTask))
	registry.ScheduledTaskRegistry.MustRegister(MonitorTaskType, registry.ScheduledTask{
		Spec: MonitorSpec,
		Task: asynq.NewTask(MonitorTaskType, nil),
	})
}
