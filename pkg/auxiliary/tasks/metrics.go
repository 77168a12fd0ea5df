// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ace-ecosystem/ace/pkg/metrics"
)

var (
	// hkDeletedRecordsDesc is the descriptor for a metric, which tracks the
	// number of records deleted by the housekeeper.
	hkDeletedRecordsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "housekeeper_deleted_records"),
		"Gauge which tracks the number of deleted records by the housekeeper",
		[]string{"name"},
		nil,
	)

	// workItemsDesc is the descriptor for a metric, which tracks the
	// number of incoming work items.
	workItemsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "work_items"),
		"Gauge which tracks the number of work items per type, mode, group and status",
		[]string{"type", "mode", "group", "status"},
		nil,
	)

	// nodeWorkloadDesc is the descriptor for a metric, which tracks the
	// number of workload items assigned to nodes.
	nodeWorkloadDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "node_workload_items"),
		"Gauge which tracks the number of workload items per node and analysis mode",
		[]string{"node", "mode"},
		nil,
	)

	// locksDesc is the descriptor for a metric, which tracks the number of
	// named locks held by nodes.
	locksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "locks"),
		"Gauge which tracks the number of named locks per owning node",
		[]string{"node"},
		nil,
	)

	// queueDeletedTasksDesc is the descriptor for a metric, which tracks
	// the number of tasks deleted from queues.
	queueDeletedTasksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "queue_deleted_tasks"),
		"Gauge which tracks the number of tasks deleted from a queue",
		[]string{"queue", "state"},
		nil,
	)
)

// init registers the metric descriptors with the [metrics.DefaultCollector]
func init() {
	metrics.DefaultCollector.AddDesc(
		hkDeletedRecordsDesc,
		workItemsDesc,
		nodeWorkloadDesc,
		locksDesc,
		queueDeletedTasksDesc,
	)
}
