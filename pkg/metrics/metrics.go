// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the namespace component of the fully qualified metric name
const Namespace = "ace"

// DefaultRegistry is the default [prometheus.Registry] for metrics.
var DefaultRegistry = prometheus.NewRegistry()

var (
	// TaskExecutionTotal is a metric, which gets incremented each time a
	// task has been called.
	TaskExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_execution_total",
			Help:      "Total number of times a task has been executed",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskSuccessfulTotal is a metric, which gets incremented each time a
	// task has completed successfully.
	TaskSuccessfulTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_successful_total",
			Help:      "Total number of times a task has completed successfully",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskFailedTotal is a metric, which gets incremented each time a task
	// has failed.
	TaskFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_failed_total",
			Help:      "Total number of times a task has failed",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskSkippedTotal is a metric, which gets incremented each time a task
	// has failed and will not be retried.
	TaskSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_skipped_total",
			Help:      "Total number of times a task has been skipped",
		},
		[]string{"task_name", "task_queue"},
	)

	// TaskDurationSeconds is a histogram of successful task durations.
	TaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of successful task executions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_name", "task_queue"},
	)

	// HuntExecutionTotal is a metric, which gets incremented each time a
	// hunt has been executed.
	HuntExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hunt_execution_total",
			Help:      "Total number of hunt executions",
		},
		[]string{"hunt_type", "hunt_name", "result"},
	)

	// HuntDurationSeconds is a histogram of hunt execution durations.
	HuntDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "hunt_duration_seconds",
			Help:      "Duration of hunt executions",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"hunt_type"},
	)

	// HuntSubmissionsTotal is a metric, which counts the submissions
	// produced by hunts.
	HuntSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hunt_submissions_total",
			Help:      "Total number of submissions produced by hunts",
		},
		[]string{"hunt_type", "hunt_name"},
	)

	// WorkClaimedTotal is a metric, which counts the work items claimed by
	// this node.
	WorkClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "work_claimed_total",
			Help:      "Total number of work items claimed by this node",
		},
		[]string{"group"},
	)

	// WorkSubmittedTotal is a metric, which counts the outcome of work
	// item submissions to nodes.
	WorkSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "work_submitted_total",
			Help:      "Total number of work item submissions to nodes",
		},
		[]string{"group", "node", "result"},
	)

	// LockAcquireTotal is a metric, which counts named lock acquisition
	// attempts.
	LockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "lock_acquire_total",
			Help:      "Total number of named lock acquisition attempts",
		},
		[]string{"result"},
	)
)

// NewServer returns a new [http.Server] which can serve the metrics from
// [DefaultRegistry] on the specified network address and HTTP path. Callers
// are responsible for starting up and shutting down the HTTP server.
func NewServer(addr, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(
		path,
		promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{}),
	)

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: time.Second * 30,
		Handler:           mux,
	}

	return server
}

// init registers collectors with the [DefaultRegistry].
func init() {
	DefaultRegistry.MustRegister(
		// Task metrics
		TaskExecutionTotal,
		TaskSuccessfulTotal,
		TaskFailedTotal,
		TaskSkippedTotal,
		TaskDurationSeconds,

		// Scheduling metrics
		HuntExecutionTotal,
		HuntDurationSeconds,
		HuntSubmissionsTotal,
		WorkClaimedTotal,
		WorkSubmittedTotal,
		LockAcquireTotal,

		// Gauges reported by housekeeping tasks
		DefaultCollector,

		// Standard Go metrics
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}
