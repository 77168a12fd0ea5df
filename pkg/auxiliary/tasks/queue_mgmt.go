// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	asynqclient "github.com/ace-ecosystem/ace/pkg/clients/asynq"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	asynqutils "github.com/ace-ecosystem/ace/pkg/utils/asynq"
)

const (
	// QueueCleanupTaskType is the name of the task responsible for deleting
	// archived and completed tasks from a queue, e.g. finished analysis
	// tasks.
	QueueCleanupTaskType = "aux:task:queue-cleanup"

	// QueueCleanupSpec is the default cron spec of the queue cleanup.
	QueueCleanupSpec = "0 * * * *"
)

// Task states, which can be cleaned up.
const (
	StateArchived  = "archived"
	StateCompleted = "completed"
)

// ErrUnknownState is returned for task states, which cannot be cleaned up.
var ErrUnknownState = errors.New("unknown task state")

// TaskDeleter deletes tasks from queues. It is implemented by
// [asynq.Inspector].
type TaskDeleter interface {
	DeleteAllArchivedTasks(queue string) (int, error)
	DeleteAllCompletedTasks(queue string) (int, error)
}

// QueueCleanupPayload represents the payload of the queue cleanup task.
type QueueCleanupPayload struct {
	// Queue is the name of the queue that holds the tasks. Defaults to
	// [config.DefaultQueueName].
	Queue string `yaml:"queue" json:"queue"`

	// States specifies the task states to delete. Defaults to archived
	// and completed tasks.
	States []string `yaml:"states" json:"states"`
}

// HandleQueueCleanupTask deletes archived and completed tasks.
func HandleQueueCleanupTask(ctx context.Context, task *asynq.Task) error {
	var payload QueueCleanupPayload
	if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
		return asynqutils.SkipRetry(err)
	}

	if asynqclient.Inspector == nil {
		return asynqutils.SkipRetry(asynqclient.ErrNoClient)
	}

	return CleanupQueue(ctx, asynqclient.Inspector, payload)
}

// CleanupQueue deletes the tasks in the states of the payload.
func CleanupQueue(ctx context.Context, deleter TaskDeleter, payload QueueCleanupPayload) error {
	queue := payload.Queue
	if queue == "" {
		queue = config.DefaultQueueName
	}

	states := payload.States
	if len(states) == 0 {
		states = []string{StateArchived, StateCompleted}
	}

	logger := asynqutils.GetLogger(ctx)
	for _, state := range states {
		var count int
		var err error
		switch state {
		case StateArchived:
			count, err = deleter.DeleteAllArchivedTasks(queue)
		case StateCompleted:
			count, err = deleter.DeleteAllCompletedTasks(queue)
		default:
			return asynqutils.SkipRetry(fmt.Errorf("%w: %s", ErrUnknownState, state))
		}

		if err != nil {
			return err
		}

		logger.Info("deleted tasks", "queue", queue, "state", state, "count", count)
		metric := prometheus.MustNewConstMetric(
			queueDeletedTasksDesc,
			prometheus.GaugeValue,
			float64(count),
			queue, state,
		)
		metrics.DefaultCollector.AddMetric(metrics.Key(QueueCleanupTaskType, queue, state), metric)
	}

	return nil
}

func init() {
	registry.TaskRegistry.MustRegister(QueueCleanupTaskType, asynq.HandlerFunc(HandleQueueCleanupTask))
	registry.ScheduledTaskRegistry.MustRegister(QueueCleanupTaskType, registry.ScheduledTask{
		Spec: QueueCleanupSpec,
		Task: asynq.NewTask(QueueCleanupTaskType, nil),
	})
}
