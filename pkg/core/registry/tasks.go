// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package registry

import "github.com/hibiken/asynq"

// ScheduledTask is a task, which is enqueued periodically according to the
// cron spec.
type ScheduledTask struct {
	// Spec is the cron spec of the task.
	Spec string

	// Task is the task to enqueue.
	Task *asynq.Task
}

// TaskRegistry is the default registry for task handlers.
var TaskRegistry = New[string, asynq.Handler]()

// ScheduledTaskRegistry is the default registry for periodic tasks, keyed by
// task name.
var ScheduledTaskRegistry = New[string, ScheduledTask]()
