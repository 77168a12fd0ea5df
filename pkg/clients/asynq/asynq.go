// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package asynq provides the asynq client and inspector shared by the asynq
// task handlers.
package asynq

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// ErrNoClient is returned when enqueueing a task before [SetClient] has been
// called.
var ErrNoClient = errors.New("asynq client not configured")

// Client is the [asynq.Client] used by workers during runtime.
var Client *asynq.Client

// Inspector is the [asynq.Inspector] used by workers during runtime.
var Inspector *asynq.Inspector

// SetClient shall be invoked from cli commands to set the asynq client for the workers.
// Workers will have the ability to enqueue tasks.
func SetClient(c *asynq.Client) {
	Client = c
}

// SetInspector shall be invoked from cli commands to set the asynq inspector for the workers.
func SetInspector(i *asynq.Inspector) {
	Inspector = i
}

// Enqueue enqueues the task using the shared [Client].
func Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if Client == nil {
		return nil, ErrNoClient
	}

	return Client.EnqueueContext(ctx, task, opts...)
}
