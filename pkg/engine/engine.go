// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package engine provides the local hand-off of work items to the analysis
// engine of a node. Submitted work is recorded as workload of the node and
// enqueued as an asynq task, which is processed by the node workers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/nodes"
)

// ErrNodeNotStarted is returned when submitting work before the node has
// been registered.
var ErrNodeNotStarted = errors.New("node not started")

// Enqueuer enqueues asynq tasks. It is implemented by [asynq.Client].
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NodeProvider provides the node of the engine.
type NodeProvider interface {
	Node() *nodes.Node
}

// Engine accepts work for the current node.
type Engine struct {
	store  nodes.Store
	node   NodeProvider
	client Enqueuer
	queue  string
	logger *slog.Logger
}

// New creates a new [Engine]. Analysis tasks are enqueued to the given
// queue.
func New(store nodes.Store, node NodeProvider, client Enqueuer, queue string, logger *slog.Logger) *Engine {
	e := &Engine{
		store:  store,
		node:   node,
		client: client,
		queue:  queue,
		logger: logger,
	}

	return e
}

// Submit records the submission as workload of the current node and
// enqueues its analysis. It returns the id of the new workload item.
func (e *Engine) Submit(ctx context.Context, submission models.Submission) (string, error) {
	if err := submission.Validate(); err != nil {
		return "", err
	}

	node := e.node.Node()
	if node == nil {
		return "", ErrNodeNotStarted
	}

	if submission.UUID == "" {
		submission.UUID = uuid.NewString()
	}

	payload, err := json.Marshal(submission)
	if err != nil {
		return "", fmt.Errorf("cannot encode submission %s: %w", submission.UUID, err)
	}

	item := &nodes.Workload{
		UUID:         uuid.NewString(),
		NodeID:       node.ID,
		AnalysisMode: submission.AnalysisMode,
		Payload:      payload,
	}

	if err := e.store.InsertWorkload(ctx, item); err != nil {
		return "", err
	}

	task, err := NewAnalyzeTask(AnalyzePayload{
		WorkloadUUID: item.UUID,
		Submission:   submission,
	})
	if err != nil {
		return "", err
	}

	info, err := e.client.EnqueueContext(ctx, task, asynq.Queue(e.queue))
	if err != nil {
		// The workload item would never be processed
		if _, deleteErr := e.store.DeleteWorkload(context.WithoutCancel(ctx), item.UUID); deleteErr != nil {
			err = errors.Join(err, deleteErr)
		}

		return "", err
	}

	e.logger.Info(
		"submitted work to local engine",
		"workload_uuid", item.UUID,
		"analysis_mode", item.AnalysisMode,
		"task_id", info.ID,
	)

	return item.UUID, nil
}
