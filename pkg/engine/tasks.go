// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	dbclient "github.com/ace-ecosystem/ace/pkg/clients/db"
	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	"github.com/ace-ecosystem/ace/pkg/nodes"
	asynqutils "github.com/ace-ecosystem/ace/pkg/utils/asynq"
)

// TaskAnalyze is the name of the task, which analyzes a workload item.
const TaskAnalyze = "ace:task:analyze"

// ErrNoWorkloadUUID is returned when the analyze task payload does not
// specify a workload item.
var ErrNoWorkloadUUID = errors.New("no workload uuid specified")

// AnalyzePayload is the payload of the [TaskAnalyze] task.
type AnalyzePayload struct {
	// WorkloadUUID is the id of the workload item of the node.
	WorkloadUUID string `json:"workload_uuid" yaml:"workload_uuid"`

	// Submission is the submission to analyze.
	Submission models.Submission `json:"submission" yaml:"submission"`
}

// NewAnalyzeTask creates a new [TaskAnalyze] task.
func NewAnalyzeTask(payload AnalyzePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskAnalyze, data), nil
}

// HandleAnalyzeTask hands the submission over to the analysis modules and
// removes the workload item of the node once done.
func HandleAnalyzeTask(ctx context.Context, task *asynq.Task) error {
	return analyze(ctx, nodes.NewBunStore(dbclient.DB), task)
}

// analyze processes the [TaskAnalyze] task using the given store.
func analyze(ctx context.Context, store nodes.Store, task *asynq.Task) error {
	var payload AnalyzePayload
	if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
		return asynqutils.SkipRetry(err)
	}

	if payload.WorkloadUUID == "" {
		return asynqutils.SkipRetry(ErrNoWorkloadUUID)
	}

	logger := asynqutils.GetLogger(ctx)
	submission := payload.Submission
	logger.Info(
		"analyzing submission",
		"workload_uuid", payload.WorkloadUUID,
		"submission_uuid", submission.UUID,
		"analysis_mode", submission.AnalysisMode,
		"observables", len(submission.Observables),
	)

	deleted, err := store.DeleteWorkload(ctx, payload.WorkloadUUID)
	if err != nil {
		return err
	}

	if !deleted {
		logger.Warn("workload item already removed", "workload_uuid", payload.WorkloadUUID)
	}

	return nil
}

func init() {
	registry.TaskRegistry.MustRegister(TaskAnalyze, asynq.HandlerFunc(HandleAnalyzeTask))
}
