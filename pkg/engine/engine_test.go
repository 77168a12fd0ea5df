// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/nodes"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)

	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type staticNode struct {
	node *nodes.Node
}

func (s staticNode) Node() *nodes.Node {
	return s.node
}

func newStore(t *testing.T) (*nodes.MemoryStore, *nodes.Node) {
	t.Helper()
	store := nodes.NewMemoryStore(testingclock.NewFakeClock(time.Now()))
	node, err := store.Initialize(context.Background(), nodes.Identity{Name: "node1", CompanyID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	return store, node
}

func TestSubmitEnqueuesAnalysis(t *testing.T) {
	store, node := newStore(t)
	client := &fakeEnqueuer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(store, staticNode{node}, client, "default", logger)
	ctx := context.Background()

	id, err := e.Submit(ctx, models.Submission{AnalysisMode: "analysis"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if len(client.tasks) != 1 || client.tasks[0].Type() != TaskAnalyze {
		t.Fatalf("analysis task not enqueued: %+v", client.tasks)
	}

	counts, err := store.CountWorkload(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(counts) != 1 || counts[0].Count != 1 {
		t.Fatalf("workload not recorded: %+v", counts)
	}

	// Processing the task removes the workload item
	if err := analyze(ctx, store, client.tasks[0]); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	deleted, err := store.DeleteWorkload(ctx, id)
	if err != nil || deleted {
		t.Fatalf("workload item not removed by analysis: deleted=%t err=%v", deleted, err)
	}
}

func TestSubmitErrors(t *testing.T) {
	store, node := newStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errQueue := errors.New("redis unavailable")
	ctx := context.Background()

	testCases := []struct {
		desc       string
		node       *nodes.Node
		client     *fakeEnqueuer
		submission models.Submission
		wantErr    error
	}{
		{
			desc:       "missing analysis mode",
			node:       node,
			client:     &fakeEnqueuer{},
			submission: models.Submission{},
			wantErr:    models.ErrNoAnalysisMode,
		},
		{
			desc:       "node not started",
			node:       nil,
			client:     &fakeEnqueuer{},
			submission: models.Submission{AnalysisMode: "analysis"},
			wantErr:    ErrNodeNotStarted,
		},
		{
			desc:       "enqueue failure",
			node:       node,
			client:     &fakeEnqueuer{err: errQueue},
			submission: models.Submission{AnalysisMode: "analysis"},
			wantErr:    errQueue,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			e := New(store, staticNode{tc.node}, tc.client, "default", logger)
			if _, err := e.Submit(ctx, tc.submission); !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}
		})
	}

	// Failed submissions leave no workload behind
	counts, err := store.CountWorkload(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(counts) != 0 {
		t.Fatalf("unexpected workload: %+v", counts)
	}
}

func TestAnalyzeInvalidPayload(t *testing.T) {
	store, _ := newStore(t)
	task := asynq.NewTask(TaskAnalyze, []byte(`{}`))
	if err := analyze(context.Background(), store, task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("want skip retry error, got %v", err)
	}
}
