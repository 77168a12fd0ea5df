// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	"github.com/ace-ecosystem/ace/pkg/locks"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	"github.com/ace-ecosystem/ace/pkg/nodes"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

var errCleanup = errors.New("cleanup failed")

func newClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
}

// collect drains the [metrics.DefaultCollector] and returns the number of
// metrics per fully qualified name.
func collect() map[string]int {
	ch := make(chan prometheus.Metric, 100)
	metrics.DefaultCollector.Collect(ch)
	close(ch)

	result := make(map[string]int)
	for m := range ch {
		desc := m.Desc().String()
		start := strings.Index(desc, `fqName: "`) + len(`fqName: "`)
		end := strings.Index(desc[start:], `"`)
		result[desc[start:start+end]]++
	}

	return result
}

func TestHousekeep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	lockStore := locks.NewMemoryStore(clock, time.Minute)
	for _, key := range []string{"a", "b"} {
		if ok, err := lockStore.Acquire(ctx, key, "holder"); !ok || err != nil {
			t.Fatalf("cannot acquire %s: %v", key, err)
		}
	}
	clock.Step(2 * time.Minute)
	if ok, err := lockStore.Acquire(ctx, "c", "holder"); !ok || err != nil {
		t.Fatalf("cannot acquire c: %v", err)
	}

	work := workload.NewMemoryStore(clock)
	typeID, _ := work.EnsureType(ctx, "ace")
	groupID, _ := work.EnsureGroup(ctx, "default")
	if _, err := work.Insert(ctx, typeID, "analysis", []byte(`{}`), []int64{groupID}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	failing := func(context.Context) (int64, error) {
		return 0, errCleanup
	}

	cleanups := []Cleanup{
		{Name: CleanupExpiredLocks, Func: lockStore.ClearExpired},
		{Name: "failing", Func: failing},
		{Name: CleanupOrphanedWork, Func: work.DeleteOrphans},
	}

	runs, err := Housekeep(ctx, cleanups)
	if !errors.Is(err, errCleanup) {
		t.Fatalf("want failed cleanup to be reported, got %v", err)
	}

	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	if runs[0].Name != CleanupExpiredLocks || runs[0].Count != 2 {
		t.Fatalf("want 2 expired locks, got %+v", runs[0])
	}
	// Distributed work is kept
	if runs[1].Name != CleanupOrphanedWork || runs[1].Count != 0 {
		t.Fatalf("want no orphaned work items, got %+v", runs[1])
	}

	if got := collect()["ace_housekeeper_deleted_records"]; got != 2 {
		t.Fatalf("want 2 housekeeper metrics, got %d", got)
	}
}

func TestMonitor(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	work := workload.NewMemoryStore(clock)
	producer, err := workload.NewProducer(ctx, work, "ace", []string{"primary", "secondary"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, mode := range []string{"analysis", "correlation"} {
		if _, err := producer.Submit(ctx, models.Submission{AnalysisMode: mode}); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	nodeStore := nodes.NewMemoryStore(clock)
	node, err := nodeStore.Initialize(ctx, nodes.Identity{Name: "node1", Location: "node1:443", CompanyID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := nodeStore.InsertWorkload(ctx, &nodes.Workload{UUID: "w1", NodeID: node.ID, AnalysisMode: "analysis", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	lockStore := locks.NewMemoryStore(clock, time.Minute)
	holders := []string{locks.NewHolderID("node1"), locks.NewHolderID("node1"), "manual"}
	for i, holder := range holders {
		if ok, err := lockStore.Acquire(ctx, string(rune('a'+i)), holder); !ok || err != nil {
			t.Fatalf("cannot acquire lock: %v", err)
		}
	}

	if err := Monitor(ctx, work, nodeStore, lockStore); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got := collect()
	want := map[string]int{
		// Two modes in two groups
		"ace_work_items":          4,
		"ace_node_workload_items": 1,
		// node1 and unknown
		"ace_locks": 2,
	}
	for name, count := range want {
		if got[name] != count {
			t.Fatalf("want %d %s metrics, got %d", count, name, got[name])
		}
	}
}

type fakeDeleter struct {
	calls []string
	err   error
}

func (d *fakeDeleter) DeleteAllArchivedTasks(queue string) (int, error) {
	d.calls = append(d.calls, queue+"/"+StateArchived)

	return 3, d.err
}

func (d *fakeDeleter) DeleteAllCompletedTasks(queue string) (int, error) {
	d.calls = append(d.calls, queue+"/"+StateCompleted)

	return 5, d.err
}

func TestCleanupQueue(t *testing.T) {
	testCases := []struct {
		desc      string
		payload   QueueCleanupPayload
		err       error
		wantCalls []string
		wantErr   error
	}{
		{
			desc:      "defaults",
			payload:   QueueCleanupPayload{},
			wantCalls: []string{"default/archived", "default/completed"},
		},
		{
			desc:      "completed only",
			payload:   QueueCleanupPayload{Queue: "analysis", States: []string{StateCompleted}},
			wantCalls: []string{"analysis/completed"},
		},
		{
			desc:      "unknown state",
			payload:   QueueCleanupPayload{States: []string{"pending"}},
			wantCalls: []string{},
			wantErr:   ErrUnknownState,
		},
		{
			desc:      "inspector failure",
			payload:   QueueCleanupPayload{},
			err:       errCleanup,
			wantCalls: []string{"default/archived"},
			wantErr:   errCleanup,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			deleter := &fakeDeleter{calls: []string{}, err: tc.err}
			err := CleanupQueue(context.Background(), deleter, tc.payload)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}

			if !slices.Equal(deleter.calls, tc.wantCalls) {
				t.Fatalf("want calls %v, got %v", tc.wantCalls, deleter.calls)
			}
		})
	}
	_ = collect()
}

func TestTasksAreRegistered(t *testing.T) {
	for _, name := range []string{HousekeeperTaskType, MonitorTaskType, QueueCleanupTaskType} {
		if !registry.TaskRegistry.Exists(name) {
			t.Fatalf("task %s is not registered", name)
		}

		scheduled, ok := registry.ScheduledTaskRegistry.Get(name)
		if !ok || scheduled.Task.Type() != name || scheduled.Spec == "" {
			t.Fatalf("task %s is not scheduled", name)
		}
	}
}
