// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/ace-ecosystem/ace/pkg/core/models"
)

// fixture is a store with one type and one group.
type fixture struct {
	store   Store
	typeID  int64
	groupID int64
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	ctx := context.Background()

	typeID, err := store.EnsureType(ctx, "ace")
	if err != nil {
		t.Fatalf("cannot create type: %s", err)
	}

	groupID, err := store.EnsureGroup(ctx, "primary")
	if err != nil {
		t.Fatalf("cannot create group: %s", err)
	}

	if err := store.SetPriority(ctx, "high", 10); err != nil {
		t.Fatalf("cannot set priority: %s", err)
	}

	return &fixture{store: store, typeID: typeID, groupID: groupID}
}

func (f *fixture) insert(t *testing.T, mode string, count int) []int64 {
	t.Helper()
	ids := make([]int64, 0, count)
	for range count {
		item, err := f.store.Insert(context.Background(), f.typeID, mode, []byte(`{}`), []int64{f.groupID})
		if err != nil {
			t.Fatalf("cannot insert item: %s", err)
		}
		ids = append(ids, item.ID)
	}

	return ids
}

func (f *fixture) claim(t *testing.T, filter ModeFilter, batchSize int, timeout time.Duration) []int64 {
	t.Helper()
	ctx := context.Background()
	req := ClaimRequest{
		TypeID:       f.typeID,
		GroupID:      f.groupID,
		Filter:       filter,
		BatchSize:    batchSize,
		LeaseTimeout: timeout,
	}

	lease, err := f.store.Claim(ctx, req)
	if err != nil {
		t.Fatalf("cannot claim: %s", err)
	}

	items, err := f.store.Fetch(ctx, f.groupID, lease.UUID)
	if err != nil {
		t.Fatalf("cannot fetch: %s", err)
	}

	if int64(len(items)) != lease.Claimed {
		t.Fatalf("claimed %d items, fetched %d", lease.Claimed, len(items))
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	return ids
}

var anyMode = ModeFilter{Any: true}

func newMemoryFixture(t *testing.T) (*fixture, *testingclock.FakeClock) {
	clock := testingclock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	return newFixture(t, NewMemoryStore(clock)), clock
}

func TestClaimPriorityThenInsertionOrder(t *testing.T) {
	f, _ := newMemoryFixture(t)

	low := f.insert(t, "low", 3)
	high := f.insert(t, "high", 3)

	if got := f.claim(t, anyMode, 3, time.Minute); !slices.Equal(got, high) {
		t.Fatalf("want high priority items %v, got %v", high, got)
	}

	if got := f.claim(t, anyMode, 3, time.Minute); !slices.Equal(got, low) {
		t.Fatalf("want low priority items %v, got %v", low, got)
	}

	if got := f.claim(t, anyMode, 3, time.Minute); len(got) != 0 {
		t.Fatalf("want no items left, got %v", got)
	}
}

func TestClaimExhaustsHigherPriorityFirst(t *testing.T) {
	testCases := []struct {
		desc      string
		batchSize int
	}{
		{desc: "batch of 1", batchSize: 1},
		{desc: "batch of 2", batchSize: 2},
		{desc: "batch of 4", batchSize: 4},
		{desc: "batch of 5", batchSize: 5},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f, _ := newMemoryFixture(t)

			// Interleave modes, so that ids alone do not give the order
			var want []int64
			var lowIDs []int64
			for range 3 {
				lowIDs = append(lowIDs, f.insert(t, "low", 1)...)
				want = append(want, f.insert(t, "high", 1)...)
			}
			want = append(want, lowIDs...)

			got := make([]int64, 0)
			for {
				ids := f.claim(t, anyMode, tc.batchSize, time.Minute)
				if len(ids) == 0 {
					break
				}
				got = append(got, ids...)
			}

			if !slices.Equal(got, want) {
				t.Fatalf("want claim order %v, got %v", want, got)
			}
		})
	}
}

func TestClaimMutualExclusionAndLeaseExpiry(t *testing.T) {
	f, clock := newMemoryFixture(t)
	ids := f.insert(t, "analysis", 2)

	nodeA := f.claim(t, anyMode, 10, 10*time.Minute)
	if !slices.Equal(nodeA, ids) {
		t.Fatalf("node A: want %v, got %v", ids, nodeA)
	}

	clock.Step(9 * time.Minute)
	if nodeB := f.claim(t, anyMode, 10, 10*time.Minute); len(nodeB) != 0 {
		t.Fatalf("node B claimed fresh leases: %v", nodeB)
	}

	clock.Step(time.Minute)
	if nodeB := f.claim(t, anyMode, 10, 10*time.Minute); !slices.Equal(nodeB, ids) {
		t.Fatalf("node B: want expired leases %v, got %v", ids, nodeB)
	}
}

func TestClaimModeFilter(t *testing.T) {
	testCases := []struct {
		desc   string
		filter ModeFilter
		want   []string
	}{
		{
			desc:   "any mode",
			filter: ModeFilter{Any: true},
			want:   []string{models.AnalysisModeCorrelation, "analysis", "email"},
		},
		{
			desc:   "any mode with exclusion",
			filter: ModeFilter{Any: true, Exclude: []string{"email"}},
			want:   []string{models.AnalysisModeCorrelation, "analysis"},
		},
		{
			desc:   "explicit modes",
			filter: ModeFilter{Include: []string{"analysis", "email"}},
			want:   []string{"analysis", "email"},
		},
		{
			desc:   "empty filter",
			filter: ModeFilter{},
			want:   []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f, _ := newMemoryFixture(t)
			f.insert(t, "analysis", 1)
			f.insert(t, "email", 1)
			f.insert(t, models.AnalysisModeCorrelation, 1)

			ctx := context.Background()
			lease, err := f.store.Claim(ctx, ClaimRequest{
				TypeID:       f.typeID,
				GroupID:      f.groupID,
				Filter:       tc.filter,
				BatchSize:    10,
				LeaseTimeout: time.Minute,
			})
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			items, err := f.store.Fetch(ctx, f.groupID, lease.UUID)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			got := make([]string, 0)
			for _, item := range items {
				got = append(got, item.Mode)
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("want modes %v, got %v", tc.want, got)
			}
		})
	}
}

func TestClaimInvalidBatchSize(t *testing.T) {
	f, _ := newMemoryFixture(t)
	_, err := f.store.Claim(context.Background(), ClaimRequest{Filter: anyMode})
	if !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("want %v, got %v", ErrInvalidBatchSize, err)
	}
}

func TestReleaseAndComplete(t *testing.T) {
	f, _ := newMemoryFixture(t)
	ctx := context.Background()

	secondary, err := f.store.EnsureGroup(ctx, "secondary")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	item, err := f.store.Insert(ctx, f.typeID, "analysis", []byte(`{}`), []int64{f.groupID, secondary})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	lease, err := f.store.Claim(ctx, ClaimRequest{TypeID: f.typeID, GroupID: f.groupID, Filter: anyMode, BatchSize: 1, LeaseTimeout: time.Hour})
	if err != nil || lease.Claimed != 1 {
		t.Fatalf("cannot claim: claimed=%d err=%v", lease.Claimed, err)
	}

	// Releasing with another lease is a no-op
	if err := f.store.Release(ctx, f.groupID, item.ID, "other"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := f.claim(t, anyMode, 1, time.Hour); len(got) != 0 {
		t.Fatalf("item released by foreign lease: %v", got)
	}

	if err := f.store.Release(ctx, f.groupID, item.ID, lease.UUID); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := f.claim(t, anyMode, 1, time.Hour); !slices.Equal(got, []int64{item.ID}) {
		t.Fatalf("released item not claimable: %v", got)
	}

	// The item stays until every group has completed it
	if err := f.store.Complete(ctx, f.groupID, item.ID); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	entries, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(entries) != 1 || entries[0].Group != "secondary" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if err := f.store.Complete(ctx, secondary, item.ID); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count, err := f.store.DeleteOrphans(ctx); err != nil || count != 0 {
		t.Fatalf("completed item not removed: count=%d err=%v", count, err)
	}
}

func TestCountsAndOrphans(t *testing.T) {
	f, _ := newMemoryFixture(t)
	ctx := context.Background()

	f.insert(t, "analysis", 2)
	f.claim(t, anyMode, 1, time.Hour)

	counts, err := f.store.Counts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []Count{
		{Type: "ace", Mode: "analysis", Group: "primary", Status: StatusLocked, Count: 1},
		{Type: "ace", Mode: "analysis", Group: "primary", Status: StatusReady, Count: 1},
	}
	if !slices.Equal(counts, want) {
		t.Fatalf("want %v, got %v", want, counts)
	}

	priorities, err := f.store.Priorities(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(priorities) != 2 || priorities[0].AnalysisMode != "high" || priorities[1].AnalysisMode != models.AnalysisModeCorrelation {
		t.Fatalf("unexpected priorities: %+v", priorities)
	}
}

func TestProducer(t *testing.T) {
	clock := testingclock.NewFakeClock(time.Now())
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if _, err := NewProducer(ctx, store, "ace", nil); !errors.Is(err, ErrNoGroups) {
		t.Fatalf("want %v, got %v", ErrNoGroups, err)
	}

	p, err := NewProducer(ctx, store, "ace", []string{"primary", "secondary"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if _, err := p.Submit(ctx, models.Submission{}); !errors.Is(err, models.ErrNoAnalysisMode) {
		t.Fatalf("want %v, got %v", models.ErrNoAnalysisMode, err)
	}

	item, err := p.Submit(ctx, models.Submission{AnalysisMode: "analysis", Description: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if item.Mode != "analysis" {
		t.Fatalf("unexpected mode %q", item.Mode)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want one lease per group, got %+v", entries)
	}
}
