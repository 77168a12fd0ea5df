// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/ace-ecosystem/ace/internal/pkg/testdb"
)

func TestBunStoreIntegration(t *testing.T) {
	store := NewBunStore(testdb.New(t))
	f := newFixture(t, store)
	ctx := context.Background()

	low := f.insert(t, "low", 3)
	high := f.insert(t, "high", 3)

	if got := f.claim(t, anyMode, 3, time.Hour); !slices.Equal(got, high) {
		t.Fatalf("want high priority items %v, got %v", high, got)
	}

	// Fresh leases cannot be claimed by another node
	if got := f.claim(t, ModeFilter{Include: []string{"high"}}, 3, time.Hour); len(got) != 0 {
		t.Fatalf("fresh leases claimed again: %v", got)
	}

	// Expired leases are claimed again
	if got := f.claim(t, ModeFilter{Include: []string{"high"}}, 3, 0); !slices.Equal(got, high) {
		t.Fatalf("want expired leases %v, got %v", high, got)
	}

	if got := f.claim(t, anyMode, 3, time.Hour); !slices.Equal(got, low) {
		t.Fatalf("want low priority items %v, got %v", low, got)
	}

	for _, id := range append(high, low...) {
		if err := store.Complete(ctx, f.groupID, id); err != nil {
			t.Fatalf("cannot complete %d: %s", id, err)
		}
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(entries) != 0 {
		t.Fatalf("completed leases left: %+v", entries)
	}

	count, err := store.DeleteOrphans(ctx)
	if err != nil || count != 0 {
		t.Fatalf("completed items left: count=%d err=%v", count, err)
	}
}
