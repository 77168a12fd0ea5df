// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"context"
	"testing"
	"time"

	"github.com/ace-ecosystem/ace/internal/pkg/testdb"
)

func TestBunStoreIntegration(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	s := NewBunStore(db, time.Hour)
	mustAcquire(t, s, "test", "holder-1", true)
	mustAcquire(t, s, "test", "holder-1", true)
	mustAcquire(t, s, "test", "holder-2", false)
	mustRelease(t, s, "test", "holder-2", false)
	mustRelease(t, s, "test", "holder-1", true)
	mustAcquire(t, s, "test", "holder-2", true)

	// With a zero timeout every lock is immediately stale
	zero := NewBunStore(db, 0)
	mustAcquire(t, zero, "test", "holder-3", true)
	mustRelease(t, zero, "test", "holder-2", false)

	count, err := zero.ClearExpired(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 1 {
		t.Fatalf("want 1 cleared lock, got %d", count)
	}

	mustAcquire(t, s, "a", NewHolderID("node_1"), true)
	mustAcquire(t, s, "b", NewHolderID("node11"), true)
	mustAcquire(t, s, "c", NewHolderID("node_1-2"), true)
	count, err = s.ClearNode(ctx, "node_1")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 1 {
		t.Fatalf("want 1 cleared lock, got %d", count)
	}

	items, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(items) != 2 || items[0].ResourceKey != "b" || items[1].ResourceKey != "c" {
		t.Fatalf("unexpected locks: %+v", items)
	}
}
