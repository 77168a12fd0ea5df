// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestManagerWithLock(t *testing.T) {
	s, _ := newMemoryStore(time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	node1 := NewManager(s, "node1", logger)
	node2 := NewManager(s, "node2", logger)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := node1.WithLock(ctx, "resource", func(ctx context.Context) error {
		// The lock is held while f runs
		if err := node2.WithLock(ctx, "resource", func(context.Context) error { return nil }); !errors.Is(err, ErrNotAcquired) {
			t.Fatalf("want %v, got %v", ErrNotAcquired, err)
		}

		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("want %v, got %v", errBoom, err)
	}

	// The lock is released after f returns, even on error
	called := false
	err = node2.WithLock(ctx, "resource", func(context.Context) error {
		called = true

		return nil
	})
	if err != nil || !called {
		t.Fatalf("lock not released: called=%t err=%v", called, err)
	}
}

func TestManagerClearOwned(t *testing.T) {
	s, _ := newMemoryStore(time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	node1 := NewManager(s, "node1", logger)
	node2 := NewManager(s, "node2", logger)
	ctx := context.Background()

	mustAcquire(t, s, "a", node1.NewHolderID(), true)
	mustAcquire(t, s, "b", node2.NewHolderID(), true)

	owned, err := node1.ListOwned(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(owned) != 1 || owned[0].ResourceKey != "a" {
		t.Fatalf("unexpected owned locks: %+v", owned)
	}

	count, err := node1.ClearOwned(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 1 {
		t.Fatalf("want 1 cleared lock, got %d", count)
	}

	owned, err = node2.ListOwned(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(owned) != 1 {
		t.Fatalf("locks of other nodes were cleared: %+v", owned)
	}
}
