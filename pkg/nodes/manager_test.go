// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/locks"
)

func newTestManager(t *testing.T, primary bool) (*Manager, *MemoryStore, *locks.MemoryStore) {
	t.Helper()
	store, clock := newMemoryStore()
	lockStore := locks.NewMemoryStore(clock, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conf := config.NodeConfig{
		Name:          "node1",
		Location:      "node1:443",
		CompanyID:     1,
		AnalysisModes: []string{"correlation"},
		Translation:   map[string]string{"node2:443": "10.0.0.2:443"},
	}
	m := NewManager(store, locks.NewManager(lockStore, conf.Name, logger), conf, primary, logger)

	return m, store, lockStore
}

func TestManagerStart(t *testing.T) {
	m, _, lockStore := newTestManager(t, true)
	ctx := context.Background()

	// Locks of a previous run of the node and of another node
	if _, err := lockStore.Acquire(ctx, "stale", locks.NewHolderID("node1")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := lockStore.Acquire(ctx, "foreign", locks.NewHolderID("node2")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	node, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if !node.IsPrimary || node.AnyMode || !node.Accepts("correlation") {
		t.Fatalf("unexpected node state: %+v", node)
	}

	items, err := lockStore.List(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(items) != 1 || items[0].ResourceKey != "foreign" {
		t.Fatalf("want only the foreign lock, got %+v", items)
	}
}

func TestManagerUpdateStatus(t *testing.T) {
	testCases := []struct {
		desc      string
		primary   bool
		wantLocks int
	}{
		{desc: "primary clears expired locks", primary: true, wantLocks: 0},
		{desc: "non-primary keeps expired locks", primary: false, wantLocks: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m, _, lockStore := newTestManager(t, tc.primary)
			ctx := context.Background()

			if err := m.UpdateStatus(ctx); err != ErrNoNodeID {
				t.Fatalf("want %v before start, got %v", ErrNoNodeID, err)
			}

			if _, err := m.Start(ctx); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			// Lock timeout is zero, so the lock is immediately expired
			if _, err := lockStore.Acquire(ctx, "resource", locks.NewHolderID("node2")); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			if err := m.UpdateStatus(ctx); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			items, err := lockStore.List(ctx, "")
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if len(items) != tc.wantLocks {
				t.Fatalf("want %d locks, got %d", tc.wantLocks, len(items))
			}
		})
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	m, _, _ := newTestManager(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestManagerTranslateAndIsLocal(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	if got := m.Translate("node2:443"); got != "10.0.0.2:443" {
		t.Fatalf("unexpected translation %q", got)
	}
	if got := m.Translate("node3:443"); got != "node3:443" {
		t.Fatalf("unexpected translation %q", got)
	}
	if !m.IsLocal("node1") || m.IsLocal("node2") {
		t.Fatalf("unexpected local routing")
	}
}
