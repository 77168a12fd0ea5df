// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

func newMemoryStore(timeout time.Duration) (*MemoryStore, *testingclock.FakeClock) {
	clock := testingclock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	return NewMemoryStore(clock, timeout), clock
}

func mustAcquire(t *testing.T, s Store, key, holder string, want bool) {
	t.Helper()
	got, err := s.Acquire(context.Background(), key, holder)
	if err != nil {
		t.Fatalf("acquire %s by %s: %s", key, holder, err)
	}
	if got != want {
		t.Fatalf("acquire %s by %s: want %t, got %t", key, holder, want, got)
	}
}

func mustRelease(t *testing.T, s Store, key, holder string, want bool) {
	t.Helper()
	got, err := s.Release(context.Background(), key, holder)
	if err != nil {
		t.Fatalf("release %s by %s: %s", key, holder, err)
	}
	if got != want {
		t.Fatalf("release %s by %s: want %t, got %t", key, holder, want, got)
	}
}

func TestMemoryStoreAcquireRelease(t *testing.T) {
	s, _ := newMemoryStore(time.Minute)

	mustAcquire(t, s, "test", "holder-1", true)
	mustAcquire(t, s, "test", "holder-1", true)
	mustAcquire(t, s, "test", "holder-2", false)

	mustRelease(t, s, "test", "holder-2", false)
	mustRelease(t, s, "test", "holder-1", true)

	mustAcquire(t, s, "test", "holder-2", true)
}

func TestMemoryStoreReclaimAfterTimeout(t *testing.T) {
	s, clock := newMemoryStore(time.Minute)

	mustAcquire(t, s, "test", "holder-1", true)
	clock.Step(59 * time.Second)
	mustAcquire(t, s, "test", "holder-2", false)

	clock.Step(time.Second)
	mustAcquire(t, s, "test", "holder-2", true)

	// The previous holder no longer holds the lock
	mustRelease(t, s, "test", "holder-1", false)
	mustAcquire(t, s, "test", "holder-1", false)
}

func TestMemoryStoreZeroTimeout(t *testing.T) {
	s, _ := newMemoryStore(0)

	mustAcquire(t, s, "test", "holder-1", true)
	mustAcquire(t, s, "test", "holder-2", true)
}

func TestMemoryStoreReacquireRefreshesLock(t *testing.T) {
	s, clock := newMemoryStore(time.Minute)

	mustAcquire(t, s, "test", "holder-1", true)
	clock.Step(50 * time.Second)
	mustAcquire(t, s, "test", "holder-1", true)
	clock.Step(50 * time.Second)
	mustAcquire(t, s, "test", "holder-2", false)
}

func TestMemoryStoreClearExpired(t *testing.T) {
	s, clock := newMemoryStore(time.Minute)
	ctx := context.Background()

	mustAcquire(t, s, "old", "holder-1", true)
	clock.Step(2 * time.Minute)
	mustAcquire(t, s, "new", "holder-1", true)

	count, err := s.ClearExpired(ctx)
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
	if len(items) != 1 || items[0].ResourceKey != "new" {
		t.Fatalf("unexpected locks after clearing: %+v", items)
	}
}

func TestMemoryStoreClearNode(t *testing.T) {
	s, _ := newMemoryStore(time.Minute)
	ctx := context.Background()

	mustAcquire(t, s, "a", NewHolderID("ace"), true)
	mustAcquire(t, s, "b", NewHolderID("ace"), true)
	mustAcquire(t, s, "c", NewHolderID("ace10"), true)
	mustAcquire(t, s, "d", NewHolderID("ace-2"), true)
	mustAcquire(t, s, "e", "ace-manual", true)

	owned, err := s.List(ctx, "ace")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(owned) != 2 || owned[0].ResourceKey != "a" || owned[1].ResourceKey != "b" {
		t.Fatalf("unexpected owned locks: %+v", owned)
	}

	// Locks of node ace-2 share the holder prefix of node ace
	count, err := s.ClearNode(ctx, "ace")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 2 {
		t.Fatalf("want 2 cleared locks, got %d", count)
	}

	items, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.ResourceKey)
	}
	if !slices.Equal(keys, []string{"c", "d", "e"}) {
		t.Fatalf("unexpected locks after clearing: %v", keys)
	}

	if _, err := s.ClearNode(ctx, ""); !errors.Is(err, ErrEmptyHolder) {
		t.Fatalf("want ErrEmptyHolder, got %v", err)
	}
}

func TestHolderPattern(t *testing.T) {
	pattern := regexp.MustCompile(holderPattern("ace.1"))
	testCases := []struct {
		holder string
		want   bool
	}{
		{holder: NewHolderID("ace.1"), want: true},
		{holder: NewHolderID("ace.1-2"), want: false},
		{holder: NewHolderID("acex1"), want: false},
		{holder: "ace.1-manual", want: false},
	}

	for _, tc := range testCases {
		if got := pattern.MatchString(tc.holder); got != tc.want {
			t.Fatalf("holder %q: want match %t, got %t", tc.holder, tc.want, got)
		}
	}
}

func TestMemoryStoreInvalidArguments(t *testing.T) {
	s, _ := newMemoryStore(time.Minute)
	ctx := context.Background()

	testCases := []struct {
		desc    string
		key     string
		holder  string
		wantErr error
	}{
		{desc: "empty key", key: "", holder: "h", wantErr: ErrEmptyKey},
		{desc: "empty holder", key: "k", holder: "", wantErr: ErrEmptyHolder},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if _, err := s.Acquire(ctx, tc.key, tc.holder); !errors.Is(err, tc.wantErr) {
				t.Fatalf("acquire: want error %v, got %v", tc.wantErr, err)
			}
			if _, err := s.Release(ctx, tc.key, tc.holder); !errors.Is(err, tc.wantErr) {
				t.Fatalf("release: want error %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLikePrefix(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{in: "node-", want: "node-%"},
		{in: "node_1-", want: `node\_1-%`},
		{in: "50%-", want: `50\%-%`},
	}

	for _, tc := range testCases {
		if got := likePrefix(tc.in); got != tc.want {
			t.Fatalf("likePrefix(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestHolderNode(t *testing.T) {
	testCases := []struct {
		holder string
		want   string
	}{
		{holder: NewHolderID("node1"), want: "node1"},
		{holder: NewHolderID("node-with-dashes"), want: "node-with-dashes"},
		{holder: "node1-not-a-uuid", want: ""},
		{holder: "-" + "6ba7b810-9dad-11d1-80b4-00c04fd430c8", want: ""},
		{holder: "manual", want: ""},
	}

	for _, tc := range testCases {
		if got := HolderNode(tc.holder); got != tc.want {
			t.Fatalf("HolderNode(%q): want %q, got %q", tc.holder, tc.want, got)
		}
	}
}
