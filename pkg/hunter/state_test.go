// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStateStore(t *testing.T) {
	store := NewFileStateStore(t.TempDir())

	got, err := store.Read("fake", "Test Hunt", StateLastExecutedTime)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got != nil {
		t.Fatalf("want no value before first write, got %s", got)
	}

	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	if err := store.Write("fake", "Test Hunt", StateLastExecutedTime, want); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err = store.Read("fake", "Test Hunt", StateLastExecutedTime)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got == nil || !got.Equal(want) {
		t.Fatalf("want %s, got %v", want, got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("want UTC time, got %s", got.Location())
	}

	// Overwrite and check for left over temporary files
	later := want.Add(time.Hour)
	if err := store.Write("fake", "Test Hunt", StateLastExecutedTime, later); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	entries, err := os.ReadDir(store.Dir("fake", "Test Hunt"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temporary file left behind: %s", entry.Name())
		}
	}

	got, err = store.Read("fake", "Test Hunt", StateLastExecutedTime)
	if err != nil || got == nil || !got.Equal(later) {
		t.Fatalf("want %s, got %v (%v)", later, got, err)
	}

	// Values of other hunts are independent
	other, err := store.Read("fake", "Other Hunt", StateLastExecutedTime)
	if err != nil || other != nil {
		t.Fatalf("want no value for other hunt, got %v (%v)", other, err)
	}
}

func TestFileStateStoreNameEscaping(t *testing.T) {
	root := t.TempDir()
	store := NewFileStateStore(root)

	if err := store.Write("fake", "../escape", StateLastAlertTime, time.Now()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	rel, err := filepath.Rel(root, store.Dir("fake", "../escape"))
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("state directory escapes the root: %s", rel)
	}
}

func TestFileStateStoreErrors(t *testing.T) {
	testCases := []struct {
		desc    string
		content string
		wantErr error
	}{
		{
			desc:    "unsupported version",
			content: `{"version": 99, "value": "2025-03-01T10:30:00Z"}`,
			wantErr: ErrUnsupportedStateVersion,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			store := NewFileStateStore(t.TempDir())
			dir := store.Dir("fake", "hunt")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			path := filepath.Join(dir, StateLastAlertTime)
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			_, err := store.Read("fake", "hunt", StateLastAlertTime)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("corrupted record", func(t *testing.T) {
		store := NewFileStateStore(t.TempDir())
		dir := store.Dir("fake", "hunt")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if err := os.WriteFile(filepath.Join(dir, StateLastAlertTime), []byte("garbage"), 0o600); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if _, err := store.Read("fake", "hunt", StateLastAlertTime); err == nil {
			t.Fatalf("want error for corrupted record")
		}
	})
}
