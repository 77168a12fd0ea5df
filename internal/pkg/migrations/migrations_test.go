// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"20250401000000_add_hunt_state.up.sql":   "SELECT 1;",
		"20250401000000_add_hunt_state.down.sql": "SELECT 1;",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	testCases := []struct {
		desc string
		dir  string
		want []string
	}{
		{
			desc: "bundled migrations",
			dir:  "",
			want: []string{
				"create_locks",
				"create_nodes",
				"create_work_distribution",
				"create_aux_housekeeper_run",
			},
		},
		{
			desc: "migrations directory",
			dir:  dir,
			want: []string{"add_hunt_state"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m, err := Load(tc.dir)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			got := make([]string, 0)
			for _, item := range m.Sorted() {
				got = append(got, item.Comment)
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("want migrations %v, got %v", tc.want, got)
			}
		})
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("want error for missing migrations directory")
	}
}
