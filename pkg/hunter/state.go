// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// StateLastExecutedTime is the name of the persisted value holding the
	// time of the last successful execution of a hunt.
	StateLastExecutedTime = "last_executed_time"

	// StateLastAlertTime is the name of the persisted value holding the
	// time at which a hunt produced submissions the last time.
	StateLastAlertTime = "last_alert_time"
)

// stateVersion is the version of the on-disk state record.
const stateVersion = 1

// ErrUnsupportedStateVersion is returned when reading a state record with an
// unknown version.
var ErrUnsupportedStateVersion = errors.New("unsupported state version")

// StateStore persists named timestamps per hunt.
type StateStore interface {
	// Read returns the named value of the hunt. The returned time is nil,
	// if the value has not been written yet.
	Read(huntType, huntName, value string) (*time.Time, error)

	// Write stores the named value of the hunt.
	Write(huntType, huntName, value string, t time.Time) error
}

// stateRecord is the on-disk representation of a single value.
type stateRecord struct {
	Version int       `json:"version"`
	Value   time.Time `json:"value"`
}

// FileStateStore is a [StateStore], which keeps one file per value below
// <dir>/<hunt-type>/<hunt-name>/. Values are written to a temporary file,
// which is then renamed, so a crash while writing never corrupts the
// previous value.
type FileStateStore struct {
	dir string
}

var _ StateStore = &FileStateStore{}

// NewFileStateStore creates a new [FileStateStore] rooted at dir.
func NewFileStateStore(dir string) *FileStateStore {
	return &FileStateStore{dir: dir}
}

// Dir returns the state directory of the hunt.
func (s *FileStateStore) Dir(huntType, huntName string) string {
	return filepath.Join(s.dir, pathSegment(huntType), pathSegment(huntName))
}

// pathSegment escapes s for use as a single path segment.
func pathSegment(s string) string {
	switch s {
	case ".", "..":
		return strings.ReplaceAll(s, ".", "%2E")
	default:
		return url.PathEscape(s)
	}
}

// Read implements the [StateStore] interface.
func (s *FileStateStore) Read(huntType, huntName, value string) (*time.Time, error) {
	path := filepath.Join(s.Dir(huntType, huntName), value)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", path, err)
	}

	if record.Version != stateVersion {
		return nil, fmt.Errorf("%w: %d in %s", ErrUnsupportedStateVersion, record.Version, path)
	}

	t := record.Value.UTC()

	return &t, nil
}

// Write implements the [StateStore] interface.
func (s *FileStateStore) Write(huntType, huntName, value string, t time.Time) error {
	dir := s.Dir(huntType, huntName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(stateRecord{Version: stateVersion, Value: t.UTC()})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, value+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // nolint: errcheck

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close())
	}

	if err := tmp.Sync(); err != nil {
		return errors.Join(err, tmp.Close())
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, value))
}

// MemoryStateStore is an in-memory [StateStore].
type MemoryStateStore struct {
	mu     sync.Mutex
	values map[string]time.Time
}

var _ StateStore = &MemoryStateStore{}

// NewMemoryStateStore creates a new [MemoryStateStore].
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{values: make(map[string]time.Time)}
}

func memoryStateKey(huntType, huntName, value string) string {
	return huntType + "/" + huntName + "/" + value
}

// Read implements the [StateStore] interface.
func (s *MemoryStateStore) Read(huntType, huntName, value string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.values[memoryStateKey(huntType, huntName, value)]
	if !ok {
		return nil, nil
	}

	return &t, nil
}

// Write implements the [StateStore] interface.
func (s *MemoryStateStore) Write(huntType, huntName, value string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[memoryStateKey(huntType, huntName, value)] = t

	return nil
}
