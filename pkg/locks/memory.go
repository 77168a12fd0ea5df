// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// MemoryStore is an in-process [Store]. It provides the same semantics as
// [BunStore] for a single process and is used by tests and single node
// setups.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	timeout time.Duration
	items   map[string]Lock
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates a new [MemoryStore] using the given clock.
func NewMemoryStore(c clock.PassiveClock, timeout time.Duration) *MemoryStore {
	s := &MemoryStore{
		clock:   c,
		timeout: timeout,
		items:   make(map[string]Lock),
	}

	return s
}

// Acquire implements the [Store] interface.
func (s *MemoryStore) Acquire(_ context.Context, key, holder string) (bool, error) {
	if err := validate(key, holder); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	existing, ok := s.items[key]
	if ok && existing.Holder != holder && !existing.Expired(now, s.timeout) {
		return false, nil
	}

	s.items[key] = Lock{
		ResourceKey: key,
		Holder:      holder,
		AcquiredAt:  now,
	}

	return true, nil
}

// Release implements the [Store] interface.
func (s *MemoryStore) Release(_ context.Context, key, holder string) (bool, error) {
	if err := validate(key, holder); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[key]
	if !ok || existing.Holder != holder {
		return false, nil
	}
	delete(s.items, key)

	return true, nil
}

// ClearExpired implements the [Store] interface.
func (s *MemoryStore) ClearExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var count int64
	for key, lock := range s.items {
		if lock.Expired(now, s.timeout) {
			delete(s.items, key)
			count++
		}
	}

	return count, nil
}

// ClearNode implements the [Store] interface.
func (s *MemoryStore) ClearNode(_ context.Context, node string) (int64, error) {
	if node == "" {
		return 0, ErrEmptyHolder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, lock := range s.items {
		if HolderNode(lock.Holder) == node {
			delete(s.items, key)
			count++
		}
	}

	return count, nil
}

// List implements the [Store] interface.
func (s *MemoryStore) List(_ context.Context, node string) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Lock, 0, len(s.items))
	for _, lock := range s.items {
		if node == "" || HolderNode(lock.Holder) == node {
			items = append(items, lock)
		}
	}

	slices.SortFunc(items, func(a, b Lock) int {
		return strings.Compare(a.ResourceKey, b.ResourceKey)
	})

	return items, nil
}
