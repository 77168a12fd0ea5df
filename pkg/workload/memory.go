// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/ace-ecosystem/ace/pkg/core/models"
)

// MemoryStore is an in-process [Store] used by tests and single node setups.
// It applies the same ordering and lease rules as [BunStore].
type MemoryStore struct {
	mu         sync.Mutex
	clock      clock.PassiveClock
	nextID     int64
	types      map[string]int64
	groups     map[string]int64
	items      map[int64]*Item
	leases     map[leaseKey]*Distribution
	priorities map[string]int
}

// leaseKey identifies a lease of a work item within a group.
type leaseKey struct {
	groupID int64
	workID  int64
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates a new [MemoryStore]. Like the database schema, the
// correlation mode starts with priority 1.
func NewMemoryStore(c clock.PassiveClock) *MemoryStore {
	s := &MemoryStore{
		clock:  c,
		types:  make(map[string]int64),
		groups: make(map[string]int64),
		items:  make(map[int64]*Item),
		leases: make(map[leaseKey]*Distribution),
		priorities: map[string]int{
			models.AnalysisModeCorrelation: 1,
		},
	}

	return s
}

// EnsureType implements the [Store] interface.
func (s *MemoryStore) EnsureType(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensure(s.types, name), nil
}

// EnsureGroup implements the [Store] interface.
func (s *MemoryStore) EnsureGroup(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensure(s.groups, name), nil
}

// ensure returns the id of name, allocating a new one if needed.
func (s *MemoryStore) ensure(ids map[string]int64, name string) int64 {
	id, ok := ids[name]
	if !ok {
		id = int64(len(ids) + 1)
		ids[name] = id
	}

	return id
}

// Insert implements the [Store] interface.
func (s *MemoryStore) Insert(_ context.Context, typeID int64, mode string, work []byte, groupIDs []int64) (*Item, error) {
	if len(groupIDs) == 0 {
		return nil, ErrNoGroups
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	item := &Item{
		ID:        s.nextID,
		TypeID:    typeID,
		Mode:      mode,
		Work:      slices.Clone(work),
		CreatedAt: s.clock.Now(),
	}
	s.items[item.ID] = item

	for _, groupID := range groupIDs {
		s.leases[leaseKey{groupID, item.ID}] = &Distribution{
			GroupID: groupID,
			WorkID:  item.ID,
			Status:  StatusReady,
		}
	}

	result := *item

	return &result, nil
}

// Claim implements the [Store] interface.
func (s *MemoryStore) Claim(_ context.Context, req ClaimRequest) (Lease, error) {
	if req.BatchSize < 1 {
		return Lease{}, fmt.Errorf("%w: %d", ErrInvalidBatchSize, req.BatchSize)
	}

	lease := Lease{UUID: uuid.NewString()}
	if req.Filter.Empty() {
		return lease, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	candidates := make([]*Item, 0)
	for key, d := range s.leases {
		if key.groupID != req.GroupID {
			continue
		}

		item := s.items[key.workID]
		if item.TypeID != req.TypeID || !req.Filter.Matches(item.Mode) {
			continue
		}

		switch {
		case d.Status == StatusReady:
		case d.Status == StatusLocked && d.LockTime != nil && !now.Before(d.LockTime.Add(req.LeaseTimeout)):
		default:
			continue
		}

		candidates = append(candidates, item)
	}

	s.sortItems(candidates)
	if len(candidates) > req.BatchSize {
		candidates = candidates[:req.BatchSize]
	}

	for _, item := range candidates {
		d := s.leases[leaseKey{req.GroupID, item.ID}]
		leaseUUID := lease.UUID
		lockTime := now
		d.Status = StatusLocked
		d.LockUUID = &leaseUUID
		d.LockTime = &lockTime
	}
	lease.Claimed = int64(len(candidates))

	return lease, nil
}

// sortItems sorts items by priority descending, then by id ascending.
// Callers must hold the lock.
func (s *MemoryStore) sortItems(items []*Item) {
	slices.SortFunc(items, func(a, b *Item) int {
		return cmp.Or(
			cmp.Compare(s.priorities[b.Mode], s.priorities[a.Mode]),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// Fetch implements the [Store] interface.
func (s *MemoryStore) Fetch(_ context.Context, groupID int64, leaseUUID string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]*Item, 0)
	for key, d := range s.leases {
		if key.groupID != groupID || d.Status != StatusLocked {
			continue
		}
		if d.LockUUID == nil || *d.LockUUID != leaseUUID {
			continue
		}
		claimed = append(claimed, s.items[key.workID])
	}
	s.sortItems(claimed)

	items := make([]Item, 0, len(claimed))
	for _, item := range claimed {
		c := *item
		c.Work = slices.Clone(item.Work)
		items = append(items, c)
	}

	return items, nil
}

// Complete implements the [Store] interface.
func (s *MemoryStore) Complete(_ context.Context, groupID, workID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leases, leaseKey{groupID, workID})
	for key := range s.leases {
		if key.workID == workID {
			return nil
		}
	}
	delete(s.items, workID)

	return nil
}

// Release implements the [Store] interface.
func (s *MemoryStore) Release(_ context.Context, groupID, workID int64, leaseUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.leases[leaseKey{groupID, workID}]
	if !ok || d.LockUUID == nil || *d.LockUUID != leaseUUID {
		return nil
	}

	d.Status = StatusReady
	d.LockUUID = nil
	d.LockTime = nil

	return nil
}

// SetPriority implements the [Store] interface.
func (s *MemoryStore) SetPriority(_ context.Context, mode string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.priorities[mode] = priority

	return nil
}

// Priorities implements the [Store] interface.
func (s *MemoryStore) Priorities(_ context.Context) ([]Priority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Priority, 0, len(s.priorities))
	for mode, priority := range s.priorities {
		items = append(items, Priority{AnalysisMode: mode, Priority: priority})
	}
	slices.SortFunc(items, func(a, b Priority) int {
		return cmp.Or(
			cmp.Compare(b.Priority, a.Priority),
			strings.Compare(a.AnalysisMode, b.AnalysisMode),
		)
	})

	return items, nil
}

// List implements the [Store] interface.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	typeNames := invert(s.types)
	groupNames := invert(s.groups)
	items := make([]Entry, 0, len(s.leases))
	for key, d := range s.leases {
		item := s.items[key.workID]
		items = append(items, Entry{
			WorkID:   item.ID,
			Type:     typeNames[item.TypeID],
			Mode:     item.Mode,
			Group:    groupNames[key.groupID],
			Status:   d.Status,
			LockUUID: d.LockUUID,
			LockTime: d.LockTime,
			Priority: s.priorities[item.Mode],
		})
	}

	slices.SortFunc(items, func(a, b Entry) int {
		return cmp.Or(
			strings.Compare(a.Group, b.Group),
			cmp.Compare(b.Priority, a.Priority),
			cmp.Compare(a.WorkID, b.WorkID),
		)
	})

	return items, nil
}

// Counts implements the [Store] interface.
func (s *MemoryStore) Counts(ctx context.Context) ([]Count, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[Count]int64)
	for _, e := range entries {
		index[Count{Type: e.Type, Mode: e.Mode, Group: e.Group, Status: e.Status}]++
	}

	items := make([]Count, 0, len(index))
	for k, count := range index {
		k.Count = count
		items = append(items, k)
	}

	slices.SortFunc(items, func(a, b Count) int {
		return cmp.Or(
			strings.Compare(a.Type, b.Type),
			strings.Compare(a.Mode, b.Mode),
			strings.Compare(a.Group, b.Group),
			strings.Compare(a.Status, b.Status),
		)
	})

	return items, nil
}

// DeleteOrphans implements the [Store] interface.
func (s *MemoryStore) DeleteOrphans(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leased := make(map[int64]bool)
	for key := range s.leases {
		leased[key.workID] = true
	}

	var count int64
	for id := range s.items {
		if !leased[id] {
			delete(s.items, id)
			count++
		}
	}

	return count, nil
}

// invert returns the name of each id.
func invert(ids map[string]int64) map[int64]string {
	result := make(map[int64]string, len(ids))
	for name, id := range ids {
		result[id] = name
	}

	return result
}
