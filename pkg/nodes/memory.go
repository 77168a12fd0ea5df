// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"k8s.io/utils/clock"
)

// MemoryStore is an in-process [Store] used by tests and single node setups.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clock.PassiveClock
	nextID   int64
	nextWID  int64
	nodes    map[string]*Node
	workload map[string]Workload
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates a new empty [MemoryStore].
func NewMemoryStore(c clock.PassiveClock) *MemoryStore {
	s := &MemoryStore{
		clock:    c,
		nodes:    make(map[string]*Node),
		workload: make(map[string]Workload),
	}

	return s
}

// Initialize implements the [Store] interface.
func (s *MemoryStore) Initialize(_ context.Context, id Identity) (*Node, error) {
	if id.Name == "" {
		return nil, ErrNoNodeName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id.Name]
	if !ok {
		s.nextID++
		node = &Node{
			ID:         s.nextID,
			Name:       id.Name,
			LastUpdate: s.clock.Now(),
			CreatedAt:  s.clock.Now(),
		}
		s.nodes[id.Name] = node
	}
	node.Location = id.Location
	node.CompanyID = id.CompanyID

	return s.copyNode(node), nil
}

// AssignAnalysisModes implements the [Store] interface.
func (s *MemoryStore) AssignAnalysisModes(_ context.Context, nodeID int64, modes, excluded []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.byID(nodeID)
	if err != nil {
		return err
	}

	node.Modes = make([]*NodeMode, 0)
	for _, m := range normalizeModes(modes) {
		node.Modes = append(node.Modes, &NodeMode{NodeID: nodeID, AnalysisMode: m})
	}

	node.ExcludedModes = make([]*NodeModeExcluded, 0)
	for _, m := range normalizeModes(excluded) {
		node.ExcludedModes = append(node.ExcludedModes, &NodeModeExcluded{NodeID: nodeID, AnalysisMode: m})
	}
	node.AnyMode = len(node.Modes) == 0

	return nil
}

// GetAvailableNodes implements the [Store] interface.
func (s *MemoryStore) GetAvailableNodes(_ context.Context, companyID int64, modes []string) ([]Node, error) {
	modes = normalizeModes(modes)

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]int64)
	for _, w := range s.workload {
		counts[w.NodeID]++
	}

	items := make([]Node, 0)
	for _, node := range s.nodes {
		if node.CompanyID != companyID {
			continue
		}

		if len(modes) > 0 && !available(node, modes) {
			continue
		}

		item := s.copyNode(node)
		item.WorkloadCount = counts[node.ID]
		items = append(items, *item)
	}

	slices.SortFunc(items, func(a, b Node) int {
		return cmp.Or(
			cmp.Compare(a.WorkloadCount, b.WorkloadCount),
			a.LastUpdate.Compare(b.LastUpdate),
			cmp.Compare(a.ID, b.ID),
		)
	})

	return items, nil
}

// available returns true, if the node accepts any mode and does not exclude
// all of the modes, or explicitly includes one of the modes.
func available(node *Node, modes []string) bool {
	if node.AnyMode {
		excluded := node.ExcludedAnalysisModes()
		for _, m := range modes {
			if !slices.Contains(excluded, m) {
				return true
			}
		}
	}

	included := node.IncludedModes()
	for _, m := range modes {
		if slices.Contains(included, m) {
			return true
		}
	}

	return false
}

// UpdateStatus implements the [Store] interface.
func (s *MemoryStore) UpdateStatus(_ context.Context, nodeID int64, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.byID(nodeID)
	if err != nil {
		return err
	}
	node.LastUpdate = s.clock.Now()
	node.Location = location

	return nil
}

// SetPrimary implements the [Store] interface.
func (s *MemoryStore) SetPrimary(_ context.Context, nodeID int64, primary bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.byID(nodeID)
	if err != nil {
		return err
	}
	node.IsPrimary = primary

	return nil
}

// GetNode implements the [Store] interface.
func (s *MemoryStore) GetNode(_ context.Context, name string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}

	return s.copyNode(node), nil
}

// ListNodes implements the [Store] interface.
func (s *MemoryStore) ListNodes(_ context.Context) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		items = append(items, *s.copyNode(node))
	}
	slices.SortFunc(items, func(a, b Node) int {
		return strings.Compare(a.Name, b.Name)
	})

	return items, nil
}

// InsertWorkload implements the [Store] interface.
func (s *MemoryStore) InsertWorkload(_ context.Context, item *Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.byID(item.NodeID); err != nil {
		return err
	}

	if _, exists := s.workload[item.UUID]; exists {
		return fmt.Errorf("duplicate workload uuid %s", item.UUID)
	}

	s.nextWID++
	item.ID = s.nextWID
	item.CreatedAt = s.clock.Now()
	s.workload[item.UUID] = *item

	return nil
}

// DeleteWorkload implements the [Store] interface.
func (s *MemoryStore) DeleteWorkload(_ context.Context, uuid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.workload[uuid]
	delete(s.workload, uuid)

	return ok, nil
}

// CountWorkload implements the [Store] interface.
func (s *MemoryStore) CountWorkload(_ context.Context) ([]WorkloadCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[int64]string)
	for _, node := range s.nodes {
		names[node.ID] = node.Name
	}

	type key struct{ node, mode string }
	counts := make(map[key]int64)
	for _, w := range s.workload {
		counts[key{names[w.NodeID], w.AnalysisMode}]++
	}

	items := make([]WorkloadCount, 0, len(counts))
	for k, count := range counts {
		items = append(items, WorkloadCount{NodeName: k.node, AnalysisMode: k.mode, Count: count})
	}
	slices.SortFunc(items, func(a, b WorkloadCount) int {
		return cmp.Or(
			strings.Compare(a.NodeName, b.NodeName),
			strings.Compare(a.AnalysisMode, b.AnalysisMode),
		)
	})

	return items, nil
}

// byID returns the node with the given id. Callers must hold the lock.
func (s *MemoryStore) byID(nodeID int64) (*Node, error) {
	for _, node := range s.nodes {
		if node.ID == nodeID {
			return node, nil
		}
	}

	return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, nodeID)
}

// copyNode returns a deep copy of the node. Callers must hold the lock.
func (s *MemoryStore) copyNode(node *Node) *Node {
	c := *node
	c.Modes = make([]*NodeMode, 0, len(node.Modes))
	for _, m := range node.Modes {
		mode := *m
		c.Modes = append(c.Modes, &mode)
	}
	c.ExcludedModes = make([]*NodeModeExcluded, 0, len(node.ExcludedModes))
	for _, m := range node.ExcludedModes {
		mode := *m
		c.ExcludedModes = append(c.ExcludedModes, &mode)
	}

	return &c
}
