// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/locks"
)

// Manager registers the current node and runs its periodic status updates.
// The primary node additionally clears the expired named locks of the
// cluster on each status update.
type Manager struct {
	store   Store
	locks   *locks.Manager
	conf    config.NodeConfig
	primary bool
	logger  *slog.Logger

	mu   sync.Mutex
	node *Node
}

// NewManager creates a new [Manager] for the node described by conf. The
// primary flag is decided once by the caller and is static for the lifetime
// of the manager.
func NewManager(store Store, lockManager *locks.Manager, conf config.NodeConfig, primary bool, logger *slog.Logger) *Manager {
	m := &Manager{
		store:   store,
		locks:   lockManager,
		conf:    conf,
		primary: primary,
		logger:  logger.With("node", conf.Name),
	}

	return m
}

// Start registers the node, assigns its analysis modes, clears the named
// locks left over from a previous run of the node and records the primary
// flag. An error returned by Start is fatal, e.g. [ErrNoNodeID].
func (m *Manager) Start(ctx context.Context) (*Node, error) {
	id := Identity{
		Name:      m.conf.Name,
		Location:  m.conf.Location,
		CompanyID: m.conf.CompanyID,
	}

	node, err := m.store.Initialize(ctx, id)
	if err != nil {
		return nil, err
	}
	m.logger.Info("initialized node", "id", node.ID, "location", node.Location)

	if err := m.store.AssignAnalysisModes(ctx, node.ID, m.conf.AnalysisModes, m.conf.ExcludedAnalysisModes); err != nil {
		return nil, err
	}

	if _, err := m.locks.ClearOwned(ctx); err != nil {
		return nil, err
	}

	if err := m.store.SetPrimary(ctx, node.ID, m.primary); err != nil {
		return nil, err
	}

	node, err = m.store.GetNode(ctx, m.conf.Name)
	if err != nil {
		return nil, err
	}

	m.logger.Info(
		"node started",
		"any_mode", node.AnyMode,
		"modes", node.IncludedModes(),
		"excluded_modes", node.ExcludedAnalysisModes(),
		"primary", node.IsPrimary,
	)

	m.mu.Lock()
	m.node = node
	m.mu.Unlock()

	return node, nil
}

// Node returns the registered node, or nil if [Manager.Start] has not
// completed yet.
func (m *Manager) Node() *Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.node
}

// IsPrimary returns true, if the node is the primary node.
func (m *Manager) IsPrimary() bool {
	return m.primary
}

// IsLocal returns true, if the given node name refers to the current node.
func (m *Manager) IsLocal(name string) bool {
	return name == m.conf.Name
}

// Translate returns the location to use when connecting to a node at the
// given location, rewritten by the configured node translation.
func (m *Manager) Translate(location string) string {
	if target, ok := m.conf.Translation[location]; ok {
		m.logger.Debug("translated node location", "source", location, "target", target)

		return target
	}

	return location
}

// UpdateStatus records the node heartbeat and, on the primary node, clears
// the expired named locks of the cluster.
func (m *Manager) UpdateStatus(ctx context.Context) error {
	node := m.Node()
	if node == nil {
		return ErrNoNodeID
	}

	if err := m.store.UpdateStatus(ctx, node.ID, m.conf.Location); err != nil {
		return err
	}

	if !m.primary {
		return nil
	}

	_, err := m.locks.ClearExpired(ctx)

	return err
}

// Run performs status updates at the configured interval until the context
// is done. Failed updates are logged and retried on the next cycle.
func (m *Manager) Run(ctx context.Context) {
	interval := m.conf.StatusUpdateInterval
	if interval <= 0 {
		interval = config.DefaultStatusUpdateInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.UpdateStatus(ctx); err != nil {
			m.logger.Error("failed to update node status", "reason", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
