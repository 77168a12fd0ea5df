// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ace-ecosystem/ace/pkg/metrics"
)

// ErrNotAcquired is returned by [Manager.WithLock] when the lock is held by
// another holder.
var ErrNotAcquired = errors.New("lock not acquired")

// Manager acquires and releases named locks on behalf of a single node.
type Manager struct {
	store  Store
	node   string
	logger *slog.Logger
}

// NewManager creates a new [Manager] for the given node.
func NewManager(store Store, node string, logger *slog.Logger) *Manager {
	m := &Manager{
		store:  store,
		node:   node,
		logger: logger.With("node", node),
	}

	return m
}

// Store returns the underlying [Store].
func (m *Manager) Store() Store {
	return m.store
}

// NewHolderID returns a new holder id owned by the node of the manager.
func (m *Manager) NewHolderID() string {
	return NewHolderID(m.node)
}

// Acquire attempts to acquire the lock for key on behalf of holder.
func (m *Manager) Acquire(ctx context.Context, key, holder string) (bool, error) {
	ok, err := m.store.Acquire(ctx, key, holder)
	switch {
	case err != nil:
		metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		m.logger.Error("failed to acquire lock", "key", key, "holder", holder, "reason", err)

		return false, err
	case ok:
		metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
		m.logger.Debug("acquired lock", "key", key, "holder", holder)
	default:
		metrics.LockAcquireTotal.WithLabelValues("busy").Inc()
		m.logger.Debug("lock held by another holder", "key", key, "holder", holder)
	}

	return ok, nil
}

// Release releases the lock for key, if it is held by holder.
func (m *Manager) Release(ctx context.Context, key, holder string) (bool, error) {
	ok, err := m.store.Release(ctx, key, holder)
	if err != nil {
		m.logger.Error("failed to release lock", "key", key, "holder", holder, "reason", err)

		return false, err
	}

	if !ok {
		m.logger.Warn("lock was not held on release", "key", key, "holder", holder)
	}

	return ok, nil
}

// WithLock calls f while holding the lock for key. The lock is always
// released once f returns. [ErrNotAcquired] is returned when the lock is
// held by another holder.
func (m *Manager) WithLock(ctx context.Context, key string, f func(ctx context.Context) error) (err error) {
	holder := m.NewHolderID()
	ok, err := m.Acquire(ctx, key, holder)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	defer func() {
		// Release with a fresh context, so that the lock is removed
		// even when ctx has been cancelled.
		_, releaseErr := m.Release(context.WithoutCancel(ctx), key, holder)
		err = errors.Join(err, releaseErr)
	}()

	return f(ctx)
}

// ClearExpired removes all expired locks of the cluster. It is called
// periodically by the primary node.
func (m *Manager) ClearExpired(ctx context.Context) (int64, error) {
	count, err := m.store.ClearExpired(ctx)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		m.logger.Info("cleared expired locks", "count", count)
	}

	return count, nil
}

// ClearOwned removes all locks held by the node of the manager. It is called
// on startup to recover from an unclean shutdown.
func (m *Manager) ClearOwned(ctx context.Context) (int64, error) {
	count, err := m.store.ClearNode(ctx, m.node)
	if err != nil {
		return 0, err
	}

	m.logger.Info("cleared locks owned by node", "count", count)

	return count, nil
}

// ListOwned returns the locks held by the node of the manager.
func (m *Manager) ListOwned(ctx context.Context) ([]Lock, error) {
	return m.store.List(ctx, m.node)
}
