// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// BunStore is a [Store] backed by the locks table.
type BunStore struct {
	db      *bun.DB
	timeout time.Duration
}

var _ Store = &BunStore{}

// NewBunStore creates a new [BunStore]. Locks older than timeout may be
// reclaimed by other holders.
func NewBunStore(db *bun.DB, timeout time.Duration) *BunStore {
	s := &BunStore{
		db:      db,
		timeout: timeout,
	}

	return s
}

// Acquire implements the [Store] interface.
//
// The lock is inserted, or taken over in the same statement when it is held
// by the same holder or has expired.
func (s *BunStore) Acquire(ctx context.Context, key, holder string) (bool, error) {
	if err := validate(key, holder); err != nil {
		return false, err
	}

	lock := &Lock{
		ResourceKey: key,
		Holder:      holder,
	}

	out, err := s.db.NewInsert().
		Model(lock).
		Value("acquired_at", "NOW()").
		On("CONFLICT (resource_key) DO UPDATE").
		Set("holder = EXCLUDED.holder").
		Set("acquired_at = EXCLUDED.acquired_at").
		Where("lock.holder = EXCLUDED.holder OR lock.acquired_at <= NOW() - (? * INTERVAL '1 second')", s.timeout.Seconds()).
		Exec(ctx)

	if err != nil {
		return false, err
	}

	count, err := out.RowsAffected()
	if err != nil {
		return false, err
	}

	return count == 1, nil
}

// Release implements the [Store] interface.
func (s *BunStore) Release(ctx context.Context, key, holder string) (bool, error) {
	if err := validate(key, holder); err != nil {
		return false, err
	}

	out, err := s.db.NewDelete().
		Model((*Lock)(nil)).
		Where("resource_key = ?", key).
		Where("holder = ?", holder).
		Exec(ctx)

	if err != nil {
		return false, err
	}

	count, err := out.RowsAffected()
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// ClearExpired implements the [Store] interface.
func (s *BunStore) ClearExpired(ctx context.Context) (int64, error) {
	out, err := s.db.NewDelete().
		Model((*Lock)(nil)).
		Where("acquired_at <= NOW() - (? * INTERVAL '1 second')", s.timeout.Seconds()).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	return out.RowsAffected()
}

// ClearNode implements the [Store] interface.
func (s *BunStore) ClearNode(ctx context.Context, node string) (int64, error) {
	if node == "" {
		return 0, ErrEmptyHolder
	}

	out, err := s.db.NewDelete().
		Model((*Lock)(nil)).
		Where("holder LIKE ?", likePrefix(HolderPrefix(node))).
		Where("holder ~ ?", holderPattern(node)).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	return out.RowsAffected()
}

// List implements the [Store] interface.
func (s *BunStore) List(ctx context.Context, node string) ([]Lock, error) {
	items := make([]Lock, 0)
	query := s.db.NewSelect().
		Model(&items).
		Order("resource_key ASC")

	if node != "" {
		query = query.
			Where("holder LIKE ?", likePrefix(HolderPrefix(node))).
			Where("holder ~ ?", holderPattern(node))
	}

	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	return items, nil
}
