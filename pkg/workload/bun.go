// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BunStore is a [Store] backed by the incoming_workload, work_distribution,
// work_distribution_groups, incoming_workload_type and
// analysis_mode_priority tables.
type BunStore struct {
	db *bun.DB
}

var _ Store = &BunStore{}

// NewBunStore creates a new [BunStore].
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

// EnsureType implements the [Store] interface.
func (s *BunStore) EnsureType(ctx context.Context, name string) (int64, error) {
	item := &Type{Name: name}
	_, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (name) DO UPDATE").
		Set("name = EXCLUDED.name").
		Returning("id").
		Exec(ctx)

	return item.ID, err
}

// EnsureGroup implements the [Store] interface.
func (s *BunStore) EnsureGroup(ctx context.Context, name string) (int64, error) {
	item := &Group{Name: name}
	_, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (name) DO UPDATE").
		Set("name = EXCLUDED.name").
		Returning("id").
		Exec(ctx)

	return item.ID, err
}

// Insert implements the [Store] interface.
func (s *BunStore) Insert(ctx context.Context, typeID int64, mode string, work []byte, groupIDs []int64) (*Item, error) {
	if len(groupIDs) == 0 {
		return nil, ErrNoGroups
	}

	item := &Item{
		TypeID: typeID,
		Mode:   mode,
		Work:   work,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(item).
			Returning("id, created_at").
			Exec(ctx)
		if err != nil {
			return err
		}

		leases := make([]Distribution, 0, len(groupIDs))
		for _, groupID := range groupIDs {
			leases = append(leases, Distribution{
				GroupID: groupID,
				WorkID:  item.ID,
				Status:  StatusReady,
			})
		}

		_, err = tx.NewInsert().Model(&leases).Exec(ctx)

		return err
	})

	if err != nil {
		return nil, err
	}

	return item, nil
}

// Claim implements the [Store] interface.
//
// The candidate items are selected with FOR UPDATE SKIP LOCKED in a
// sub-query of the UPDATE statement, so that concurrent claims of other
// nodes never select the same items.
func (s *BunStore) Claim(ctx context.Context, req ClaimRequest) (Lease, error) {
	if req.BatchSize < 1 {
		return Lease{}, fmt.Errorf("%w: %d", ErrInvalidBatchSize, req.BatchSize)
	}

	lease := Lease{UUID: uuid.NewString()}
	if req.Filter.Empty() {
		return lease, nil
	}

	candidates := s.db.NewSelect().
		TableExpr("work_distribution AS d").
		Column("d.work_id").
		Join("JOIN incoming_workload AS i ON i.id = d.work_id").
		Join("LEFT JOIN analysis_mode_priority AS p ON p.analysis_mode = i.mode").
		Where("i.type_id = ?", req.TypeID).
		Where("d.group_id = ?", req.GroupID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("d.status = ?", StatusReady).
				WhereOr("d.status = ? AND d.lock_time <= NOW() - (? * INTERVAL '1 second')", StatusLocked, req.LeaseTimeout.Seconds())
		}).
		OrderExpr("COALESCE(p.priority, 0) DESC, i.id ASC").
		Limit(req.BatchSize).
		For("UPDATE OF d SKIP LOCKED")

	if !req.Filter.Any {
		candidates = candidates.Where("i.mode IN (?)", bun.In(req.Filter.Include))
	}

	if len(req.Filter.Exclude) > 0 {
		candidates = candidates.Where("i.mode NOT IN (?)", bun.In(req.Filter.Exclude))
	}

	out, err := s.db.NewUpdate().
		Model((*Distribution)(nil)).
		Set("status = ?", StatusLocked).
		Set("lock_time = NOW()").
		Set("lock_uuid = ?", lease.UUID).
		Where("group_id = ?", req.GroupID).
		Where("work_id IN (?)", candidates).
		Exec(ctx)

	if err != nil {
		return Lease{}, err
	}

	lease.Claimed, err = out.RowsAffected()

	return lease, err
}

// Fetch implements the [Store] interface.
func (s *BunStore) Fetch(ctx context.Context, groupID int64, leaseUUID string) ([]Item, error) {
	items := make([]Item, 0)
	err := s.db.NewSelect().
		Model(&items).
		Join("JOIN work_distribution AS d ON d.work_id = item.id").
		Join("LEFT JOIN analysis_mode_priority AS p ON p.analysis_mode = item.mode").
		Where("d.group_id = ?", groupID).
		Where("d.lock_uuid = ?", leaseUUID).
		Where("d.status = ?", StatusLocked).
		OrderExpr("COALESCE(p.priority, 0) DESC, item.id ASC").
		Scan(ctx)

	return items, err
}

// Complete implements the [Store] interface.
func (s *BunStore) Complete(ctx context.Context, groupID, workID int64) error {
	_, err := s.db.NewDelete().
		Model((*Distribution)(nil)).
		Where("group_id = ?", groupID).
		Where("work_id = ?", workID).
		Exec(ctx)
	if err != nil {
		return err
	}

	_, err = s.db.NewDelete().
		Model((*Item)(nil)).
		Where("id = ?", workID).
		Where("NOT EXISTS (SELECT 1 FROM work_distribution AS d WHERE d.work_id = ?)", workID).
		Exec(ctx)

	return err
}

// Release implements the [Store] interface.
func (s *BunStore) Release(ctx context.Context, groupID, workID int64, leaseUUID string) error {
	_, err := s.db.NewUpdate().
		Model((*Distribution)(nil)).
		Set("status = ?", StatusReady).
		Set("lock_uuid = NULL").
		Set("lock_time = NULL").
		Where("group_id = ?", groupID).
		Where("work_id = ?", workID).
		Where("lock_uuid = ?", leaseUUID).
		Exec(ctx)

	return err
}

// SetPriority implements the [Store] interface.
func (s *BunStore) SetPriority(ctx context.Context, mode string, priority int) error {
	item := &Priority{AnalysisMode: mode, Priority: priority}
	_, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (analysis_mode) DO UPDATE").
		Set("priority = EXCLUDED.priority").
		Exec(ctx)

	return err
}

// Priorities implements the [Store] interface.
func (s *BunStore) Priorities(ctx context.Context) ([]Priority, error) {
	items := make([]Priority, 0)
	err := s.db.NewSelect().
		Model(&items).
		Order("priority DESC", "analysis_mode ASC").
		Scan(ctx)

	return items, err
}

// List implements the [Store] interface.
func (s *BunStore) List(ctx context.Context) ([]Entry, error) {
	items := make([]Entry, 0)
	err := s.db.NewSelect().
		TableExpr("work_distribution AS d").
		Join("JOIN incoming_workload AS i ON i.id = d.work_id").
		Join("JOIN incoming_workload_type AS t ON t.id = i.type_id").
		Join("JOIN work_distribution_groups AS g ON g.id = d.group_id").
		Join("LEFT JOIN analysis_mode_priority AS p ON p.analysis_mode = i.mode").
		ColumnExpr("d.work_id, t.name AS type, i.mode, g.name AS group_name").
		ColumnExpr("d.status, d.lock_uuid, d.lock_time").
		ColumnExpr("COALESCE(p.priority, 0) AS priority").
		OrderExpr("g.name ASC, COALESCE(p.priority, 0) DESC, i.id ASC").
		Scan(ctx, &items)

	return items, err
}

// Counts implements the [Store] interface.
func (s *BunStore) Counts(ctx context.Context) ([]Count, error) {
	items := make([]Count, 0)
	err := s.db.NewSelect().
		TableExpr("work_distribution AS d").
		Join("JOIN incoming_workload AS i ON i.id = d.work_id").
		Join("JOIN incoming_workload_type AS t ON t.id = i.type_id").
		Join("JOIN work_distribution_groups AS g ON g.id = d.group_id").
		ColumnExpr("t.name AS type, i.mode, g.name AS group_name, d.status").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("t.name, i.mode, g.name, d.status").
		OrderExpr("t.name, i.mode, g.name, d.status").
		Scan(ctx, &items)

	return items, err
}

// DeleteOrphans implements the [Store] interface.
func (s *BunStore) DeleteOrphans(ctx context.Context) (int64, error) {
	out, err := s.db.NewDelete().
		Model((*Item)(nil)).
		Where("NOT EXISTS (SELECT 1 FROM work_distribution AS d WHERE d.work_id = item.id)").
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	return out.RowsAffected()
}
