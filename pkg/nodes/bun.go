// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// BunStore is a [Store] backed by the nodes, node_modes,
// node_modes_excluded and workload tables.
type BunStore struct {
	db *bun.DB
}

var _ Store = &BunStore{}

// NewBunStore creates a new [BunStore].
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

// Initialize implements the [Store] interface.
func (s *BunStore) Initialize(ctx context.Context, id Identity) (*Node, error) {
	if id.Name == "" {
		return nil, ErrNoNodeName
	}

	node := &Node{
		Name:      id.Name,
		Location:  id.Location,
		CompanyID: id.CompanyID,
	}

	_, err := s.db.NewInsert().
		Model(node).
		Value("last_update", "NOW()").
		On("CONFLICT (name) DO UPDATE").
		Set("location = EXCLUDED.location").
		Set("company_id = EXCLUDED.company_id").
		Returning("id").
		Exec(ctx)

	if err != nil {
		return nil, err
	}

	if node.ID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoNodeID, id.Name)
	}

	return s.GetNode(ctx, id.Name)
}

// AssignAnalysisModes implements the [Store] interface.
func (s *BunStore) AssignAnalysisModes(ctx context.Context, nodeID int64, modes, excluded []string) error {
	modes = normalizeModes(modes)
	excluded = normalizeModes(excluded)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*NodeMode)(nil)).
			Where("node_id = ?", nodeID).
			Exec(ctx)
		if err != nil {
			return err
		}

		if len(modes) > 0 {
			items := make([]NodeMode, 0, len(modes))
			for _, m := range modes {
				items = append(items, NodeMode{NodeID: nodeID, AnalysisMode: m})
			}
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}

		_, err = tx.NewDelete().
			Model((*NodeModeExcluded)(nil)).
			Where("node_id = ?", nodeID).
			Exec(ctx)
		if err != nil {
			return err
		}

		if len(excluded) > 0 {
			items := make([]NodeModeExcluded, 0, len(excluded))
			for _, m := range excluded {
				items = append(items, NodeModeExcluded{NodeID: nodeID, AnalysisMode: m})
			}
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}

		_, err = tx.NewUpdate().
			Model((*Node)(nil)).
			Set("any_mode = ?", len(modes) == 0).
			Where("id = ?", nodeID).
			Exec(ctx)

		return err
	})
}

// GetAvailableNodes implements the [Store] interface.
//
// Nodes accepting any mode qualify unless they exclude all of the requested
// modes.
func (s *BunStore) GetAvailableNodes(ctx context.Context, companyID int64, modes []string) ([]Node, error) {
	modes = normalizeModes(modes)
	items := make([]Node, 0)
	query := s.db.NewSelect().
		Model(&items).
		ColumnExpr("node.*").
		ColumnExpr("COUNT(w.id) AS workload_count").
		Join("LEFT JOIN workload AS w ON w.node_id = node.id").
		Relation("Modes").
		Relation("ExcludedModes").
		Where("node.company_id = ?", companyID).
		Group("node.id").
		OrderExpr("workload_count ASC, node.last_update ASC, node.id ASC")

	if len(modes) > 0 {
		query = query.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("node.any_mode AND (SELECT COUNT(*) FROM node_modes_excluded AS e WHERE e.node_id = node.id AND e.analysis_mode IN (?)) < ?", bun.In(modes), len(modes)).
				WhereOr("EXISTS (SELECT 1 FROM node_modes AS m WHERE m.node_id = node.id AND m.analysis_mode IN (?))", bun.In(modes))
		})
	}

	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	return items, nil
}

// UpdateStatus implements the [Store] interface.
func (s *BunStore) UpdateStatus(ctx context.Context, nodeID int64, location string) error {
	out, err := s.db.NewUpdate().
		Model((*Node)(nil)).
		Set("last_update = NOW()").
		Set("location = ?", location).
		Where("id = ?", nodeID).
		Exec(ctx)

	return checkAffected(out, err, nodeID)
}

// SetPrimary implements the [Store] interface.
func (s *BunStore) SetPrimary(ctx context.Context, nodeID int64, primary bool) error {
	out, err := s.db.NewUpdate().
		Model((*Node)(nil)).
		Set("is_primary = ?", primary).
		Where("id = ?", nodeID).
		Exec(ctx)

	return checkAffected(out, err, nodeID)
}

// GetNode implements the [Store] interface.
func (s *BunStore) GetNode(ctx context.Context, name string) (*Node, error) {
	node := &Node{}
	err := s.db.NewSelect().
		Model(node).
		Relation("Modes").
		Relation("ExcludedModes").
		Where("node.name = ?", name).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	case err != nil:
		return nil, err
	}

	return node, nil
}

// ListNodes implements the [Store] interface.
func (s *BunStore) ListNodes(ctx context.Context) ([]Node, error) {
	items := make([]Node, 0)
	err := s.db.NewSelect().
		Model(&items).
		Relation("Modes").
		Relation("ExcludedModes").
		Order("node.name ASC").
		Scan(ctx)

	return items, err
}

// InsertWorkload implements the [Store] interface.
func (s *BunStore) InsertWorkload(ctx context.Context, item *Workload) error {
	_, err := s.db.NewInsert().
		Model(item).
		Returning("id").
		Exec(ctx)

	return err
}

// DeleteWorkload implements the [Store] interface.
func (s *BunStore) DeleteWorkload(ctx context.Context, uuid string) (bool, error) {
	out, err := s.db.NewDelete().
		Model((*Workload)(nil)).
		Where("uuid = ?", uuid).
		Exec(ctx)

	if err != nil {
		return false, err
	}

	count, err := out.RowsAffected()

	return count > 0, err
}

// CountWorkload implements the [Store] interface.
func (s *BunStore) CountWorkload(ctx context.Context) ([]WorkloadCount, error) {
	items := make([]WorkloadCount, 0)
	err := s.db.NewSelect().
		TableExpr("workload AS w").
		Join("JOIN nodes AS n ON n.id = w.node_id").
		ColumnExpr("n.name AS node_name").
		ColumnExpr("w.analysis_mode").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("n.name, w.analysis_mode").
		OrderExpr("n.name ASC, w.analysis_mode ASC").
		Scan(ctx, &items)

	return items, err
}

// checkAffected returns [ErrNodeNotFound] when no row has been modified.
func checkAffected(out sql.Result, err error, nodeID int64) error {
	if err != nil {
		return err
	}

	count, err := out.RowsAffected()
	if err != nil {
		return err
	}

	if count == 0 {
		return fmt.Errorf("%w: id %d", ErrNodeNotFound, nodeID)
	}

	return nil
}
