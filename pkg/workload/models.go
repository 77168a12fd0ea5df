// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

const (
	// StatusReady is the status of a work item, which may be claimed.
	StatusReady = "READY"

	// StatusLocked is the status of a work item, which has been claimed by
	// a node.
	StatusLocked = "LOCKED"
)

// Type represents a type of work items, e.g. analysis requests produced by
// hunts.
type Type struct {
	bun.BaseModel `bun:"table:incoming_workload_type"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

// Group represents a pool of interchangeable nodes, which pull work items.
type Group struct {
	bun.BaseModel `bun:"table:work_distribution_groups"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

// Item represents a unit of pending work.
type Item struct {
	bun.BaseModel `bun:"table:incoming_workload"`

	ID        int64           `bun:"id,pk,autoincrement"`
	TypeID    int64           `bun:"type_id,notnull"`
	Mode      string          `bun:"mode,notnull"`
	Work      json.RawMessage `bun:"work,type:jsonb,notnull"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Distribution represents the lease of a work item within a group.
type Distribution struct {
	bun.BaseModel `bun:"table:work_distribution"`

	GroupID  int64      `bun:"group_id,pk"`
	WorkID   int64      `bun:"work_id,pk"`
	Status   string     `bun:"status,notnull"`
	LockUUID *string    `bun:"lock_uuid"`
	LockTime *time.Time `bun:"lock_time"`
}

// Priority represents the fetch priority of an analysis mode. Work items of
// modes with higher priority are claimed first. Modes without priority have
// priority 0.
type Priority struct {
	bun.BaseModel `bun:"table:analysis_mode_priority"`

	AnalysisMode string `bun:"analysis_mode,pk"`
	Priority     int    `bun:"priority,notnull"`
}

// Entry is a work item with its lease state within a group.
type Entry struct {
	WorkID   int64      `bun:"work_id"`
	Type     string     `bun:"type"`
	Mode     string     `bun:"mode"`
	Group    string     `bun:"group_name"`
	Status   string     `bun:"status"`
	LockUUID *string    `bun:"lock_uuid"`
	LockTime *time.Time `bun:"lock_time"`
	Priority int        `bun:"priority"`
}

// Count is the number of work items per type, mode, group and status.
type Count struct {
	Type   string `bun:"type"`
	Mode   string `bun:"mode"`
	Group  string `bun:"group_name"`
	Status string `bun:"status"`
	Count  int64  `bun:"count"`
}
