// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package workload provides the shared work table and its lease based claim
// protocol.
//
// Producers insert work items tagged with an analysis mode. Each item has
// one lease per distribution group. Nodes of a group claim batches of items
// in a single statement, which selects the READY items, or the LOCKED items
// whose lease has expired, ordered by analysis mode priority and then by
// item id, and marks them LOCKED with a fresh lease id. Once an item has
// been handed off it is completed, otherwise it is released and becomes
// READY again.
package workload

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrInvalidBatchSize is returned when claiming with a batch size < 1.
var ErrInvalidBatchSize = errors.New("invalid batch size")

// ErrNoGroups is returned when inserting a work item without groups.
var ErrNoGroups = errors.New("no distribution groups specified")

// ModeFilter restricts the analysis modes of claimed items.
type ModeFilter struct {
	// Any matches all modes, except the excluded ones.
	Any bool

	// Include lists the matched modes, when Any is false.
	Include []string

	// Exclude lists modes, which are never matched.
	Exclude []string
}

// Empty returns true, if the filter cannot match any mode.
func (f ModeFilter) Empty() bool {
	return !f.Any && len(f.Include) == 0
}

// Matches returns true, if the filter matches the given mode.
func (f ModeFilter) Matches(mode string) bool {
	if slices.Contains(f.Exclude, mode) {
		return false
	}

	return f.Any || slices.Contains(f.Include, mode)
}

// ClaimRequest describes a batch of work items to claim.
type ClaimRequest struct {
	// TypeID is the id of the work item type.
	TypeID int64

	// GroupID is the id of the distribution group.
	GroupID int64

	// Filter restricts the analysis modes of the claimed items.
	Filter ModeFilter

	// BatchSize is the maximum number of items to claim.
	BatchSize int

	// LeaseTimeout is the age after which LOCKED items may be claimed
	// again.
	LeaseTimeout time.Duration
}

// Lease is the result of a claim.
type Lease struct {
	// UUID identifies the lease. The claimed items are fetched by it.
	UUID string

	// Claimed is the number of claimed items.
	Claimed int64
}

// Store is the interface implemented by work item stores.
type Store interface {
	// EnsureType returns the id of the work item type with the given
	// name, creating the type if necessary.
	EnsureType(ctx context.Context, name string) (int64, error)

	// EnsureGroup returns the id of the distribution group with the given
	// name, creating the group if necessary.
	EnsureGroup(ctx context.Context, name string) (int64, error)

	// Insert inserts a work item and one READY lease per group.
	Insert(ctx context.Context, typeID int64, mode string, work []byte, groupIDs []int64) (*Item, error)

	// Claim atomically claims a batch of items.
	Claim(ctx context.Context, req ClaimRequest) (Lease, error)

	// Fetch returns the items of a group claimed with the given lease, in
	// claim order.
	Fetch(ctx context.Context, groupID int64, leaseUUID string) ([]Item, error)

	// Complete removes the lease of a work item in the group. The item is
	// removed once it has no leases left.
	Complete(ctx context.Context, groupID, workID int64) error

	// Release makes a claimed work item READY again, if it is still
	// claimed with the given lease.
	Release(ctx context.Context, groupID, workID int64, leaseUUID string) error

	// SetPriority sets the priority of an analysis mode.
	SetPriority(ctx context.Context, mode string, priority int) error

	// Priorities returns the configured priorities, highest first.
	Priorities(ctx context.Context) ([]Priority, error)

	// List returns the leases of all work items, in claim order.
	List(ctx context.Context) ([]Entry, error)

	// Counts returns the number of work items per type, mode, group and
	// status.
	Counts(ctx context.Context) ([]Count, error)

	// DeleteOrphans removes work items without leases.
	DeleteOrphans(ctx context.Context) (int64, error)
}
