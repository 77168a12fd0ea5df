// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package nodes provides the registry of the cluster nodes, the analysis
// modes routed to them and the primary node maintenance duties.
package nodes

import (
	"context"
	"errors"
	"slices"
)

// ErrNoNodeID is returned when the store does not return an id for the
// current node. A node cannot operate without an id.
var ErrNoNodeID = errors.New("no node id allocated")

// ErrNodeNotFound is returned when a node does not exist.
var ErrNodeNotFound = errors.New("node not found")

// ErrNoNodeName is returned when initializing a node without a name.
var ErrNoNodeName = errors.New("no node name specified")

// Identity identifies the current node.
type Identity struct {
	Name      string
	Location  string
	CompanyID int64
}

// Store is the interface implemented by node stores.
type Store interface {
	// Initialize looks up the node with the name of the identity, or
	// creates it if it does not exist yet.
	Initialize(ctx context.Context, id Identity) (*Node, error)

	// AssignAnalysisModes replaces the included and excluded analysis
	// modes of the node. The node accepts any mode, when modes is empty.
	AssignAnalysisModes(ctx context.Context, nodeID int64, modes, excluded []string) error

	// GetAvailableNodes returns the nodes of the company, which accept any
	// mode or explicitly include one of the given modes. Nodes are ordered
	// by their number of workload items, then by last update.
	GetAvailableNodes(ctx context.Context, companyID int64, modes []string) ([]Node, error)

	// UpdateStatus records the heartbeat of the node.
	UpdateStatus(ctx context.Context, nodeID int64, location string) error

	// SetPrimary sets the primary flag of the node.
	SetPrimary(ctx context.Context, nodeID int64, primary bool) error

	// GetNode returns the node with the given name, including its modes.
	GetNode(ctx context.Context, name string) (*Node, error)

	// ListNodes returns all nodes including their modes, ordered by name.
	ListNodes(ctx context.Context) ([]Node, error)

	// InsertWorkload assigns a workload item to a node.
	InsertWorkload(ctx context.Context, item *Workload) error

	// DeleteWorkload removes a workload item. It returns true, if the item
	// existed.
	DeleteWorkload(ctx context.Context, uuid string) (bool, error)

	// CountWorkload returns the number of workload items per node and
	// analysis mode.
	CountWorkload(ctx context.Context) ([]WorkloadCount, error)
}

// normalizeModes returns the sorted unique non-empty modes.
func normalizeModes(modes []string) []string {
	result := make([]string, 0, len(modes))
	for _, m := range modes {
		if m != "" {
			result = append(result, m)
		}
	}
	slices.Sort(result)

	return slices.Compact(result)
}
