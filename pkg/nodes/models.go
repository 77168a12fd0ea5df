// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/uptrace/bun"
)

// Node represents a worker process of the cluster.
type Node struct {
	bun.BaseModel `bun:"table:nodes"`

	ID            int64               `bun:"id,pk,autoincrement"`
	Name          string              `bun:"name,notnull,unique"`
	Location      string              `bun:"location,notnull"`
	CompanyID     int64               `bun:"company_id,notnull"`
	AnyMode       bool                `bun:"any_mode,notnull"`
	IsPrimary     bool                `bun:"is_primary,notnull"`
	LastUpdate    time.Time           `bun:"last_update,notnull"`
	CreatedAt     time.Time           `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	Modes         []*NodeMode         `bun:"rel:has-many,join:id=node_id"`
	ExcludedModes []*NodeModeExcluded `bun:"rel:has-many,join:id=node_id"`
	WorkloadCount int64               `bun:"workload_count,scanonly"`
}

// IncludedModes returns the sorted analysis modes explicitly accepted by the
// node.
func (n *Node) IncludedModes() []string {
	result := make([]string, 0, len(n.Modes))
	for _, m := range n.Modes {
		result = append(result, m.AnalysisMode)
	}
	slices.Sort(result)

	return result
}

// ExcludedAnalysisModes returns the sorted analysis modes refused by the node.
func (n *Node) ExcludedAnalysisModes() []string {
	result := make([]string, 0, len(n.ExcludedModes))
	for _, m := range n.ExcludedModes {
		result = append(result, m.AnalysisMode)
	}
	slices.Sort(result)

	return result
}

// Accepts returns true, if the node accepts work of the given analysis mode.
func (n *Node) Accepts(mode string) bool {
	if slices.Contains(n.ExcludedAnalysisModes(), mode) {
		return false
	}

	if n.AnyMode {
		return true
	}

	return slices.Contains(n.IncludedModes(), mode)
}

// NodeMode represents an analysis mode explicitly accepted by a node.
type NodeMode struct {
	bun.BaseModel `bun:"table:node_modes"`

	NodeID       int64  `bun:"node_id,pk"`
	AnalysisMode string `bun:"analysis_mode,pk"`
}

// NodeModeExcluded represents an analysis mode refused by a node.
type NodeModeExcluded struct {
	bun.BaseModel `bun:"table:node_modes_excluded"`

	NodeID       int64  `bun:"node_id,pk"`
	AnalysisMode string `bun:"analysis_mode,pk"`
}

// Workload represents an analysis request assigned to a node. The number of
// workload items of a node is the load balancing signal used when selecting
// nodes.
type Workload struct {
	bun.BaseModel `bun:"table:workload"`

	ID           int64           `bun:"id,pk,autoincrement"`
	UUID         string          `bun:"uuid,notnull,unique"`
	NodeID       int64           `bun:"node_id,notnull"`
	AnalysisMode string          `bun:"analysis_mode,notnull"`
	Payload      json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt    time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// WorkloadCount is the number of workload items per node and analysis mode.
type WorkloadCount struct {
	NodeName     string `bun:"node_name"`
	AnalysisMode string `bun:"analysis_mode"`
	Count        int64  `bun:"count"`
}
