// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package distributor pulls work items from the shared work table and hands
// them to the nodes of the cluster. Work for the current node is passed to
// the local engine, work for other nodes is submitted through their API.
package distributor

import (
	"context"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/nodes"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

// LocalTarget is the special target node name, which refers to the current
// node.
const LocalTarget = "LOCAL"

// Engine accepts work for the current node. It is implemented by
// [engine.Engine].
type Engine interface {
	Submit(ctx context.Context, submission models.Submission) (string, error)
}

// RemoteSubmitter submits work to the node at the given location. It is
// implemented by [api.Client].
type RemoteSubmitter interface {
	Submit(ctx context.Context, location string, submission models.Submission) (string, error)
}

// Translator rewrites node locations. It is implemented by [nodes.Manager].
type Translator interface {
	Translate(location string) string
}

// Router creates [RemoteNode] items, which route submissions either to the
// local engine or to a remote node.
type Router struct {
	localName  string
	engine     Engine
	client     RemoteSubmitter
	translator Translator
}

// NewRouter creates a new [Router] for the node with the given name.
func NewRouter(localName string, engine Engine, client RemoteSubmitter, translator Translator) *Router {
	r := &Router{
		localName:  localName,
		engine:     engine,
		client:     client,
		translator: translator,
	}

	return r
}

// LocalName returns the name of the current node.
func (r *Router) LocalName() string {
	return r.localName
}

// Node returns a [RemoteNode] for the given node.
func (r *Router) Node(node nodes.Node) *RemoteNode {
	return &RemoteNode{Node: node, router: r}
}

// RemoteNode is a node of the cluster, to which work can be submitted.
type RemoteNode struct {
	nodes.Node

	router *Router
}

// IsLocal returns true, if the node is the current node. Routing depends on
// the node name only.
func (n *RemoteNode) IsLocal() bool {
	return n.Name == n.router.localName
}

// Filter returns the [workload.ModeFilter] of the analysis modes accepted
// by the node.
func (n *RemoteNode) Filter() workload.ModeFilter {
	filter := workload.ModeFilter{
		Any:     n.AnyMode,
		Exclude: n.ExcludedAnalysisModes(),
	}
	if !n.AnyMode {
		filter.Include = n.IncludedModes()
	}

	return filter
}

// Submit submits the work to the node and returns the id of the new
// workload item.
func (n *RemoteNode) Submit(ctx context.Context, submission models.Submission) (string, error) {
	if n.IsLocal() {
		return n.router.engine.Submit(ctx, submission)
	}

	location := n.Location
	if n.router.translator != nil {
		location = n.router.translator.Translate(location)
	}

	return n.router.client.Submit(ctx, location, submission)
}
