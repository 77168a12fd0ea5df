// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/set"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	"github.com/ace-ecosystem/ace/pkg/nodes"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

// ErrNoGroups is returned when no distribution group is enabled.
var ErrNoGroups = errors.New("no distribution group enabled")

// RemoteNodeGroup is a pool of interchangeable nodes of a company, which
// pull work of a single type from one distribution group.
type RemoteNodeGroup struct {
	conf      config.DistributionGroupConfig
	companyID int64
	work      workload.Store
	nodes     nodes.Store
	router    *Router
	logger    *slog.Logger
	clock     clock.PassiveClock

	typeID  int64
	groupID int64
	targets set.Set[string]
}

// NewRemoteNodeGroup creates a new [RemoteNodeGroup]. The work item type and
// the distribution group are created if necessary.
func NewRemoteNodeGroup(
	ctx context.Context,
	conf config.DistributionGroupConfig,
	companyID int64,
	workloadType string,
	work workload.Store,
	nodeStore nodes.Store,
	router *Router,
	logger *slog.Logger,
) (*RemoteNodeGroup, error) {
	typeID, err := work.EnsureType(ctx, workloadType)
	if err != nil {
		return nil, err
	}

	groupID, err := work.EnsureGroup(ctx, conf.Name)
	if err != nil {
		return nil, err
	}

	targets := set.New[string]()
	for _, name := range conf.TargetNodes {
		if name == LocalTarget {
			name = router.LocalName()
		}
		targets.Insert(name)
	}

	g := &RemoteNodeGroup{
		conf:      conf,
		companyID: companyID,
		work:      work,
		nodes:     nodeStore,
		router:    router,
		logger:    logger.With("group", conf.Name),
		clock:     clock.RealClock{},
		typeID:    typeID,
		groupID:   groupID,
		targets:   targets,
	}

	return g, nil
}

// Name returns the name of the group.
func (g *RemoteNodeGroup) Name() string {
	return g.conf.Name
}

// AvailableNodes returns the target nodes of the group, least loaded first.
// Remote nodes without a heartbeat within the node timeout are left out.
func (g *RemoteNodeGroup) AvailableNodes(ctx context.Context) ([]*RemoteNode, error) {
	items, err := g.nodes.GetAvailableNodes(ctx, g.companyID, nil)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	result := make([]*RemoteNode, 0, len(items))
	for _, item := range items {
		if g.targets.Len() > 0 && !g.targets.Has(item.Name) {
			continue
		}

		node := g.router.Node(item)
		if !node.IsLocal() && g.conf.NodeTimeout > 0 && now.Sub(item.LastUpdate) > g.conf.NodeTimeout {
			g.logger.Debug("skipping stale node", "node", item.Name, "last_update", item.LastUpdate)

			continue
		}
		result = append(result, node)
	}

	return result, nil
}

// Cycle claims a batch of work for the least loaded node, which has work
// available for its analysis modes, and submits the batch to that node. When
// the submission fails, the rest of the batch is released and the next node
// is tried. It returns the number of claimed items.
func (g *RemoteNodeGroup) Cycle(ctx context.Context) (int, error) {
	available, err := g.AvailableNodes(ctx)
	if err != nil {
		return 0, err
	}

	if len(available) == 0 {
		g.logger.Debug("no nodes available")

		return 0, nil
	}

	var (
		claimed int
		errs    error
	)
	for _, node := range available {
		filter := node.Filter()
		if filter.Empty() {
			continue
		}

		lease, err := g.work.Claim(ctx, workload.ClaimRequest{
			TypeID:       g.typeID,
			GroupID:      g.groupID,
			Filter:       filter,
			BatchSize:    g.conf.BatchSize,
			LeaseTimeout: g.conf.LeaseTimeout,
		})
		if err != nil {
			return claimed, errors.Join(errs, err)
		}

		if lease.Claimed == 0 {
			continue
		}
		metrics.WorkClaimedTotal.WithLabelValues(g.conf.Name).Add(float64(lease.Claimed))

		items, err := g.work.Fetch(ctx, g.groupID, lease.UUID)
		if err != nil {
			return claimed, errors.Join(errs, err)
		}

		g.logger.Info("claimed work", "node", node.Name, "lease", lease.UUID, "count", len(items))
		claimed += len(items)
		if err := g.submit(ctx, node, lease.UUID, items); err != nil {
			g.logger.Error("submission failed, trying next node", "node", node.Name, "reason", err)
			errs = errors.Join(errs, err)

			continue
		}

		return len(items), nil
	}

	return claimed, errs
}

// submit submits the claimed items to the node. Once a submission fails,
// the failed and remaining items are released for the next cycle.
func (g *RemoteNodeGroup) submit(ctx context.Context, node *RemoteNode, leaseUUID string, items []workload.Item) error {
	for i, item := range items {
		var submission models.Submission
		if err := json.Unmarshal(item.Work, &submission); err != nil {
			// Never deliverable
			g.logger.Error("discarding invalid work item", "work_id", item.ID, "reason", err)
			metrics.WorkSubmittedTotal.WithLabelValues(g.conf.Name, node.Name, "invalid").Inc()
			if err := g.work.Complete(ctx, g.groupID, item.ID); err != nil {
				return err
			}

			continue
		}

		id, err := node.Submit(ctx, submission)
		if err != nil {
			metrics.WorkSubmittedTotal.WithLabelValues(g.conf.Name, node.Name, "failed").Inc()
			submitErr := fmt.Errorf("cannot submit work item %d to node %s: %w", item.ID, node.Name, err)

			return errors.Join(submitErr, g.release(context.WithoutCancel(ctx), leaseUUID, items[i:]))
		}

		metrics.WorkSubmittedTotal.WithLabelValues(g.conf.Name, node.Name, "success").Inc()
		g.logger.Debug(
			"submitted work",
			"work_id", item.ID,
			"node", node.Name,
			"local", node.IsLocal(),
			"id", id,
		)

		if err := g.work.Complete(ctx, g.groupID, item.ID); err != nil {
			return err
		}
	}

	return nil
}

func (g *RemoteNodeGroup) release(ctx context.Context, leaseUUID string, items []workload.Item) error {
	var errs error
	for _, item := range items {
		if err := g.work.Release(ctx, g.groupID, item.ID, leaseUUID); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	return errs
}

// Run performs claim cycles until the context is done. A cycle which
// claimed a full batch is followed by the next cycle immediately, otherwise
// the group waits for the poll interval. Failed cycles are logged and
// retried on the next cycle.
func (g *RemoteNodeGroup) Run(ctx context.Context) {
	interval := g.conf.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	g.logger.Info("starting distribution group", "poll_interval", interval, "batch_size", g.conf.BatchSize)
	for {
		claimed, err := g.Cycle(ctx)
		if err != nil {
			g.logger.Error("distribution cycle failed", "reason", err)
		}

		if err == nil && claimed >= g.conf.BatchSize {
			if ctx.Err() != nil {
				return
			}

			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Distributor runs the enabled distribution groups of a node.
type Distributor struct {
	groups []*RemoteNodeGroup
}

// New creates a new [Distributor] for the enabled groups of the
// configuration.
func New(
	ctx context.Context,
	conf config.DistributorConfig,
	companyID int64,
	work workload.Store,
	nodeStore nodes.Store,
	router *Router,
	logger *slog.Logger,
) (*Distributor, error) {
	groups := make([]*RemoteNodeGroup, 0, len(conf.Groups))
	for _, groupConf := range conf.Groups {
		if !groupConf.Enabled {
			continue
		}

		group, err := NewRemoteNodeGroup(ctx, groupConf, companyID, conf.WorkloadType, work, nodeStore, router, logger)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	if len(groups) == 0 {
		return nil, ErrNoGroups
	}

	return &Distributor{groups: groups}, nil
}

// Groups returns the enabled groups.
func (d *Distributor) Groups() []*RemoteNodeGroup {
	return d.groups
}

// Run runs all groups until the context is done.
func (d *Distributor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, group := range d.groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			group.Run(ctx)
		}()
	}
	wg.Wait()
}
