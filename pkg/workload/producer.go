// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ace-ecosystem/ace/pkg/core/models"
)

// Producer inserts submissions into the work table for a fixed work item
// type and set of distribution groups.
type Producer struct {
	store    Store
	typeID   int64
	groupIDs []int64
}

// NewProducer creates a new [Producer] for the work item type and groups
// with the given names. The type and groups are created if necessary.
func NewProducer(ctx context.Context, store Store, typeName string, groups []string) (*Producer, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}

	typeID, err := store.EnsureType(ctx, typeName)
	if err != nil {
		return nil, err
	}

	groupIDs := make([]int64, 0, len(groups))
	for _, name := range groups {
		groupID, err := store.EnsureGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		groupIDs = append(groupIDs, groupID)
	}

	p := &Producer{
		store:    store,
		typeID:   typeID,
		groupIDs: groupIDs,
	}

	return p, nil
}

// Submit validates the submission and inserts it as a work item tagged with
// the analysis mode of the submission.
func (p *Producer) Submit(ctx context.Context, submission models.Submission) (*Item, error) {
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	if submission.UUID == "" {
		submission.UUID = uuid.NewString()
	}

	data, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("cannot encode submission %s: %w", submission.UUID, err)
	}

	return p.store.Insert(ctx, p.typeID, submission.AnalysisMode, data, p.groupIDs)
}
