// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/uptrace/bun"

	coremodels "github.com/ace-ecosystem/ace/pkg/core/models"
)

// HousekeeperRun represents a single cleanup performed by the housekeeper.
type HousekeeperRun struct {
	bun.BaseModel `bun:"table:aux_housekeeper_run"`
	coremodels.Model

	// Name specifies the name of the cleanup, e.g. locks:expired.
	Name string `bun:"name,notnull"`

	// StartedAt specifies when the cleanup started.
	StartedAt time.Time `bun:"started_at,notnull"`

	// CompletedAt specifies when the cleanup completed.
	CompletedAt time.Time `bun:"completed_at,notnull"`

	// Count specifies the number of records removed by the cleanup.
	Count int64 `bun:"count,notnull"`
}
