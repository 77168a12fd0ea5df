// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package locks

import (
	"time"

	"github.com/uptrace/bun"
)

// Lock represents a named mutual-exclusion token.
type Lock struct {
	bun.BaseModel `bun:"table:locks"`

	ResourceKey string    `bun:"resource_key,pk"`
	Holder      string    `bun:"holder,notnull"`
	AcquiredAt  time.Time `bun:"acquired_at,notnull"`
}

// Expired returns true, if the lock is at least timeout old at the given
// time.
func (l *Lock) Expired(now time.Time, timeout time.Duration) bool {
	return !now.Before(l.AcquiredAt.Add(timeout))
}
