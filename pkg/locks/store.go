// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package locks provides named locks kept in a shared store, which allow any
// node of the cluster to serialize access to a named resource.
//
// A lock is held by a holder id. Acquiring a lock succeeds when the lock is
// free, when it is already held by the same holder, or when it has been held
// for longer than the configured timeout, in which case it is reassigned to
// the new holder.
package locks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyKey is returned when acquiring or releasing a lock without a
// resource key.
var ErrEmptyKey = errors.New("empty lock resource key")

// ErrEmptyHolder is returned when acquiring or releasing a lock without a
// holder id.
var ErrEmptyHolder = errors.New("empty lock holder")

// Store is the interface implemented by lock stores.
type Store interface {
	// Acquire attempts to acquire the lock for key on behalf of holder.
	// It returns true if the lock is now held by holder.
	Acquire(ctx context.Context, key, holder string) (bool, error)

	// Release releases the lock for key, if it is held by holder. It
	// returns true if a lock was removed.
	Release(ctx context.Context, key, holder string) (bool, error)

	// ClearExpired removes all locks, which are older than the timeout.
	ClearExpired(ctx context.Context) (int64, error)

	// ClearNode removes all locks, whose holder id was created by
	// [NewHolderID] for the given node.
	ClearNode(ctx context.Context, node string) (int64, error)

	// List returns the locks owned by the given node, ordered by resource
	// key. All locks are returned for an empty node name.
	List(ctx context.Context, node string) ([]Lock, error)
}

// HolderPrefix returns the prefix of holder ids created by [NewHolderID] for
// the given node name.
func HolderPrefix(node string) string {
	return node + "-"
}

// NewHolderID returns a new unique holder id owned by the given node. Locks
// acquired with holder ids of a node are removed when the node restarts.
func NewHolderID(node string) string {
	return HolderPrefix(node) + uuid.NewString()
}

// HolderNode returns the name of the node, which owns a holder id created by
// [NewHolderID]. It returns an empty string for other holder ids.
func HolderNode(holder string) string {
	idx := len(holder) - len(uuid.Nil.String()) - 1
	if idx < 1 || holder[idx] != '-' {
		return ""
	}

	if _, err := uuid.Parse(holder[idx+1:]); err != nil {
		return ""
	}

	return holder[:idx]
}

// validate checks the key and holder arguments.
func validate(key, holder string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if holder == "" {
		return fmt.Errorf("%w: %s", ErrEmptyHolder, key)
	}

	return nil
}

// holderPattern returns a regular expression matching exactly the holder ids
// created by [NewHolderID] for the given node.
func holderPattern(node string) string {
	return "^" + regexp.QuoteMeta(node) + "-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$"
}

// likePrefix returns a LIKE pattern matching strings with the given prefix.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(prefix) + "%"
}
