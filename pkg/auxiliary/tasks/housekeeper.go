// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ace-ecosystem/ace/pkg/auxiliary/models"
	"github.com/ace-ecosystem/ace/pkg/clients/db"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	"github.com/ace-ecosystem/ace/pkg/locks"
	"github.com/ace-ecosystem/ace/pkg/metrics"
	asynqutils "github.com/ace-ecosystem/ace/pkg/utils/asynq"
	"github.com/ace-ecosystem/ace/pkg/workload"
)

const (
	// HousekeeperTaskType is the name of the task responsible for cleaning
	// up stale records from the database.
	HousekeeperTaskType = "aux:task:housekeeper"

	// HousekeeperSpec is the default cron spec of the housekeeper.
	HousekeeperSpec = "*/5 * * * *"
)

// Names of the cleanups performed by the housekeeper.
const (
	CleanupExpiredLocks = "locks:expired"
	CleanupOrphanedWork = "workload:orphaned"
)

// HousekeeperPayload represents the payload of the housekeeper task.
type HousekeeperPayload struct {
	// LockTimeout specifies the age after which named locks are removed.
	// Defaults to [config.DefaultLockTimeout].
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
}

// Cleanup removes stale records and returns the number of removed records.
type Cleanup struct {
	Name string
	Func func(ctx context.Context) (int64, error)
}

// HandleHousekeeperTask removes expired named locks and work items, which
// are no longer distributed to any group.
func HandleHousekeeperTask(ctx context.Context, task *asynq.Task) error {
	var payload HousekeeperPayload
	if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
		return asynqutils.SkipRetry(err)
	}

	timeout := payload.LockTimeout
	if timeout <= 0 {
		timeout = config.DefaultLockTimeout
	}

	cleanups := []Cleanup{
		{Name: CleanupExpiredLocks, Func: locks.NewBunStore(db.DB, timeout).ClearExpired},
		{Name: CleanupOrphanedWork, Func: workload.NewBunStore(db.DB).DeleteOrphans},
	}

	runs, err := Housekeep(ctx, cleanups)
	if len(runs) == 0 {
		return err
	}

	_, insertErr := db.DB.NewInsert().
		Model(&runs).
		Returning("id").
		Exec(ctx)

	return errors.Join(err, insertErr)
}

// Housekeep performs the cleanups and returns a record for each successful
// cleanup. A failed cleanup does not stop the remaining ones.
func Housekeep(ctx context.Context, cleanups []Cleanup) ([]models.HousekeeperRun, error) {
	runs := make([]models.HousekeeperRun, 0, len(cleanups))
	allErrs := make([]error, 0)

	logger := asynqutils.GetLogger(ctx)
	for _, cleanup := range cleanups {
		startedAt := time.Now()
		count, err := cleanup.Func(ctx)
		if err != nil {
			logger.Error("failed to clean up stale records", "name", cleanup.Name, "reason", err)
			allErrs = append(allErrs, err)

			continue
		}

		logger.Info("deleted stale records", "name", cleanup.Name, "count", count)
		runs = append(runs, models.HousekeeperRun{
			Name:        cleanup.Name,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
			Count:       count,
		})

		metric := prometheus.MustNewConstMetric(
			hkDeletedRecordsDesc,
			prometheus.GaugeValue,
			float64(count),
			cleanup.Name,
		)
		metrics.DefaultCollector.AddMetric(metrics.Key(HousekeeperTaskType, cleanup.Name), metric)
	}

	return runs, errors.Join(allErrs...)
}

func init() {
	registry.TaskRegistry.MustRegister(HousekeeperTaskType, asynq.HandlerFunc(HandleHousekeeperTask))
	registry.ScheduledTaskRegistry.MustRegister(HousekeeperTaskType, registry.ScheduledTask{
		Spec: HousekeeperSpec,
		Task: asynq.NewTask(HousekeeperTaskType, nil),
	})
}
