// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package asynq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ace-ecosystem/ace/pkg/metrics"
)

// Task outcomes as reported by [TaskOutcome].
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// TaskOutcome classifies the error returned by a task handler. Errors
// wrapping [asynq.SkipRetry] are skipped, since the task will not run again.
func TaskOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, asynq.SkipRetry):
		return OutcomeSkipped
	default:
		return OutcomeFailed
	}
}

// NewLoggerMiddleware returns a new [asynq.MiddlewareFunc], which embeds a
// [slog.Logger] in the context provided to task handlers. Log events carry
// the name of the ACE node processing the task, the task identity and the
// retry attempt.
func NewLoggerMiddleware(logger *slog.Logger, node string) asynq.MiddlewareFunc {
	middleware := func(handler asynq.Handler) asynq.Handler {
		mw := func(ctx context.Context, task *asynq.Task) error {
			attrs := []slog.Attr{
				slog.String("task_name", task.Type()),
				slog.String("task_queue", GetQueueName(ctx)),
			}
			if node != "" {
				attrs = append(attrs, slog.String("node", node))
			}
			if taskID, ok := asynq.GetTaskID(ctx); ok {
				attrs = append(attrs, slog.String("task_id", taskID))
			}
			if retry, ok := asynq.GetRetryCount(ctx); ok && retry > 0 {
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				attrs = append(attrs, slog.Int("task_retry", retry), slog.Int("task_max_retry", maxRetry))
			}

			taskLogger := slog.New(logger.Handler().WithAttrs(attrs))

			return handler.ProcessTask(WithLogger(ctx, taskLogger), task)
		}

		return asynq.HandlerFunc(mw)
	}

	return asynq.MiddlewareFunc(middleware)
}

// NewMeasuringMiddleware returns a new [asynq.MiddlewareFunc] which logs the
// duration and outcome of tasks. Failures are logged as warnings along with
// the reason.
func NewMeasuringMiddleware() asynq.MiddlewareFunc {
	middleware := func(handler asynq.Handler) asynq.Handler {
		mw := func(ctx context.Context, task *asynq.Task) error {
			logger := GetLogger(ctx)
			logger.Debug("received task")
			start := time.Now()
			err := handler.ProcessTask(ctx, task)
			elapsed := time.Since(start)

			outcome := TaskOutcome(err)
			if outcome == OutcomeSucceeded {
				logger.Info("task finished", "duration", elapsed, "outcome", outcome)
			} else {
				logger.Warn("task finished", "duration", elapsed, "outcome", outcome, "reason", err)
			}

			return err
		}

		return asynq.HandlerFunc(mw)
	}

	return asynq.MiddlewareFunc(middleware)
}

// NewMetricsMiddleware returns a new [asynq.MiddlewareFunc] which counts
// task executions per outcome. Durations are observed for successful tasks
// only.
func NewMetricsMiddleware() asynq.MiddlewareFunc {
	middleware := func(handler asynq.Handler) asynq.Handler {
		mw := func(ctx context.Context, task *asynq.Task) error {
			labels := []string{task.Type(), GetQueueName(ctx)}
			metrics.TaskExecutionTotal.WithLabelValues(labels...).Inc()

			start := time.Now()
			err := handler.ProcessTask(ctx, task)

			switch TaskOutcome(err) {
			case OutcomeSucceeded:
				metrics.TaskSuccessfulTotal.WithLabelValues(labels...).Inc()
				metrics.TaskDurationSeconds.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			case OutcomeSkipped:
				metrics.TaskSkippedTotal.WithLabelValues(labels...).Inc()
			case OutcomeFailed:
				metrics.TaskFailedTotal.WithLabelValues(labels...).Inc()
			}

			return err
		}

		return asynq.HandlerFunc(mw)
	}

	return asynq.MiddlewareFunc(middleware)
}
