// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"context"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
)

// Runner is implemented by each hunt kind and performs the actual search.
type Runner interface {
	// Execute runs the hunt once and returns the resulting submissions.
	Execute(ctx context.Context) ([]models.Submission, error)
}

// RunnerFunc is an adapter to use ordinary functions as [Runner].
type RunnerFunc func(ctx context.Context) ([]models.Submission, error)

// Execute implements the [Runner] interface.
func (f RunnerFunc) Execute(ctx context.Context) ([]models.Submission, error) {
	return f(ctx)
}

// Canceler is implemented by runners, which support cancellation of an
// in-flight execution. Cancel must be safe to call when the runner is idle.
type Canceler interface {
	Cancel()
}

// FailureRecorder is implemented by runners, which record the details of
// failed executions.
type FailureRecorder interface {
	RecordFailure(err error)
}

// Factory creates the [Runner] of a hunt kind from a definition. It returns
// an error wrapping [ErrInvalidDefinition], when the definition does not
// hold valid settings for the kind.
type Factory func(def *Definition) (Runner, error)

// KindRegistry holds the known hunt kinds.
var KindRegistry = registry.New[string, Factory]()

// ErrorReporter receives the errors of failed hunt executions.
type ErrorReporter interface {
	Report(ctx context.Context, hunt *Hunt, err error)
}

// ErrorReporterFunc is an adapter to use ordinary functions as
// [ErrorReporter].
type ErrorReporterFunc func(ctx context.Context, hunt *Hunt, err error)

// Report implements the [ErrorReporter] interface.
func (f ErrorReporterFunc) Report(ctx context.Context, hunt *Hunt, err error) {
	f(ctx, hunt, err)
}

// Sink receives the submissions produced by hunts.
type Sink interface {
	Submit(ctx context.Context, submission models.Submission) error
}

// SinkFunc is an adapter to use ordinary functions as [Sink].
type SinkFunc func(ctx context.Context, submission models.Submission) error

// Submit implements the [Sink] interface.
func (f SinkFunc) Submit(ctx context.Context, submission models.Submission) error {
	return f(ctx, submission)
}

// Runtime is the scheduler context shared by the hunts of a hunter.
type Runtime struct {
	// State persists the execution timestamps of hunts.
	State StateStore

	// Clock provides the current time.
	Clock clock.PassiveClock

	// Reporter receives the errors of failed executions.
	Reporter ErrorReporter

	// Logger is the logger of the hunter.
	Logger *slog.Logger
}

// NewRuntime creates a new [Runtime] with the real clock, which persists
// state in the given store and reports errors by logging them.
func NewRuntime(state StateStore, logger *slog.Logger) *Runtime {
	rt := &Runtime{
		State:  state,
		Clock:  clock.RealClock{},
		Logger: logger,
	}
	rt.Reporter = ErrorReporterFunc(func(ctx context.Context, hunt *Hunt, err error) {
		logger.ErrorContext(ctx, "hunt execution failed", "hunt_type", hunt.Type(), "hunt_name", hunt.Name(), "reason", err)
	})

	return rt
}
