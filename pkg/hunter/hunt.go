// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/metrics"
)

// ExecutionMode specifies how a hunt is executed.
type ExecutionMode int

const (
	// ModeContinuous is the mode of scheduled executions. Execution
	// timestamps are persisted.
	ModeContinuous ExecutionMode = iota

	// ModeManual is the mode of executions outside of the schedule, e.g.
	// triggered from the command line. Execution timestamps are not
	// persisted.
	ModeManual
)

// String implements the [fmt.Stringer] interface.
func (m ExecutionMode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// ErrPanic is returned when the runner of a hunt panics.
var ErrPanic = errors.New("hunt panicked")

// Hunt is a loaded hunt definition bound to its runner.
type Hunt struct {
	def    *Definition
	runner Runner
	rt     *Runtime
	logger *slog.Logger

	// execution holds a token while the hunt executes.
	execution chan struct{}

	mu                 sync.Mutex
	lastExecuted       *time.Time
	lastExecutedLoaded bool
	lastAlert          *time.Time
	lastAlertLoaded    bool
}

// NewHunt creates a new [Hunt] for the definition.
func NewHunt(def *Definition, runner Runner, rt *Runtime) *Hunt {
	h := &Hunt{
		def:       def,
		runner:    runner,
		rt:        rt,
		logger:    rt.Logger.With("hunt_type", def.Type, "hunt_name", def.Name),
		execution: make(chan struct{}, 1),
	}

	return h
}

// String implements the [fmt.Stringer] interface.
func (h *Hunt) String() string {
	return fmt.Sprintf("Hunt(%s[%s])", h.def.Name, h.def.Type)
}

// Name returns the name of the hunt.
func (h *Hunt) Name() string {
	return h.def.Name
}

// Type returns the type of the hunt.
func (h *Hunt) Type() string {
	return h.def.Type
}

// Definition returns the definition of the hunt.
func (h *Hunt) Definition() *Definition {
	return h.def
}

// Runner returns the runner of the hunt.
func (h *Hunt) Runner() Runner {
	return h.runner
}

// LastExecutedTime returns the time of the last successful execution, or
// nil if the hunt has never been executed. The value is read from the state
// store on first use.
func (h *Hunt) LastExecutedTime() *time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.loadLocked(StateLastExecutedTime, &h.lastExecuted, &h.lastExecutedLoaded)
}

// LastAlertTime returns the time at which the hunt last produced
// submissions, or nil if it never did.
func (h *Hunt) LastAlertTime() *time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.loadLocked(StateLastAlertTime, &h.lastAlert, &h.lastAlertLoaded)
}

func (h *Hunt) loadLocked(value string, dst **time.Time, loaded *bool) *time.Time {
	if *loaded {
		return *dst
	}

	t, err := h.rt.State.Read(h.def.Type, h.def.Name, value)
	if err != nil {
		// Not cached, the read is retried on next use.
		h.logger.Error("cannot read hunt state", "value", value, "reason", err)

		return nil
	}

	*dst = t
	*loaded = true

	return t
}

// setLastExecutedTime caches and persists the time of the last successful
// execution.
func (h *Hunt) setLastExecutedTime(t time.Time) {
	h.store(StateLastExecutedTime, t, &h.lastExecuted, &h.lastExecutedLoaded)
	h.logger.Debug("recorded last executed time", "time", t)
}

func (h *Hunt) setLastAlertTime(t time.Time) {
	h.store(StateLastAlertTime, t, &h.lastAlert, &h.lastAlertLoaded)
}

func (h *Hunt) store(value string, t time.Time, dst **time.Time, loaded *bool) {
	t = t.UTC()
	h.mu.Lock()
	*dst = &t
	*loaded = true
	h.mu.Unlock()

	if err := h.rt.State.Write(h.def.Type, h.def.Name, value, t); err != nil {
		h.logger.Error("cannot write hunt state", "value", value, "reason", err)
		h.rt.Reporter.Report(context.Background(), h, fmt.Errorf("cannot write %s: %w", value, err))
	}
}

// Suppressed returns true, if the hunt produced submissions within its
// suppression window.
func (h *Hunt) Suppressed() bool {
	_, ok := h.SuppressionEnd()

	return ok
}

// SuppressionEnd returns the end of the current suppression window. The
// returned bool is false, if the hunt is not suppressed.
func (h *Hunt) SuppressionEnd() (time.Time, bool) {
	if h.def.Suppression <= 0 {
		return time.Time{}, false
	}

	lastAlert := h.LastAlertTime()
	if lastAlert == nil {
		return time.Time{}, false
	}

	end := lastAlert.Add(h.def.Suppression)
	if !h.rt.Clock.Now().Before(end) {
		return time.Time{}, false
	}

	return end, true
}

// NextExecutionTime returns the time at which the hunt is due next.
//
// A suppressed hunt is due when its suppression ends. Otherwise cron
// scheduled hunts are due at the first firing after the last execution and
// interval scheduled hunts once the interval has passed since the last
// execution. Hunts which have never been executed are due at the most
// recent cron firing, or one interval before now.
func (h *Hunt) NextExecutionTime() time.Time {
	if end, ok := h.SuppressionEnd(); ok {
		h.logger.Info("hunt is suppressed", "until", end)

		return end
	}

	now := h.rt.Clock.Now()
	lastExecuted := h.LastExecutedTime()

	if h.def.cron != nil {
		if lastExecuted == nil {
			prev := prevFiring(h.def.cron, now)
			if prev.IsZero() {
				return now
			}

			return prev
		}

		// Persisted times are UTC, cron fields are read in the clock's location
		next := h.def.cron.Next(lastExecuted.In(now.Location()))
		if next.IsZero() {
			h.logger.Error("cron schedule has no next firing", "cron_schedule", h.def.CronSpec)

			return now
		}

		return next
	}

	if lastExecuted == nil {
		return now.Add(-h.def.Frequency)
	}

	return lastExecuted.Add(h.def.Frequency)
}

// Ready returns true, if the hunt is idle and due.
func (h *Hunt) Ready() bool {
	if h.Running() {
		return false
	}

	if h.Suppressed() {
		return false
	}

	if h.LastExecutedTime() == nil {
		return true
	}

	return !h.rt.Clock.Now().Before(h.NextExecutionTime())
}

// Running returns true, if the hunt is executing.
func (h *Hunt) Running() bool {
	select {
	case h.execution <- struct{}{}:
		<-h.execution

		return false
	default:
		return true
	}
}

// Wait blocks until the hunt is idle. A timeout <= 0 waits forever. It
// returns false, if the timeout expires first.
func (h *Hunt) Wait(timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case h.execution <- struct{}{}:
		<-h.execution

		return true
	case <-expired:
		h.logger.Warn("timeout waiting for hunt to complete", "timeout", timeout)

		return false
	}
}

// Cancel asks the runner to cancel an in-flight execution. It is safe to
// call when the hunt is idle.
func (h *Hunt) Cancel() {
	canceler, ok := h.runner.(Canceler)
	if !ok {
		h.logger.Warn("hunt type does not support cancel")

		return
	}

	canceler.Cancel()
}

// ExecuteWithLock executes the hunt, waiting for a running execution of the
// same hunt to complete first.
//
// On success the start time of the execution is recorded as the last
// executed time and, if the hunt produced submissions, as the last alert
// time. Failures are reported and leave the last executed time untouched,
// so that the hunt is retried. Manual executions record nothing.
func (h *Hunt) ExecuteWithLock(ctx context.Context, mode ExecutionMode) ([]models.Submission, error) {
	return h.executeWithLock(ctx, mode, nil)
}

// Dispatch starts a continuous execution of the hunt in a new goroutine and
// returns once the execution holds the execution lock of the hunt. done is
// called with the result of the execution.
func (h *Hunt) Dispatch(ctx context.Context, done func([]models.Submission, error)) error {
	started := make(chan struct{})
	go func() {
		submissions, err := h.executeWithLock(ctx, ModeContinuous, started)
		if done != nil {
			done(submissions, err)
		}
	}()

	select {
	case <-started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hunt) executeWithLock(ctx context.Context, mode ExecutionMode, started chan struct{}) (submissions []models.Submission, err error) {
	h.logger.Debug("waiting for execution lock")
	select {
	case h.execution <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-h.execution }()

	if started != nil {
		close(started)
	}

	h.logger.Info("executing hunt", "mode", mode)
	start := h.rt.Clock.Now()
	submissions, err = h.execute(ctx)
	elapsed := h.rt.Clock.Since(start)

	if err != nil {
		metrics.HuntExecutionTotal.WithLabelValues(h.def.Type, h.def.Name, "failed").Inc()
		h.logger.Error("hunt failed", "reason", err, "duration", elapsed)
		h.rt.Reporter.Report(ctx, h, err)
		if recorder, ok := h.runner.(FailureRecorder); ok {
			recorder.RecordFailure(err)
		}

		return nil, err
	}

	metrics.HuntExecutionTotal.WithLabelValues(h.def.Type, h.def.Name, "success").Inc()
	metrics.HuntDurationSeconds.WithLabelValues(h.def.Type).Observe(elapsed.Seconds())
	h.logger.Info("hunt completed", "submissions", len(submissions), "duration", elapsed)

	for i := range submissions {
		h.decorate(&submissions[i])
	}

	if mode == ModeManual {
		return submissions, nil
	}

	h.setLastExecutedTime(start)
	if len(submissions) > 0 {
		h.setLastAlertTime(h.rt.Clock.Now())
	}

	return submissions, nil
}

// execute calls the runner, converting panics into errors.
func (h *Hunt) execute(ctx context.Context) (submissions []models.Submission, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return h.runner.Execute(ctx)
}

// decorate fills in the submission settings of the hunt, which the runner
// did not set.
func (h *Hunt) decorate(s *models.Submission) {
	if s.AnalysisMode == "" {
		s.AnalysisMode = h.def.AnalysisMode
	}
	if s.Type == "" {
		s.Type = h.def.AlertType
	}
	if s.Queue == "" {
		s.Queue = h.def.Queue
	}
	if s.PlaybookURL == "" {
		s.PlaybookURL = h.def.PlaybookURL
	}
	if s.Tool == "" {
		s.Tool = "hunter-" + h.def.Type
	}
	if s.ToolInstance == "" {
		s.ToolInstance = "localhost"
	}
	if s.Description == "" {
		s.Description = h.def.Name
	}
	if s.EventTime.IsZero() {
		s.EventTime = h.rt.Clock.Now()
	}

	for _, tag := range h.def.Tags {
		if !slices.Contains(s.Tags, tag) {
			s.Tags = append(s.Tags, tag)
		}
	}
}
