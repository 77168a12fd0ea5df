// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/metrics"
)

var (
	// ErrUnknownKind is returned when a hunt type refers to a hunt kind,
	// which is not registered in [KindRegistry].
	ErrUnknownKind = errors.New("unknown hunt kind")

	// ErrTypeMismatch is returned when loading a definition of another
	// type into a manager.
	ErrTypeMismatch = errors.New("hunt type mismatch")

	// ErrHuntNotFound is returned when a hunt is not known to a manager.
	ErrHuntNotFound = errors.New("hunt not found")

	// ErrDuplicateHunt is returned when two definitions of a type have the
	// same name.
	ErrDuplicateHunt = errors.New("duplicate hunt name")
)

// Manager loads and schedules the hunts of a single hunt type.
type Manager struct {
	conf    config.HuntTypeConfig
	factory Factory
	rt      *Runtime
	sink    Sink
	logger  *slog.Logger

	// limit is nil, when the number of concurrent executions is not
	// limited.
	limit *semaphore.Weighted
	wg    sync.WaitGroup

	mu    sync.Mutex
	hunts map[string]*Hunt
}

// NewManager creates a new [Manager] for the hunt type. The runners of the
// hunts are created by the factory registered in [KindRegistry] for the
// kind of the type.
func NewManager(conf config.HuntTypeConfig, rt *Runtime, sink Sink) (*Manager, error) {
	kind := conf.Kind
	if kind == "" {
		kind = conf.Type
	}

	factory, ok := KindRegistry.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	m := &Manager{
		conf:    conf,
		factory: factory,
		rt:      rt,
		sink:    sink,
		logger:  rt.Logger.With("hunt_type", conf.Type),
		hunts:   make(map[string]*Hunt),
	}

	if conf.ConcurrencyLimit > 0 {
		m.limit = semaphore.NewWeighted(int64(conf.ConcurrencyLimit))
	}

	return m, nil
}

// Type returns the hunt type of the manager.
func (m *Manager) Type() string {
	return m.conf.Type
}

// NewHunt validates the definition against the hunt type and creates a new
// [Hunt] for it.
func (m *Manager) NewHunt(def *Definition) (*Hunt, error) {
	if def.Type != m.conf.Type {
		return nil, fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, def.Type, m.conf.Type)
	}

	runner, err := m.factory(def)
	if err != nil {
		return nil, err
	}

	return NewHunt(def, runner, m.rt), nil
}

// LoadHunt loads and validates the hunt definition from the file at path.
// The hunt is not added to the manager.
func (m *Manager) LoadHunt(path string) (*Hunt, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}

	return m.NewHunt(def)
}

// definitionFiles returns the YAML files below the rule directories.
func (m *Manager) definitionFiles() ([]string, error) {
	files := make([]string, 0)
	for _, dir := range m.conf.RuleDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			ext := strings.ToLower(filepath.Ext(path))
			if d.Type().IsRegular() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, path)
			}

			return nil
		})

		if err != nil {
			return nil, err
		}
	}
	slices.Sort(files)

	return files, nil
}

// Load loads all hunt definitions of the type from the rule directories.
// Invalid definitions are logged and skipped, and the joined errors are
// returned.
func (m *Manager) Load() error {
	files, err := m.definitionFiles()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	allErrs := make([]error, 0)
	for _, path := range files {
		if _, ok := m.hunts[path]; ok {
			continue
		}

		if err := m.addLocked(path); err != nil {
			allErrs = append(allErrs, err)
		}
	}

	return errors.Join(allErrs...)
}

// addLocked loads the hunt at path and adds it to the manager. Definitions
// of other hunt types found in the rule directories are skipped.
func (m *Manager) addLocked(path string) error {
	def, err := LoadDefinition(path)
	if err != nil {
		m.logger.Error("cannot load hunt", "path", path, "reason", err)

		return fmt.Errorf("%s: %w", path, err)
	}

	if def.Type != m.conf.Type {
		m.logger.Debug("skipping hunt of another type", "path", path, "type", def.Type)

		return nil
	}

	for _, other := range m.hunts {
		if other.Name() == def.Name {
			m.logger.Error("duplicate hunt name", "path", path, "hunt_name", def.Name, "other", other.Definition().FilePath)

			return fmt.Errorf("%w: %s in %s", ErrDuplicateHunt, def.Name, path)
		}
	}

	hunt, err := m.NewHunt(def)
	if err != nil {
		m.logger.Error("invalid hunt", "path", path, "reason", err)

		return fmt.Errorf("%s: %w", path, err)
	}

	m.hunts[path] = hunt
	m.logger.Info("loaded hunt", "hunt_name", def.Name, "path", path, "enabled", def.Enabled)

	return nil
}

// Reload replaces the hunts whose definition has been modified or removed,
// and loads new definitions. Running hunts are reloaded on a later call.
func (m *Manager) Reload() error {
	m.mu.Lock()
	for path, hunt := range m.hunts {
		modified, err := hunt.Definition().IsModified()
		if err != nil {
			m.logger.Error("cannot check hunt for modifications", "path", path, "reason", err)

			continue
		}

		if !modified || hunt.Running() {
			continue
		}

		m.logger.Info("hunt modified", "hunt_name", hunt.Name(), "path", path)
		delete(m.hunts, path)
	}
	m.mu.Unlock()

	return m.Load()
}

// Hunts returns the hunts of the manager ordered by name.
func (m *Manager) Hunts() []*Hunt {
	m.mu.Lock()
	defer m.mu.Unlock()

	hunts := make([]*Hunt, 0, len(m.hunts))
	for _, hunt := range m.hunts {
		hunts = append(hunts, hunt)
	}
	slices.SortFunc(hunts, func(a, b *Hunt) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return hunts
}

// Hunt returns the hunt with the given name.
func (m *Manager) Hunt(name string) (*Hunt, error) {
	for _, hunt := range m.Hunts() {
		if hunt.Name() == name {
			return hunt, nil
		}
	}

	return nil, fmt.Errorf("%w: %s[%s]", ErrHuntNotFound, name, m.conf.Type)
}

// Execute runs the named hunt once in manual mode and forwards its
// submissions to the sink, if forward is true.
func (m *Manager) Execute(ctx context.Context, name string, forward bool) ([]models.Submission, error) {
	hunt, err := m.Hunt(name)
	if err != nil {
		return nil, err
	}

	submissions, err := hunt.ExecuteWithLock(ctx, ModeManual)
	if err != nil {
		return nil, err
	}

	if forward {
		m.submit(ctx, hunt, submissions)
	}

	return submissions, nil
}

// submit forwards the submissions of a hunt to the sink.
func (m *Manager) submit(ctx context.Context, hunt *Hunt, submissions []models.Submission) {
	if m.sink == nil {
		return
	}

	for _, submission := range submissions {
		if err := m.sink.Submit(ctx, submission); err != nil {
			m.logger.Error("cannot submit", "hunt_name", hunt.Name(), "uuid", submission.UUID, "reason", err)

			continue
		}
		metrics.HuntSubmissionsTotal.WithLabelValues(hunt.Type(), hunt.Name()).Inc()
	}
}

// Poll dispatches the enabled hunts, which are ready. Hunts are skipped
// while the concurrency limit of the type is exhausted. It returns the
// number of dispatched hunts.
func (m *Manager) Poll(ctx context.Context) int {
	dispatched := 0
	for _, hunt := range m.Hunts() {
		if ctx.Err() != nil {
			break
		}

		if !hunt.Definition().Enabled || !hunt.Ready() {
			continue
		}

		if m.limit != nil && !m.limit.TryAcquire(1) {
			m.logger.Debug("concurrency limit reached", "limit", m.conf.ConcurrencyLimit)

			break
		}

		m.wg.Add(1)
		err := hunt.Dispatch(ctx, func(submissions []models.Submission, err error) {
			defer m.wg.Done()
			if m.limit != nil {
				defer m.limit.Release(1)
			}

			if err == nil {
				m.submit(context.WithoutCancel(ctx), hunt, submissions)
			}
		})

		if err != nil {
			m.logger.Warn("cannot dispatch hunt", "hunt_name", hunt.Name(), "reason", err)

			continue
		}
		dispatched++
	}

	return dispatched
}

// Run polls the hunts at the given interval and reloads modified
// definitions at the reload interval, until the context is done. Running
// hunts are then cancelled and waited for.
func (m *Manager) Run(ctx context.Context, pollInterval, reloadInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = config.DefaultHunterPollInterval
	}
	if reloadInterval <= 0 {
		reloadInterval = config.DefaultHunterReloadInterval
	}

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	reload := time.NewTicker(reloadInterval)
	defer reload.Stop()

	m.logger.Info("hunt manager started", "hunts", len(m.Hunts()))
	for {
		m.Poll(ctx)

		select {
		case <-ctx.Done():
			m.Stop()

			return
		case <-reload.C:
			if err := m.Reload(); err != nil {
				m.logger.Error("failed to reload hunts", "reason", err)
			}
		case <-poll.C:
		}
	}
}

// Stop cancels the running hunts and waits for them to complete.
func (m *Manager) Stop() {
	for _, hunt := range m.Hunts() {
		if hunt.Running() {
			hunt.Cancel()
		}
	}

	m.wg.Wait()
	m.logger.Info("hunt manager stopped")
}
