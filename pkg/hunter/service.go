// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package hunter provides the scheduling of hunts.
//
// A hunt is a declarative, periodically executed search, which produces
// analysis submissions. Hunts are grouped by type and each type is handled
// by a [Manager], which loads the definitions of its type, decides when
// each hunt is due and executes the due hunts under mutual exclusion. The
// [Service] aggregates the managers of all configured types.
package hunter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
)

// ErrUnknownType is returned when no manager exists for a hunt type.
var ErrUnknownType = errors.New("invalid hunt type")

// Service aggregates the hunt managers keyed by hunt type.
type Service struct {
	conf     config.HunterConfig
	rt       *Runtime
	managers *registry.Registry[string, *Manager]
}

// NewService creates a new [Service] with one [Manager] per configured hunt
// type.
func NewService(conf config.HunterConfig, rt *Runtime, sink Sink) (*Service, error) {
	s := &Service{
		conf:     conf,
		rt:       rt,
		managers: registry.New[string, *Manager](),
	}

	for _, typeConf := range conf.Types {
		manager, err := NewManager(typeConf, rt, sink)
		if err != nil {
			return nil, err
		}

		if err := s.managers.Register(typeConf.Type, manager); err != nil {
			return nil, fmt.Errorf("hunt type %s: %w", typeConf.Type, err)
		}
	}

	return s, nil
}

// Manager returns the manager of the given hunt type.
func (s *Service) Manager(huntType string) (*Manager, error) {
	manager, ok := s.managers.Get(huntType)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownType, huntType)
	}

	return manager, nil
}

// Managers returns the managers ordered by hunt type.
func (s *Service) Managers() []*Manager {
	managers := make([]*Manager, 0, s.managers.Length())
	_ = s.managers.Range(func(_ string, m *Manager) error {
		managers = append(managers, m)

		return nil
	})

	return managers
}

// Load loads the hunts of all managers.
func (s *Service) Load() error {
	allErrs := make([]error, 0)
	for _, m := range s.Managers() {
		allErrs = append(allErrs, m.Load())
	}

	return errors.Join(allErrs...)
}

// Run runs all managers until the context is done.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range s.Managers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Run(ctx, s.conf.PollInterval, s.conf.ReloadInterval)
		}()
	}

	wg.Wait()
}
