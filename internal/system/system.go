// Package system manages the lifecycle of background components.
package system

import (
	"context"

	"github.com/swissgrant/platform/pkg/logger"
)

// Service represents a lifecycle-managed component. All background modules
// implement this interface so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	services []Service
	log      *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service. Not safe to call after Start.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start starts every registered service, stopping the ones already started
// if any Start fails.
func (m *Manager) Start(ctx context.Context) error {
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.Err(err, "service %s failed to start", svc.Name())
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.Err(stopErr, "service %s failed to stop", m.services[j].Name())
				}
			}
			return err
		}
		m.log.Info("service %s started", svc.Name())
	}
	return nil
}

// Stop stops services in reverse order, continuing past failures.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.Err(err, "service %s failed to stop", svc.Name())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.log.Info("service %s stopped", svc.Name())
	}
	return firstErr
}
