// Package health is the ambient liveness registry (SPEC_FULL §C): each
// registered probe reports one subsystem's health, and the entrypoint
// polls the aggregate periodically and logs it when degraded. Grounded on the
// teacher's internal/infrastructure/health/manager.go, generalized from
// core.ILogger to the zap-backed logging.Logger this module carries.
package health

import (
	"context"
	"sync"

	"market_maker/internal/logging"
)

// Check is a liveness probe for one subsystem. It may perform I/O (the
// entrypoint registers an exchange REST probe) and runs under the
// caller's context.
type Check func(ctx context.Context) error

// Manager aggregates health checks from every registered component.
type Manager struct {
	logger logging.Logger

	mu     sync.RWMutex
	checks map[string]Check
}

// New creates an empty Manager.
func New(logger logging.Logger) *Manager {
	return &Manager{logger: logger, checks: make(map[string]Check)}
}

// Register adds or replaces the named component's liveness check.
func (m *Manager) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Status runs every registered check and returns "Healthy" or
// "Unhealthy: <error>" per component.
func (m *Manager) Status(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(ctx); err != nil {
			status[component] = "Unhealthy: " + err.Error()
			if m.logger != nil {
				m.logger.Warn("health check failed", "component", component, "error", err)
			}
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered component currently passes.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(ctx); err != nil {
			return false
		}
	}
	return true
}
