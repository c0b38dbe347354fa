package health

import (
	"sync"

	"taproom/internal/core"
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
	flags  map[string]error
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	if logger == nil {
		return &HealthManager{
			checks: make(map[string]func() error),
			flags:  make(map[string]error),
		}
	}
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
		flags:  make(map[string]error),
	}
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// SetFlag records a sticky condition for a component. A nil error clears it.
// Flags cover events a poll cannot see, like a failed restore rollback.
func (hm *HealthManager) SetFlag(component string, err error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if err == nil {
		delete(hm.flags, component)
		return
	}
	hm.flags[component] = err
	if hm.logger != nil {
		hm.logger.Warn("Health flag raised", "component", component, "error", err)
	}
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string)
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	for component, err := range hm.flags {
		status[component] = "Unhealthy: " + err.Error()
	}
	return status
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if len(hm.flags) > 0 {
		return false
	}
	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
