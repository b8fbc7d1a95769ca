// Package health aggregates component checks for the HTTP and gRPC health surfaces
package health

import (
	"sort"
	"sync"

	"options_ledger/internal/core"
)

const (
	StatusHealthy = "Healthy"
	unhealthy     = "Unhealthy: "
)

// HealthManager aggregates health status from registered components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
	// last holds the previous outcome per component so transitions are logged once
	last map[string]bool
	hook func(component string, healthy bool, err error)
}

// NewHealthManager creates a new health manager. logger may be nil.
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks: make(map[string]func() error),
		last:   make(map[string]bool),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// SetTransitionHook registers fn to run when a component turns unhealthy or recovers.
// A component first seen healthy is not a transition.
func (hm *HealthManager) SetTransitionHook(fn func(component string, healthy bool, err error)) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.hook = fn
}

// Components lists the registered component names in order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckComponent runs one component's check. Unknown components report false.
func (hm *HealthManager) CheckComponent(component string) (bool, error) {
	hm.mu.RLock()
	check, ok := hm.checks[component]
	hm.mu.RUnlock()
	if !ok {
		return false, nil
	}
	err := check()
	hm.observe(component, err)
	return err == nil, err
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for _, component := range hm.Components() {
		_, err := hm.CheckComponent(component)
		if err != nil {
			status[component] = unhealthy + err.Error()
		} else {
			status[component] = StatusHealthy
		}
	}
	return status
}

// IsHealthy returns true when every registered component passes
func (hm *HealthManager) IsHealthy() bool {
	for _, component := range hm.Components() {
		if ok, _ := hm.CheckComponent(component); !ok {
			return false
		}
	}
	return true
}

func (hm *HealthManager) observe(component string, err error) {
	healthy := err == nil
	hm.mu.Lock()
	prev, seen := hm.last[component]
	hm.last[component] = healthy
	hook := hm.hook
	hm.mu.Unlock()

	if seen && prev == healthy {
		return
	}
	if hook != nil && (seen || !healthy) {
		hook(component, healthy, err)
	}
	if hm.logger == nil {
		return
	}
	if healthy {
		hm.logger.Info("Component healthy", "name", component)
	} else {
		hm.logger.Warn("Component unhealthy", "name", component, "error", err)
	}
}
