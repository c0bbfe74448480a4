package agent

import (
	"errors"
	"fmt"
	"sync"

	"autoforge/internal/logging"
)

// ErrAlreadyRegistered is returned when an agent id is registered twice.
var ErrAlreadyRegistered = errors.New("agent already registered")

// Registry tracks the agents the orchestrator owns. Agents start in
// registration order and stop in reverse.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
	}
}

// Register adds an agent. A duplicate id is a configuration error.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return fmt.Errorf("nil agent")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ID()
	if _, exists := r.agents[id]; exists {
		return Categorize(CategoryConfiguration, fmt.Errorf("%w: %q", ErrAlreadyRegistered, id))
	}
	r.agents[id] = a
	r.order = append(r.order, id)
	logging.OrchestratorDebug("registered agent %s (%d total)", id, len(r.order))
	return nil
}

// Get returns the agent for an id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StartAll starts every agent in registration order. The first failure
// aborts the startup and is returned; agents already started stay running
// so the caller can StopAll.
func (r *Registry) StartAll() error {
	for _, id := range r.IDs() {
		a, ok := r.Get(id)
		if !ok {
			continue
		}
		if err := a.Start(); err != nil {
			return fmt.Errorf("start %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every agent in reverse registration order, returning the
// first error after attempting all of them.
func (r *Registry) StopAll() error {
	ids := r.IDs()
	var firstErr error
	for i := len(ids) - 1; i >= 0; i-- {
		a, ok := r.Get(ids[i])
		if !ok {
			continue
		}
		if err := a.Stop(); err != nil {
			logging.OrchestratorError("stop %s: %v", ids[i], err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", ids[i], err)
			}
		}
	}
	return firstErr
}

// RunningCount returns how many agents report running.
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, a := range r.agents {
		if a.IsRunning() {
			count++
		}
	}
	return count
}
