// Package agent provides the lifecycle base every agent embeds and the
// registry the orchestrator starts them from.
package agent

import (
	"fmt"
	"sync"

	"autoforge/internal/bus"
	"autoforge/internal/logging"
)

// Agent is an addressable actor with an id, a message handler, and
// lifecycle methods.
type Agent interface {
	ID() string
	Start() error
	Stop() error
	IsRunning() bool
	HandleMessage(msg *bus.AgentMessage) error
}

// Base implements the shared lifecycle: Start subscribes the agent's
// handler under its id and announces AGENT_READY; Stop unsubscribes.
// Concrete agents embed *Base and inject their HandleMessage via
// SetHandler, the same way optional collaborators are injected by setter.
type Base struct {
	id  string
	bus *bus.MessageBus

	mu      sync.Mutex
	running bool

	// fatal re-raises handler errors to the dispatching Send after they
	// have been reported, so the sender observes the failure.
	fatal bool

	handler  bus.Handler
	category logging.Category
}

// NewBase creates the lifecycle base for an agent id.
func NewBase(id string, b *bus.MessageBus, category logging.Category) *Base {
	return &Base{
		id:       id,
		bus:      b,
		category: category,
	}
}

// SetHandler injects the embedding agent's HandleMessage. Must be called
// before Start.
func (a *Base) SetHandler(h bus.Handler) {
	a.handler = h
}

// SetFatal marks handler failures as fatal: after reporting, the error
// propagates to the Send caller instead of being swallowed.
func (a *Base) SetFatal(fatal bool) {
	a.fatal = fatal
}

// ID returns the agent id.
func (a *Base) ID() string {
	return a.id
}

// IsRunning reports whether the agent is started.
func (a *Base) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start subscribes the agent on the bus and broadcasts AGENT_READY.
// Starting a running agent is a no-op.
func (a *Base) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if a.handler == nil {
		return fmt.Errorf("agent %s: no handler set", a.id)
	}

	if err := a.bus.Subscribe(a.id, a.dispatch); err != nil {
		return fmt.Errorf("agent %s: %w", a.id, err)
	}
	a.running = true

	logging.Get(a.category).Info("agent %s started", a.id)

	ready, err := bus.NewMessage(bus.TypeAgentReady, a.id, bus.Broadcast, nil)
	if err == nil {
		if _, serr := a.bus.Send(ready); serr != nil {
			logging.Get(a.category).Warn("agent %s: ready broadcast failed: %v", a.id, serr)
		}
	}
	return nil
}

// Stop unsubscribes the agent. Stopping a stopped agent is a no-op.
func (a *Base) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.bus.Unsubscribe(a.id)
	a.running = false
	logging.Get(a.category).Info("agent %s stopped", a.id)
	return nil
}

// dispatch wraps the agent's handler: a failure is logged with full
// context, broadcast as AGENT_ERROR, and re-raised only when the agent is
// configured fatal.
func (a *Base) dispatch(msg *bus.AgentMessage) error {
	err := a.handler(msg)
	if err == nil {
		return nil
	}

	logging.Get(a.category).Error("agent %s: handler failed: type=%s from=%s msg_id=%s corr=%s: %v",
		a.id, msg.Type, msg.From, msg.ID, msg.CorrelationID, err)

	a.ReportError(err, msg)

	if a.fatal || IsFatal(err) {
		return err
	}
	return nil
}

// ReportError broadcasts AGENT_ERROR for a failure, carrying the error
// category, message string, and originating message id. The originating
// correlation id is preserved so the chain stays intact.
func (a *Base) ReportError(err error, origin *bus.AgentMessage) {
	payload := map[string]interface{}{
		"error_type":    string(CategoryOf(err)),
		"error_message": err.Error(),
	}
	var opts []bus.MessageOption
	if origin != nil {
		payload["originating_id"] = origin.ID
		opts = append(opts, bus.WithCorrelationID(origin.CorrelationID))
	}

	errMsg, merr := bus.NewMessage(bus.TypeAgentError, a.id, bus.Broadcast, payload, opts...)
	if merr != nil {
		logging.Get(a.category).Error("agent %s: error report construction failed: %v", a.id, merr)
		return
	}
	if _, serr := a.bus.Send(errMsg); serr != nil {
		logging.Get(a.category).Error("agent %s: error report dispatch failed: %v", a.id, serr)
	}
}

// Send constructs and dispatches a message with this agent as sender.
func (a *Base) Send(t bus.MessageType, to string, payload map[string]interface{}, opts ...bus.MessageOption) (*bus.DispatchResult, error) {
	msg, err := bus.NewMessage(t, a.id, to, payload, opts...)
	if err != nil {
		return nil, err
	}
	return a.bus.Send(msg)
}

// Bus exposes the bus handle for embedding agents that need event taps.
func (a *Base) Bus() *bus.MessageBus {
	return a.bus
}
