package bus

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"autoforge/internal/logging"
)

var (
	// ErrAlreadySubscribed is returned when an agent id registers twice.
	ErrAlreadySubscribed = errors.New("agent already subscribed")

	// ErrUnknownMessageType is returned for types outside the closed enum.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Handler receives a delivered message. Handlers run synchronously on the
// goroutine that called Send.
type Handler func(*AgentMessage) error

// DispatchResult reports what Send did with a message.
type DispatchResult struct {
	// Delivered is true when at least one handler received the message.
	Delivered bool

	// HandlerErr holds the first error a handler returned, if any. On a
	// broadcast, later subscribers still run after an earlier failure.
	HandlerErr error
}

// eventTap is a type-filtered observer registration. Taps receive messages
// after recipient routing, regardless of the recipient id.
type eventTap struct {
	handler Handler
	types   map[MessageType]bool
}

// MessageBus routes messages between agents. One handler per agent id;
// wildcard broadcasts go to every handler except the sender. Every sent
// message is appended to an in-memory history exactly once, in publication
// order.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	taps     map[string]eventTap
	history  []AgentMessage
}

// New creates an empty message bus.
func New() *MessageBus {
	return &MessageBus{
		handlers: make(map[string]Handler),
		taps:     make(map[string]eventTap),
	}
}

// Subscribe registers the single handler for an agent id. A second
// registration for the same id fails with ErrAlreadySubscribed.
func (b *MessageBus) Subscribe(agentID string, handler Handler) error {
	if agentID == "" {
		return fmt.Errorf("agent id required")
	}
	if handler == nil {
		return fmt.Errorf("handler required for agent %q", agentID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[agentID]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadySubscribed, agentID)
	}
	b.handlers[agentID] = handler
	logging.BusDebug("subscribed %s", agentID)
	return nil
}

// Unsubscribe removes an agent's handler. Unknown ids are a no-op.
func (b *MessageBus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, agentID)
	logging.BusDebug("unsubscribed %s", agentID)
}

// SubscribeEvents registers a type-filtered tap for an agent. The tap
// receives every message whose type is in the set, excluding messages the
// agent sent and messages it already received as the direct recipient. The
// monitor uses this to observe task and PR events addressed elsewhere.
func (b *MessageBus) SubscribeEvents(agentID string, handler Handler, types ...MessageType) error {
	if agentID == "" {
		return fmt.Errorf("agent id required")
	}
	if handler == nil {
		return fmt.Errorf("handler required for agent %q", agentID)
	}
	if len(types) == 0 {
		return fmt.Errorf("at least one event type required for agent %q", agentID)
	}

	set := make(map[MessageType]bool, len(types))
	for _, t := range types {
		if !t.IsValid() {
			return fmt.Errorf("%w: %q", ErrUnknownMessageType, t)
		}
		set[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.taps[agentID]; exists {
		return fmt.Errorf("%w: %q (events)", ErrAlreadySubscribed, agentID)
	}
	b.taps[agentID] = eventTap{handler: handler, types: set}
	logging.BusDebug("event tap registered for %s (%d types)", agentID, len(set))
	return nil
}

// UnsubscribeEvents removes an agent's event tap.
func (b *MessageBus) UnsubscribeEvents(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.taps, agentID)
}

// IsSubscribed reports whether an agent id has a registered handler.
func (b *MessageBus) IsSubscribed(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[agentID]
	return ok
}

// SubscriberCount returns the number of registered handlers.
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// delivery pairs a receiver id with its handler for dispatch outside the
// lock.
type delivery struct {
	agentID string
	handler Handler
}

// Send routes the message synchronously: it does not return until every
// receiving handler has returned. The message is appended to history before
// dispatch. A panicking handler is recovered, logged, and converted into an
// AGENT_ERROR broadcast; an error-returning handler is recorded in the
// result and left to the agent layer to report. Neither stops delivery to
// the remaining broadcast subscribers.
func (b *MessageBus) Send(msg *AgentMessage) (*DispatchResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}

	b.mu.Lock()
	b.history = append(b.history, *msg.clone())

	var targets []delivery
	direct := ""
	if msg.To == Broadcast {
		for id, h := range b.handlers {
			if id == msg.From {
				continue
			}
			targets = append(targets, delivery{agentID: id, handler: h})
		}
		// Map iteration order is random; broadcasts deliver in sorted id
		// order so executions are reproducible.
		sort.Slice(targets, func(i, j int) bool { return targets[i].agentID < targets[j].agentID })
	} else if h, ok := b.handlers[msg.To]; ok {
		direct = msg.To
		targets = append(targets, delivery{agentID: msg.To, handler: h})
	}

	var tapTargets []delivery
	for id, tap := range b.taps {
		if !tap.types[msg.Type] {
			continue
		}
		if id == msg.From || id == direct {
			continue
		}
		tapTargets = append(tapTargets, delivery{agentID: id, handler: tap.handler})
	}
	sort.Slice(tapTargets, func(i, j int) bool { return tapTargets[i].agentID < tapTargets[j].agentID })
	b.mu.Unlock()

	logging.BusDebug("dispatch %s %s -> %s (targets=%d taps=%d)",
		msg.Type, msg.From, msg.To, len(targets), len(tapTargets))

	result := &DispatchResult{}
	for _, d := range targets {
		result.Delivered = true
		if err := b.invoke(d, msg); err != nil && result.HandlerErr == nil {
			result.HandlerErr = err
		}
	}
	for _, d := range tapTargets {
		// Tap failures never poison the dispatch result: observation is
		// best-effort.
		_ = b.invoke(d, msg)
	}
	return result, nil
}

// invoke runs one handler with panic recovery. Panics become AGENT_ERROR
// broadcasts; returned errors are logged and passed back to Send.
func (b *MessageBus) invoke(d delivery, msg *AgentMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic in %s: %v", d.agentID, r)
			logging.BusError("handler panic: agent=%s type=%s: %v", d.agentID, msg.Type, r)
			b.reportCrash(d.agentID, msg, fmt.Sprintf("%v", r))
		}
	}()

	if herr := d.handler(msg.clone()); herr != nil {
		logging.BusError("handler error: agent=%s type=%s: %v", d.agentID, msg.Type, herr)
		return herr
	}
	return nil
}

// reportCrash broadcasts AGENT_ERROR for a recovered panic. Failures inside
// an AGENT_ERROR delivery are only logged, so a broken error handler cannot
// recurse.
func (b *MessageBus) reportCrash(agentID string, origin *AgentMessage, detail string) {
	if origin.Type == TypeAgentError {
		return
	}
	errMsg, err := NewMessage(TypeAgentError, agentID, Broadcast, map[string]interface{}{
		"error_type":     "handler_error",
		"error_message":  detail,
		"originating_id": origin.ID,
	}, WithCorrelationID(origin.CorrelationID))
	if err != nil {
		logging.BusError("crash report construction failed: %v", err)
		return
	}
	if _, err := b.Send(errMsg); err != nil {
		logging.BusError("crash report dispatch failed: %v", err)
	}
}

// History returns a copy of every message sent, in publication order.
func (b *MessageBus) History() []AgentMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]AgentMessage, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryByType returns sent messages of one type, in publication order.
func (b *MessageBus) HistoryByType(t MessageType) []AgentMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []AgentMessage
	for _, m := range b.history {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// HistoryByCorrelation returns the message chain for one correlation id, in
// publication order.
func (b *MessageBus) HistoryByCorrelation(corrID string) []AgentMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []AgentMessage
	for _, m := range b.history {
		if m.CorrelationID == corrID {
			out = append(out, m)
		}
	}
	return out
}

// ResetHistory clears the history. Diagnostics and tests only.
func (b *MessageBus) ResetHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
