// Package bus implements the in-process publish/subscribe router that
// carries all inter-agent traffic. Dispatch is synchronous: Send returns
// only after every receiving handler has returned, which keeps message
// ordering deterministic and lets the moderator mutate project state
// without locks.
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates every message the bus recognizes. The set is
// closed; constructing a message with any other type fails.
type MessageType string

const (
	// Task execution protocol (moderator <-> techlead)
	TypeTaskAssigned  MessageType = "TASK_ASSIGNED"
	TypePRSubmitted   MessageType = "PR_SUBMITTED"
	TypePRFeedback    MessageType = "PR_FEEDBACK"
	TypeTaskCompleted MessageType = "TASK_COMPLETED"

	// Improvement cycle protocol (moderator <-> techlead)
	TypeImprovementRequested MessageType = "IMPROVEMENT_REQUESTED"
	TypeImprovementCompleted MessageType = "IMPROVEMENT_COMPLETED"

	// Lifecycle broadcasts
	TypeAgentError MessageType = "AGENT_ERROR"
	TypeAgentReady MessageType = "AGENT_READY"

	// Monitor event stream
	TypeTaskStarted MessageType = "TASK_STARTED"
	TypeTaskFailed  MessageType = "TASK_FAILED"
	TypePRCreated   MessageType = "PR_CREATED"
	TypePRApproved  MessageType = "PR_APPROVED"
	TypePRRejected  MessageType = "PR_REJECTED"
)

// Broadcast is the wildcard recipient: every subscribed handler except the
// sender receives the message.
const Broadcast = "*"

var validTypes = map[MessageType]bool{
	TypeTaskAssigned:         true,
	TypePRSubmitted:          true,
	TypePRFeedback:           true,
	TypeTaskCompleted:        true,
	TypeImprovementRequested: true,
	TypeImprovementCompleted: true,
	TypeAgentError:           true,
	TypeAgentReady:           true,
	TypeTaskStarted:          true,
	TypeTaskFailed:           true,
	TypePRCreated:            true,
	TypePRApproved:           true,
	TypePRRejected:           true,
}

// IsValid reports whether t is part of the closed enumeration.
func (t MessageType) IsValid() bool {
	return validTypes[t]
}

// AgentMessage is the unit of inter-agent communication. Messages are
// immutable once created: the bus stores and delivers copies, and handlers
// must not modify the payload they receive.
type AgentMessage struct {
	ID               string                 `json:"id"`
	Type             MessageType            `json:"type"`
	From             string                 `json:"from"`
	To               string                 `json:"to"`
	Payload          map[string]interface{} `json:"payload"`
	CorrelationID    string                 `json:"correlation_id"`
	RequiresResponse bool                   `json:"requires_response"`
	Timestamp        time.Time              `json:"timestamp"`
}

// MessageOption customizes message construction.
type MessageOption func(*AgentMessage)

// WithCorrelationID threads an existing correlation id through the message,
// linking it into a request/response chain. Without it a fresh id is
// generated.
func WithCorrelationID(id string) MessageOption {
	return func(m *AgentMessage) {
		if id != "" {
			m.CorrelationID = id
		}
	}
}

// WithRequiresResponse marks the message as expecting a reply.
func WithRequiresResponse() MessageOption {
	return func(m *AgentMessage) {
		m.RequiresResponse = true
	}
}

// NewMessage constructs an immutable message with a fresh id and the current
// timestamp. An unknown type is a configuration error.
func NewMessage(t MessageType, from, to string, payload map[string]interface{}, opts ...MessageOption) (*AgentMessage, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, t)
	}
	if from == "" {
		return nil, fmt.Errorf("message sender required")
	}
	if to == "" {
		return nil, fmt.Errorf("message recipient required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	msg := &AgentMessage{
		ID:            uuid.New().String(),
		Type:          t,
		From:          from,
		To:            to,
		Payload:       payload,
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(msg)
	}
	return msg, nil
}

// clone returns a shallow copy with its own payload map, so stored history
// cannot be mutated through a delivered message.
func (m *AgentMessage) clone() *AgentMessage {
	cp := *m
	cp.Payload = make(map[string]interface{}, len(m.Payload))
	for k, v := range m.Payload {
		cp.Payload[k] = v
	}
	return &cp
}

// PayloadString returns a string payload field, or "" when absent or not a
// string.
func (m *AgentMessage) PayloadString(key string) string {
	if v, ok := m.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadInt returns an integer payload field, tolerating the float64 that
// a JSON round-trip produces. Returns 0 when absent.
func (m *AgentMessage) PayloadInt(key string) int {
	switch v := m.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// PayloadFloat returns a numeric payload field as float64, or 0 when absent.
func (m *AgentMessage) PayloadFloat(key string) float64 {
	switch v := m.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// PayloadBool returns a boolean payload field, or false when absent.
func (m *AgentMessage) PayloadBool(key string) bool {
	if v, ok := m.Payload[key].(bool); ok {
		return v
	}
	return false
}

// PayloadStrings returns a string-slice payload field, accepting both
// []string and the []interface{} a JSON round-trip produces.
func (m *AgentMessage) PayloadStrings(key string) []string {
	switch v := m.Payload[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
