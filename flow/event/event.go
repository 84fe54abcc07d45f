// Package event defines the streaming event taxonomy emitted by the
// execution engine (C4) and the AI flow builder (C6), and the Sink
// interface that delivers them to clients (SSE, WebSocket, Pulse).
package event

import (
	"context"

	"n3n.dev/core/flow"
)

// Type identifies the kind of a streamed event.
type Type string

const (
	// Execution engine event types (C4).
	TypeExecutionStarted  Type = "execution_started"
	TypeNodeStarted       Type = "node_started"
	TypeNodeCompleted     Type = "node_completed"
	TypeNodeFailed        Type = "node_failed"
	TypeNodeSkipped       Type = "node_skipped"
	TypeExecutionWaiting  Type = "execution_waiting"
	TypeExecutionResumed  Type = "execution_resumed"
	TypeExecutionCompleted Type = "execution_completed"
	TypeExecutionFailed   Type = "execution_failed"
	TypeExecutionCancelled Type = "execution_cancelled"

	// AI flow builder event types (C6): thinking/text/structured/error/done.
	TypeThinking   Type = "thinking"
	TypeText       Type = "text"
	TypeStructured Type = "structured"
	TypeError      Type = "error"
	TypeDone       Type = "done"
)

// Event is a single streamed update. All concrete event types embed Base.
type Event interface {
	Type() Type
	ExecutionID() string
	SessionID() string
	Payload() any
}

// Base provides the standard metadata every Event carries.
type Base struct {
	t  Type
	ex string
	se string
	p  any
}

// NewBase constructs a Base event.
func NewBase(t Type, executionID, sessionID string, payload any) Base {
	return Base{t: t, ex: executionID, se: sessionID, p: payload}
}

// Type implements Event.
func (b Base) Type() Type { return b.t }

// ExecutionID implements Event.
func (b Base) ExecutionID() string { return b.ex }

// SessionID implements Event.
func (b Base) SessionID() string { return b.se }

// Payload implements Event.
func (b Base) Payload() any { return b.p }

// NodePayload is the payload for node-level execution events.
type NodePayload struct {
	NodeID   flow.Ident        `json:"nodeId"`
	Branches []flow.EdgeBranch `json:"branches,omitempty"`
	Output   map[string]any    `json:"output,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ExecutionPayload is the payload for execution-level lifecycle events.
type ExecutionPayload struct {
	FlowID  flow.Ident `json:"flowId"`
	Version int        `json:"version"`
	Status  flow.ExecutionStatus `json:"status"`
}

// NodeEvent is an Event carrying a NodePayload.
type NodeEvent struct {
	Base
	Data NodePayload
}

// ExecutionEvent is an Event carrying an ExecutionPayload.
type ExecutionEvent struct {
	Base
	Data ExecutionPayload
}

// NewNodeEvent builds a node-level Event.
func NewNodeEvent(t Type, executionID string, data NodePayload) NodeEvent {
	return NodeEvent{Base: NewBase(t, executionID, "", data), Data: data}
}

// NewExecutionEvent builds an execution-level Event.
func NewExecutionEvent(t Type, executionID string, data ExecutionPayload) ExecutionEvent {
	return ExecutionEvent{Base: NewBase(t, executionID, "", data), Data: data}
}

// Sink delivers events to clients over a transport. Implementations must be
// safe to call concurrently.
type Sink interface {
	// Send publishes one event. Delivery failures (closed connection,
	// serialization errors) are returned so callers can decide whether to
	// keep streaming to other sinks.
	Send(ctx context.Context, ev Event) error
	// Close releases resources held by the sink. Idempotent.
	Close(ctx context.Context) error
}
