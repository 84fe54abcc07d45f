// Package stream is the AI builder's thin, C6-facing alias over flow/event:
// thinking/text/structured/error/done, generalised from the teacher's
// runtime/agent/stream package onto the shared event.Sink abstraction so
// the execution engine and the flow builder publish through one transport.
package stream

import (
	"context"

	"n3n.dev/core/flow/event"
)

// Sink is the event.Sink alias the AI builder's sub-agents publish through.
type Sink = event.Sink

// Thinking emits a thinking(text) event: the agent narrating its reasoning
// before producing output.
func Thinking(ctx context.Context, sink Sink, sessionID, text string) error {
	return sink.Send(ctx, event.NewBase(event.TypeThinking, "", sessionID, text))
}

// Text emits a text(delta) event: one incremental chunk of assistant output.
func Text(ctx context.Context, sink Sink, sessionID, delta string) error {
	return sink.Send(ctx, event.NewBase(event.TypeText, "", sessionID, delta))
}

// Structured emits a structured(object) event, used by the Supervisor to
// wrap a non-empty draft as {action: "update_flow", flowDefinition: ...}
// before Done.
func Structured(ctx context.Context, sink Sink, sessionID string, payload map[string]any) error {
	return sink.Send(ctx, event.NewBase(event.TypeStructured, "", sessionID, payload))
}

// Error emits an error(msg) event.
func Error(ctx context.Context, sink Sink, sessionID, msg string) error {
	return sink.Send(ctx, event.NewBase(event.TypeError, "", sessionID, msg))
}

// Done emits a done() event, terminating the stream for this turn.
func Done(ctx context.Context, sink Sink, sessionID string) error {
	return sink.Send(ctx, event.NewBase(event.TypeDone, "", sessionID, nil))
}
