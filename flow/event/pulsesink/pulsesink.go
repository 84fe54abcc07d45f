// Package pulsesink implements event.Sink on top of goa.design/pulse
// streaming, backed by a Redis connection, for deployments that need events
// to survive past a single process (multiple API nodes behind a load
// balancer, engine workers separate from the HTTP front end).
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"n3n.dev/core/flow/event"
)

// Options configures the Pulse-backed sink.
type Options struct {
	// Redis is the connection backing the Pulse stream. Required.
	Redis *redis.Client
	// StreamName is the Pulse stream events are appended to. Required.
	StreamName string
	// StreamMaxLen bounds the number of entries kept per stream. Zero uses
	// Pulse's own default.
	StreamMaxLen int
	// OperationTimeout bounds each publish call. Zero means no timeout.
	OperationTimeout time.Duration
}

// Sink publishes events to a Pulse stream.
type Sink struct {
	stream  *streaming.Stream
	timeout time.Duration
}

// New constructs a Sink, creating the underlying Pulse stream if needed.
func New(opts Options) (*Sink, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsesink: redis client is required")
	}
	if opts.StreamName == "" {
		return nil, errors.New("pulsesink: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if opts.StreamMaxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
	}
	str, err := streaming.NewStream(opts.StreamName, opts.Redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("pulsesink: create stream: %w", err)
	}
	return &Sink{stream: str, timeout: opts.OperationTimeout}, nil
}

// Send implements event.Sink by JSON-encoding ev's payload and appending it
// to the Pulse stream under the event's Type as the stream event name.
func (s *Sink) Send(ctx context.Context, ev event.Event) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	payload, err := json.Marshal(struct {
		ExecutionID string `json:"executionId"`
		SessionID   string `json:"sessionId,omitempty"`
		Data        any    `json:"data"`
	}{
		ExecutionID: ev.ExecutionID(),
		SessionID:   ev.SessionID(),
		Data:        ev.Payload(),
	})
	if err != nil {
		return fmt.Errorf("pulsesink: marshal event: %w", err)
	}
	if _, err := s.stream.Add(ctx, string(ev.Type()), payload); err != nil {
		return fmt.Errorf("pulsesink: publish: %w", err)
	}
	return nil
}

// Close implements event.Sink, tearing down the underlying Pulse stream.
func (s *Sink) Close(ctx context.Context) error {
	return s.stream.Destroy(ctx)
}
