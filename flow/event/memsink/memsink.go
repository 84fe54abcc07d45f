// Package memsink implements an in-memory, single-process fan-out Sink for
// tests and single-node deployments that do not need a durable event bus.
package memsink

import (
	"context"
	"sync"

	"n3n.dev/core/flow/event"
)

// Sink fans every published event out to a set of subscriber channels.
type Sink struct {
	mu     sync.Mutex
	subs   map[int]chan event.Event
	nextID int
	closed bool
}

// New returns an empty fan-out sink.
func New() *Sink {
	return &Sink{subs: make(map[int]chan event.Event)}
}

// Subscribe returns a channel receiving every event sent after this call,
// and an unsubscribe function that removes and closes it.
func (s *Sink) Subscribe(buffer int) (<-chan event.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan event.Event, buffer)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// Send implements event.Sink by fanning ev out to every current subscriber.
// A subscriber whose buffer is full has the event dropped rather than
// blocking the publisher.
func (s *Sink) Send(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Close implements event.Sink, closing every subscriber channel.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return nil
}
