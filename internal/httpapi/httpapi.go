// Package httpapi exposes the engine's external interfaces over HTTP: flow
// triggering, execution lifecycle, the execution event stream, and the AI
// flow builder's conversational turn endpoint, grounded on the trigger
// input/execution event/configuration shapes from spec.md §6 and the
// teacher's handler-function wiring idiom (no framework, stdlib
// net/http.ServeMux pattern routing).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/conversation"
	"n3n.dev/core/agent/llm"
	"n3n.dev/core/agent/ratelimit"
	"n3n.dev/core/agent/session"
	"n3n.dev/core/agent/supervisor"
	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/flow/engine"
	"n3n.dev/core/flow/event"
	"n3n.dev/core/internal/telemetry"
)

// EventSink is event.Sink, satisfied by flow/event/memsink.Sink and
// flow/event/pulsesink.Sink. Subscribing a client connection to the stream
// is the separate Subscriber interface.
type EventSink interface {
	event.Sink
}

// Subscriber is implemented by sinks that support live fan-out to HTTP
// clients (memsink.Sink today; a Pulse-backed subscriber would read its
// stream's cursor instead).
type Subscriber interface {
	Subscribe(buffer int) (<-chan event.Event, func())
}

// Server wires the engine, the AI supervisor, and session isolation behind
// a stdlib http.Handler.
type Server struct {
	engine     *engine.Engine
	store      engine.Store
	supervisor *supervisor.Supervisor
	sessions   *session.Isolator
	limiter    *ratelimit.Limiter
	summarizer *conversation.Summarizer
	sub        Subscriber
	logger     telemetry.Logger
	maxIter    int

	convMu sync.Mutex
	convos map[string]*conversation.Conversation
}

// Options configures a Server.
type Options struct {
	Engine *engine.Engine
	// Store is the same Store the Engine was constructed with, used to serve
	// GET /v1/executions/{id} without adding a read path to Engine itself.
	Store      engine.Store
	Supervisor *supervisor.Supervisor
	Sessions   *session.Isolator
	// Limiter rate-limits AI turn requests per user. Nil disables rate
	// limiting.
	Limiter *ratelimit.Limiter
	// Summarizer compresses long-running AI builder conversations. Nil skips
	// summarisation entirely.
	Summarizer *conversation.Summarizer
	Sub        Subscriber
	Logger     telemetry.Logger
	// MaxIterations bounds agent.Context.MaxIterations for AI turns. Zero
	// uses a default of 10.
	MaxIterations int
}

// New builds a Server and its route table.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("httpapi: engine is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("httpapi: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	return &Server{
		engine:     opts.Engine,
		store:      opts.Store,
		supervisor: opts.Supervisor,
		sessions:   opts.Sessions,
		limiter:    opts.Limiter,
		summarizer: opts.Summarizer,
		sub:        opts.Sub,
		logger:     logger,
		maxIter:    maxIter,
		convos:     make(map[string]*conversation.Conversation),
	}, nil
}

// Handler returns the route table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/executions", s.handleTrigger)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /v1/executions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /v1/executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/executions/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/ai/turns", s.handleAITurn)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type triggerRequest struct {
	FlowVersion flow.FlowVersion `json:"flowVersion"`
	UserID      flow.Ident       `json:"userId"`
	Payload     map[string]any   `json:"payload"`
}

// handleTrigger starts a new execution of the posted FlowVersion against the
// trigger payload on behalf of UserID, inlining the definition itself since
// this engine does not persist flow definitions.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, flowerrors.Validation("bad_request", "invalid trigger request body"))
		return
	}
	ex, err := s.engine.Start(r.Context(), req.FlowVersion, req.UserID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ex)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := flow.Ident(r.PathValue("id"))
	ex, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

type resumeRequest struct {
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := flow.Ident(r.PathValue("id"))
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, flowerrors.Validation("bad_request", "invalid resume request body"))
		return
	}
	ex, err := s.engine.Resume(r.Context(), id, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := flow.Ident(r.PathValue("id"))
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams the execution's events as server-sent events. Every
// subscriber sees the whole firehose (memsink has no per-execution topic),
// so events for other executions are filtered out client-side here.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.sub == nil {
		http.Error(w, "event subscription is not configured", http.StatusNotImplemented)
		return
	}
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.sub.Subscribe(32)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ExecutionID() != "" && ev.ExecutionID() != id {
				continue
			}
			data, err := json.Marshal(map[string]any{
				"type":        ev.Type(),
				"executionId": ev.ExecutionID(),
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
				"data":        ev.Payload(),
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type aiTurnRequest struct {
	ConversationID string         `json:"conversationId"`
	UserID         string         `json:"userId"`
	SessionID      string         `json:"sessionId"`
	FlowID         string         `json:"flowId"`
	Utterance      string         `json:"utterance"`
	Nodes          []flow.Node    `json:"nodes"`
	Edges          []flow.Edge    `json:"edges"`
	WorkingMemory  map[string]any `json:"workingMemory"`
}

// handleAITurn runs one AI Multi-Agent Flow Builder turn, validating the
// caller's session belongs to them before touching any shared state.
func (s *Server) handleAITurn(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		http.Error(w, "AI flow builder is not configured", http.StatusNotImplemented)
		return
	}
	var req aiTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, flowerrors.Validation("bad_request", "invalid AI turn request body"))
		return
	}

	if s.sessions != nil && req.SessionID != "" {
		if _, err := s.sessions.ValidateAccess(r.Context(), req.UserID, req.SessionID); err != nil {
			writeError(w, err)
			return
		}
	}

	if s.limiter != nil {
		if err := s.limiter.AllowRequest(r.Context(), req.UserID); err != nil {
			writeError(w, err)
			return
		}
	}

	actx := agent.NewContext(flow.Ident(req.ConversationID), flow.Ident(req.UserID), flow.Ident(req.FlowID), req.Utterance, req.Nodes, req.Edges, s.maxIter)
	if req.WorkingMemory != nil {
		actx.WorkingMemory = req.WorkingMemory
	}

	convo := s.conversationFor(req.ConversationID)
	convo.Append(llm.RoleUser, req.Utterance)

	sink := sinkOrDiscard(s.sub)
	result, err := s.supervisor.Run(r.Context(), actx, sink)
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Text != "" {
		convo.Append(llm.RoleAssistant, result.Text)
	}
	if s.summarizer != nil {
		if err := s.summarizer.Summarize(r.Context(), convo); err != nil {
			s.logger.Warn(r.Context(), "conversation summarisation failed", "conversationId", req.ConversationID, "error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": result,
		"draft":  actx.Draft,
	})
}

// conversationFor returns the tracked Conversation for id, creating it on
// first use. Conversations live only in process memory; SPEC_FULL.md's
// persisted-conversation layout is left to a future store, the same scope
// decision already made for executions (see handleTrigger).
func (s *Server) conversationFor(id string) *conversation.Conversation {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	c, ok := s.convos[id]
	if !ok {
		c = &conversation.Conversation{ID: id}
		s.convos[id] = c
	}
	return c
}

func sinkOrDiscard(sub Subscriber) event.Sink {
	if sink, ok := sub.(event.Sink); ok {
		return sink
	}
	return discardSink{}
}

type discardSink struct{}

func (discardSink) Send(context.Context, event.Event) error { return nil }
func (discardSink) Close(context.Context) error              { return nil }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case flowerrors.Is(err, flowerrors.KindValidation):
		status = http.StatusBadRequest
	case flowerrors.Is(err, flowerrors.KindNotFound):
		status = http.StatusNotFound
	case flowerrors.Is(err, flowerrors.KindPermissionDenied):
		status = http.StatusForbidden
	case flowerrors.Is(err, flowerrors.KindRateLimited):
		status = http.StatusTooManyRequests
	case flowerrors.Is(err, flowerrors.KindTransient):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
