package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/conversation"
	"n3n.dev/core/agent/discovery"
	"n3n.dev/core/agent/intent"
	"n3n.dev/core/agent/llm"
	"n3n.dev/core/agent/router"
	"n3n.dev/core/agent/supervisor"
	"n3n.dev/core/agent/validator"
	"n3n.dev/core/flow"
	"n3n.dev/core/flow/engine"
	"n3n.dev/core/flow/engine/inmem"
	"n3n.dev/core/flow/event/memsink"
	"n3n.dev/core/flow/handler"
	"n3n.dev/core/flow/handler/builtin"
	"n3n.dev/core/internal/httpapi"
)

// newTestServer builds a Server with no Supervisor configured, for the
// execution-lifecycle routes that don't touch the AI builder.
func newTestServer(t *testing.T) (*httpapi.Server, *inmem.Store) {
	t.Helper()
	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))

	store := inmem.New()
	sink := memsink.New()
	eng, err := engine.New(engine.Options{Handlers: reg, Store: store, Sink: sink})
	require.NoError(t, err)

	s, err := httpapi.New(httpapi.Options{Engine: eng, Store: store, Sub: sink})
	require.NoError(t, err)
	return s, store
}

func singleNodeFlow() flow.FlowVersion {
	return flow.FlowVersion{
		FlowID:  "f1",
		Version: 1,
		Definition: flow.FlowDefinition{
			Nodes: []flow.Node{
				{ID: "trigger", Type: "scheduleTrigger", Config: map[string]any{"cronExpression": "* * * * *"}},
			},
		},
	}
}

func TestHandleTriggerStartsExecution(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"flowVersion": singleNodeFlow(),
		"payload":     map[string]any{"foo": "bar"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/executions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var ex flow.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	require.Equal(t, flow.ExecutionSucceeded, ex.Status)
}

func TestHandleTriggerBadBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/executions", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetExecution(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Create(t.Context(), flow.Execution{ID: "e1", Status: flow.ExecutionRunning, NodeResults: map[flow.Ident]flow.NodeExecutionResult{}}))

	req := httptest.NewRequest(http.MethodGet, "/v1/executions/e1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var ex flow.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	require.EqualValues(t, "e1", ex.ID)
}

func TestHandleGetExecutionNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/executions/missing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancel(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Create(t.Context(), flow.Execution{ID: "e2", Status: flow.ExecutionRunning, NodeResults: map[flow.Ident]flow.NodeExecutionResult{}}))

	req := httptest.NewRequest(http.MethodPost, "/v1/executions/e2/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	ex, err := store.Get(t.Context(), "e2")
	require.NoError(t, err)
	require.Equal(t, flow.ExecutionCancelled, ex.Status)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAITurnNotConfiguredWithoutSupervisor(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"conversationId": "c1", "userId": "u1", "utterance": "send an email"})
	req := httptest.NewRequest(http.MethodPost, "/v1/ai/turns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

type fakeSummarizeClient struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSummarizeClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return llm.Response{Text: "summary"}, nil
}

func (f *fakeSummarizeClient) Stream(context.Context, llm.Request) (llm.Streamer, error) {
	return nil, nil
}

func (f *fakeSummarizeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestHandleAITurnSummarizesLongConversations(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	store := inmem.New()
	sink := memsink.New()
	eng, err := engine.New(engine.Options{Handlers: reg, Store: store, Sink: sink})
	require.NoError(t, err)

	sup, err := supervisor.New(supervisor.Options{
		Analyzer: intent.New(intent.Options{}),
		Router:   router.New(router.Options{}),
		Agents:   []agent.Agent{discovery.New(discovery.Options{}), validator.New(reg)},
	})
	require.NoError(t, err)

	fake := &fakeSummarizeClient{}
	summarizer, err := conversation.New(conversation.Options{Client: fake, Threshold: 3, RecentToKeep: 1})
	require.NoError(t, err)

	s, err := httpapi.New(httpapi.Options{Engine: eng, Store: store, Supervisor: sup, Sub: sink, Summarizer: summarizer})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		body, _ := json.Marshal(map[string]any{
			"conversationId": "c-long",
			"userId":         "u1",
			"utterance":      "help me find a node",
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/ai/turns", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Greater(t, fake.callCount(), 0)
}

func TestHandleAITurnRunsSupervisor(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	store := inmem.New()
	sink := memsink.New()
	eng, err := engine.New(engine.Options{Handlers: reg, Store: store, Sink: sink})
	require.NoError(t, err)

	sup, err := supervisor.New(supervisor.Options{
		Analyzer: intent.New(intent.Options{}),
		Router:   router.New(router.Options{}),
		Agents:   []agent.Agent{discovery.New(discovery.Options{}), validator.New(reg)},
	})
	require.NoError(t, err)

	s, err := httpapi.New(httpapi.Options{Engine: eng, Store: store, Supervisor: sup, Sub: sink})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"conversationId": "c1",
		"userId":         "u1",
		"flowId":         "f1",
		"utterance":      "help me find a node to send email",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/ai/turns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
