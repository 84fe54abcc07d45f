package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/handler"
)

func echoHandler() handler.HandlerFunc {
	return func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		return flow.NodeExecutionResult{NodeID: nctx.Node.ID, State: flow.NodeStateSucceeded}, nil
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := handler.NewRegistry()
	require.NoError(t, r.Register(handler.Descriptor{Type: "http.request", Handler: echoHandler()}))
	err := r.Register(handler.Descriptor{Type: "http.request", Handler: echoHandler()})
	require.Error(t, err)
}

func TestValidateConfig_SchemaEnforced(t *testing.T) {
	r := handler.NewRegistry()
	schema := []byte(`{
		"type": "object",
		"required": ["url"],
		"properties": {"url": {"type": "string"}}
	}`)
	require.NoError(t, r.Register(handler.Descriptor{
		Type:         "http.request",
		ConfigSchema: schema,
		Handler:      echoHandler(),
	}))

	require.NoError(t, r.ValidateConfig("http.request", map[string]any{"url": "https://example.com"}))
	require.Error(t, r.ValidateConfig("http.request", map[string]any{}))
}

func TestLookup_UnknownType(t *testing.T) {
	r := handler.NewRegistry()
	_, err := r.Lookup("nope")
	require.Error(t, err)
}

func TestExecute_Delegates(t *testing.T) {
	r := handler.NewRegistry()
	require.NoError(t, r.Register(handler.Descriptor{Type: "noop", Handler: echoHandler()}))
	d, err := r.Lookup("noop")
	require.NoError(t, err)

	res, err := d.Handler.Execute(context.Background(), flow.NodeExecutionContext{Node: flow.Node{ID: "n1"}})
	require.NoError(t, err)
	assert.Equal(t, flow.NodeStateSucceeded, res.State)
}
