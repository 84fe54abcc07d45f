package builtin_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/handler"
	"n3n.dev/core/flow/handler/builtin"
)

func TestRegisterAddsAllBuiltinTypes(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))

	for _, typ := range []string{"scheduleTrigger", "webhookTrigger", "httpRequest", "sendEmail"} {
		_, err := reg.Lookup(typ)
		require.NoError(t, err, typ)
	}
}

func TestHTTPRequestExtractsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"id":42}}`))
	}))
	defer srv.Close()

	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	d, err := reg.Lookup("httpRequest")
	require.NoError(t, err)

	result, err := d.Handler.Execute(context.Background(), flow.NodeExecutionContext{
		Node: flow.Node{
			ID:   "n1",
			Type: "httpRequest",
			Config: map[string]any{
				"url":     srv.URL,
				"extract": map[string]any{"id": "result.id"},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, flow.NodeStateSucceeded, result.State)
	require.EqualValues(t, 42, result.Output["id"])
}

func TestHTTPRequestSendsJSONBodyFromBodyFields(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	d, err := reg.Lookup("httpRequest")
	require.NoError(t, err)

	_, err = d.Handler.Execute(context.Background(), flow.NodeExecutionContext{
		Node: flow.Node{
			ID:   "n1",
			Type: "httpRequest",
			Config: map[string]any{
				"url":        srv.URL,
				"method":     http.MethodPost,
				"bodyFields": map[string]any{"user.name": "ada", "user.id": float64(7)},
			},
		},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"user":{"name":"ada","id":7}}`, string(received))
}

func TestHTTPRequestMissingURLFails(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	d, err := reg.Lookup("httpRequest")
	require.NoError(t, err)

	result, err := d.Handler.Execute(context.Background(), flow.NodeExecutionContext{
		Node: flow.Node{ID: "n1", Type: "httpRequest", Config: map[string]any{}},
	})
	require.Error(t, err)
	require.Equal(t, flow.NodeStateFailed, result.State)
}

func TestScheduleTriggerPassesThroughTriggerData(t *testing.T) {
	reg := handler.NewRegistry()
	require.NoError(t, builtin.Register(reg))
	d, err := reg.Lookup("scheduleTrigger")
	require.NoError(t, err)

	result, err := d.Handler.Execute(context.Background(), flow.NodeExecutionContext{
		Node:        flow.Node{ID: "n1", Type: "scheduleTrigger"},
		TriggerData: map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)
	require.Equal(t, flow.NodeStateSucceeded, result.State)
	require.Equal(t, "bar", result.Output["foo"])
}
