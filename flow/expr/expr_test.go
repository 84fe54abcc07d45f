package expr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/expr"
)

func baseCtx() expr.Context {
	return expr.Context{
		JSON: map[string]any{"user": map[string]any{"name": "ada"}},
		Node: map[flow.Ident]map[string]any{
			"fetch": {"status": float64(200)},
		},
		Env:         map[string]string{"API_KEY": "secret"},
		ExecutionID: "exec-1",
		WorkflowID:  "flow-1",
		Now:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEvaluateValue_AllSixForms(t *testing.T) {
	e := expr.New()
	ctx := baseCtx()

	v, err := e.EvaluateValue("$json", ctx)
	require.NoError(t, err)
	assert.Equal(t, ctx.JSON, v)

	v, err = e.EvaluateValue("$json.user.name", ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", v)

	v, err = e.EvaluateValue(`$node["fetch"].json`, ctx)
	require.NoError(t, err)
	assert.Equal(t, ctx.Node["fetch"], v)

	v, err = e.EvaluateValue(`$node["fetch"].json.status`, ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(200), v)

	v, err = e.EvaluateValue("$env.API_KEY", ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", v)

	v, err = e.EvaluateValue("$execution.id", ctx)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", v)

	v, err = e.EvaluateValue("$workflow.id", ctx)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", v)

	v, err = e.EvaluateValue("$now", ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05Z", v)
}

func TestEvaluateValue_MissResolvesEmpty(t *testing.T) {
	e := expr.New()
	ctx := baseCtx()

	v, err := e.EvaluateValue("$json.user.missing", ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = e.EvaluateValue(`$node["ghost"].json`, ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = e.EvaluateValue("$env.MISSING", ctx)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestEvaluateValue_UnrecognizedFormIsError(t *testing.T) {
	e := expr.New()
	_, err := e.EvaluateValue("$json.user.name + 1", baseCtx())
	require.Error(t, err)
}

func TestEvaluateString_Template(t *testing.T) {
	e := expr.New()
	out, err := e.EvaluateString("hello {{ $json.user.name }}, key={{ $env.API_KEY }}", baseCtx())
	require.NoError(t, err)
	assert.Equal(t, "hello ada, key=secret", out)
}

func TestEvaluateConfig_PreservesTypeForPureExpression(t *testing.T) {
	e := expr.New()
	cfg := map[string]any{
		"status": `{{ $node["fetch"].json.status }}`,
		"greeting": "hi {{ $json.user.name }}",
		"nested": map[string]any{
			"id": "{{ $execution.id }}",
		},
	}

	resolved, err := e.EvaluateConfig(cfg, baseCtx())
	require.NoError(t, err)
	assert.Equal(t, float64(200), resolved["status"])
	assert.Equal(t, "hi ada", resolved["greeting"])
	assert.Equal(t, "exec-1", resolved["nested"].(map[string]any)["id"])
}

func TestValidate_RejectsUnrecognizedForm(t *testing.T) {
	e := expr.New()
	require.NoError(t, e.Validate("{{ $json.a.b }} and {{ $now }}"))
	require.Error(t, e.Validate("{{ $json.a + $json.b }}"))
}

func TestCredentialResolver_RoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))

	token, err := expr.NewCredentialResolver(key, nil).Seal([]byte(`{"apiKey":"s3cr3t"}`))
	require.NoError(t, err)

	store := expr.MapCredentialStore{
		"c1": {ID: "c1", UserID: "u1", Token: token},
	}
	r := expr.NewCredentialResolver(key, store)

	resolved, err := r.Resolve("c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", resolved["apiKey"])
}

func TestCredentialResolver_RejectsWrongOwner(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	token, err := expr.NewCredentialResolver(key, nil).Seal([]byte(`{}`))
	require.NoError(t, err)

	store := expr.MapCredentialStore{"c1": {ID: "c1", UserID: "u1", Token: token}}
	r := expr.NewCredentialResolver(key, store)

	_, err = r.Resolve("c1", "someone-else")
	require.Error(t, err)
}

func TestCredentialResolver_RejectsRevoked(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	token, err := expr.NewCredentialResolver(key, nil).Seal([]byte(`{}`))
	require.NoError(t, err)

	store := expr.MapCredentialStore{"c1": {ID: "c1", UserID: "u1", Token: token, Revoked: true}}
	r := expr.NewCredentialResolver(key, store)

	_, err = r.Resolve("c1", "u1")
	require.Error(t, err)
}

func TestEvaluateConfig_PlainStringPassesThroughUnresolved(t *testing.T) {
	e := expr.New()
	resolved, err := e.EvaluateConfig(map[string]any{"label": "no placeholders here"}, expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", resolved["label"])
}
