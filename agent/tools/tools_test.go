package tools_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/tools"
	"n3n.dev/core/flow"
	"n3n.dev/core/flow/handler"
)

func newCtx() *agent.Context {
	return agent.NewContext("conv", "user", "flow", "utterance", nil, nil, 10)
}

func TestAddNodeAppendsNodeAndChange(t *testing.T) {
	actx := newCtx()
	tool := tools.NewAddNodeTool()
	res, err := tool.Execute(context.Background(), map[string]any{"type": "httpRequest", "name": "Call API"}, actx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, actx.Draft.Nodes, 1)
	require.Equal(t, "httpRequest", actx.Draft.Nodes[0].Type)
}

func TestAddNodeIdempotentReplay(t *testing.T) {
	actx := newCtx()
	tool := tools.NewAddNodeTool()
	params := map[string]any{"type": "httpRequest", "idempotencyKey": "k1"}
	res1, err := tool.Execute(context.Background(), params, actx)
	require.NoError(t, err)
	res2, err := tool.Execute(context.Background(), params, actx)
	require.NoError(t, err)
	require.Equal(t, res1.Output["nodeId"], res2.Output["nodeId"])
	require.Len(t, actx.Draft.Nodes, 1)
}

func TestRemoveNodeByLabelSubstring(t *testing.T) {
	actx := newCtx()
	add := tools.NewAddNodeTool()
	_, err := add.Execute(context.Background(), map[string]any{"type": "httpRequest", "name": "Call External API"}, actx)
	require.NoError(t, err)

	remove := tools.NewRemoveNodeTool()
	res, err := remove.Execute(context.Background(), map[string]any{"nodeLabel": "external"}, actx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, actx.Draft.Nodes)
}

func TestConnectNodesAddsEdge(t *testing.T) {
	actx := newCtx()
	add := tools.NewAddNodeTool()
	_, _ = add.Execute(context.Background(), map[string]any{"type": "scheduleTrigger", "name": "Trigger"}, actx)
	_, _ = add.Execute(context.Background(), map[string]any{"type": "httpRequest", "name": "Call"}, actx)

	connect := tools.NewConnectNodesTool()
	res, err := connect.Execute(context.Background(), map[string]any{"from": "node_1", "to": "node_2"}, actx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, actx.Draft.Edges, 1)
}

func TestConfigureNodeMergesConfig(t *testing.T) {
	actx := newCtx()
	add := tools.NewAddNodeTool()
	_, _ = add.Execute(context.Background(), map[string]any{"type": "httpRequest", "config": map[string]any{"method": "GET"}}, actx)

	configure := tools.NewConfigureNodeTool()
	res, err := configure.Execute(context.Background(), map[string]any{"nodeId": "node_1", "config": map[string]any{"url": "https://example.com"}}, actx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "https://example.com", actx.Draft.Nodes[0].Config["url"])
	require.Equal(t, "GET", actx.Draft.Nodes[0].Config["method"])
}

func TestValidateFlowDetectsMissingTriggerAndConfig(t *testing.T) {
	actx := newCtx()
	add := tools.NewAddNodeTool()
	_, _ = add.Execute(context.Background(), map[string]any{"type": "httpRequest"}, actx)

	validate := tools.NewValidateFlowTool(nil)
	res, err := validate.Execute(context.Background(), nil, actx)
	require.NoError(t, err)
	require.False(t, res.Success)
	errs, _ := res.Output["errors"].([]string)
	require.NotEmpty(t, errs)
}

func TestValidateFlowPassesOnCompleteFlow(t *testing.T) {
	actx := newCtx()
	add := tools.NewAddNodeTool()
	_, _ = add.Execute(context.Background(), map[string]any{"type": "scheduleTrigger", "config": map[string]any{"cronExpression": "0 9 * * *"}}, actx)
	_, _ = add.Execute(context.Background(), map[string]any{"type": "sendEmail", "config": map[string]any{"to": "a@example.com"}}, actx)
	connect := tools.NewConnectNodesTool()
	_, _ = connect.Execute(context.Background(), map[string]any{"from": "node_1", "to": "node_2"}, actx)

	validate := tools.NewValidateFlowTool(nil)
	res, err := validate.Execute(context.Background(), nil, actx)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestValidateFlowFlagsUnregisteredNodeType(t *testing.T) {
	actx := newCtx()
	add := tools.NewAddNodeTool()
	_, _ = add.Execute(context.Background(), map[string]any{"type": "scheduleTrigger", "config": map[string]any{"cronExpression": "0 9 * * *"}}, actx)
	_, _ = add.Execute(context.Background(), map[string]any{"type": "notInstalledPlugin"}, actx)
	connect := tools.NewConnectNodesTool()
	_, _ = connect.Execute(context.Background(), map[string]any{"from": "node_1", "to": "node_2"}, actx)

	reg := handler.NewRegistry()
	require.NoError(t, reg.Register(handler.Descriptor{Type: "scheduleTrigger", Handler: handler.HandlerFunc(func(context.Context, flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		return flow.NodeExecutionResult{State: flow.NodeStateSucceeded}, nil
	})}))

	validate := tools.NewValidateFlowTool(reg)
	res, err := validate.Execute(context.Background(), nil, actx)
	require.NoError(t, err)
	require.False(t, res.Success)
	errs, _ := res.Output["errors"].([]string)
	found := false
	for _, e := range errs {
		if strings.Contains(e, "notInstalledPlugin") {
			found = true
		}
	}
	require.True(t, found)
}
