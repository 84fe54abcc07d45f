package intent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/intent"
	"n3n.dev/core/agent/llm"
)

func TestAnalyzeRuleFallbackChinese(t *testing.T) {
	a := intent.New(intent.Options{})
	actx := agent.NewContext("conv", "user", "flow", "幫我建立一個每天發送報表的流程", nil, nil, 0)
	in, err := a.Analyze(context.Background(), actx)
	require.NoError(t, err)
	require.Equal(t, agent.IntentCreateFlow, in.Type)
	require.GreaterOrEqual(t, in.Confidence, 0.8)
}

func TestAnalyzeRuleFallbackUnknown(t *testing.T) {
	a := intent.New(intent.Options{})
	actx := agent.NewContext("conv", "user", "flow", "the weather is nice today", nil, nil, 0)
	in, err := a.Analyze(context.Background(), actx)
	require.NoError(t, err)
	require.Equal(t, agent.IntentUnknown, in.Type)
}

type fakeToolClient struct {
	toolCalls []llm.ToolCall
	err       error
}

func (f *fakeToolClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{ToolCalls: f.toolCalls}, nil
}

func (f *fakeToolClient) Stream(context.Context, llm.Request) (llm.Streamer, error) {
	return nil, nil
}

func TestAnalyzeLLMPath(t *testing.T) {
	fake := &fakeToolClient{toolCalls: []llm.ToolCall{{
		Name: "classify_intent",
		Arguments: map[string]any{
			"type":          "ADD_NODE",
			"confidence":    0.95,
			"understanding": "user wants to add a node",
			"entities":      map[string]any{"nodeType": "httpRequest"},
		},
	}}}
	a := intent.New(intent.Options{Client: fake})
	actx := agent.NewContext("conv", "user", "flow", "add an http request node", nil, nil, 0)
	in, err := a.Analyze(context.Background(), actx)
	require.NoError(t, err)
	require.Equal(t, agent.IntentAddNode, in.Type)
	require.InDelta(t, 0.95, in.Confidence, 0.0001)
}

func TestAnalyzeLLMFailureFallsBackToRules(t *testing.T) {
	fake := &fakeToolClient{err: context.DeadlineExceeded}
	a := intent.New(intent.Options{Client: fake})
	actx := agent.NewContext("conv", "user", "flow", "remove node", nil, nil, 0)
	in, err := a.Analyze(context.Background(), actx)
	require.NoError(t, err)
	require.Equal(t, agent.IntentRemoveNode, in.Type)
}
