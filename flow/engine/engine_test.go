package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/engine"
	"n3n.dev/core/flow/engine/inmem"
	"n3n.dev/core/flow/event/memsink"
	"n3n.dev/core/flow/handler"
)

func newTestEngine(t *testing.T, registrations ...handler.Descriptor) (*engine.Engine, *memsink.Sink) {
	t.Helper()
	reg := handler.NewRegistry()
	for _, d := range registrations {
		require.NoError(t, reg.Register(d))
	}
	sink := memsink.New()
	e, err := engine.New(engine.Options{Handlers: reg, Store: inmem.New(), Sink: sink})
	require.NoError(t, err)
	return e, sink
}

func succeed(output map[string]any) handler.HandlerFunc {
	return func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		return flow.NodeExecutionResult{State: flow.NodeStateSucceeded, Output: output}, nil
	}
}

func branching(branches ...flow.EdgeBranch) handler.HandlerFunc {
	return func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		return flow.NodeExecutionResult{State: flow.NodeStateSucceeded, Branches: branches, Output: map[string]any{}}, nil
	}
}

func TestStart_LinearChainSucceeds(t *testing.T) {
	e, _ := newTestEngine(t,
		handler.Descriptor{Type: "a", Handler: succeed(map[string]any{"v": 1})},
		handler.Descriptor{Type: "b", Handler: succeed(map[string]any{"v": 2})},
	)

	def := flow.FlowDefinition{
		Nodes: []flow.Node{{ID: "n1", Type: "a"}, {ID: "n2", Type: "b"}},
		Edges: []flow.Edge{{From: "n1", To: "n2"}},
	}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, flow.ExecutionSucceeded, ex.Status)
	assert.Equal(t, flow.NodeStateSucceeded, ex.NodeResults["n1"].State)
	assert.Equal(t, flow.NodeStateSucceeded, ex.NodeResults["n2"].State)
}

func TestStart_BranchSkipsNonSelectedPath(t *testing.T) {
	e, _ := newTestEngine(t,
		handler.Descriptor{Type: "if", Handler: branching("true")},
		handler.Descriptor{Type: "a", Handler: succeed(nil)},
		handler.Descriptor{Type: "b", Handler: succeed(nil)},
	)

	def := flow.FlowDefinition{
		Nodes: []flow.Node{{ID: "cond", Type: "if"}, {ID: "onTrue", Type: "a"}, {ID: "onFalse", Type: "b"}},
		Edges: []flow.Edge{
			{From: "cond", To: "onTrue", Branch: "true"},
			{From: "cond", To: "onFalse", Branch: "false"},
		},
	}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, flow.NodeStateSucceeded, ex.NodeResults["onTrue"].State)
	assert.Equal(t, flow.NodeStateSkipped, ex.NodeResults["onFalse"].State)
}

func TestStart_MixedInboundWaitsForLiveEdge(t *testing.T) {
	// merge has two inbound edges: one on the selected branch, one on the
	// non-selected branch. Per the resolved Open Question, merge must run
	// (not skip) because at least one live inbound edge is satisfied.
	e, _ := newTestEngine(t,
		handler.Descriptor{Type: "if", Handler: branching("true")},
		handler.Descriptor{Type: "a", Handler: succeed(map[string]any{"from": "true-branch"})},
		handler.Descriptor{Type: "merge", Handler: succeed(map[string]any{"merged": true})},
	)

	def := flow.FlowDefinition{
		Nodes: []flow.Node{{ID: "cond", Type: "if"}, {ID: "onTrue", Type: "a"}, {ID: "merge", Type: "merge"}},
		Edges: []flow.Edge{
			{From: "cond", To: "onTrue", Branch: "true"},
			{From: "cond", To: "merge", Branch: "false"},
			{From: "onTrue", To: "merge"},
		},
	}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, flow.NodeStateSucceeded, ex.NodeResults["merge"].State)
}

func TestStart_MultipleLiveBranchesRunTogether(t *testing.T) {
	// router selects two of its three outgoing branches in the same result;
	// both of the matching downstream nodes must run, and the third must be
	// skipped, all in the same execution.
	e, _ := newTestEngine(t,
		handler.Descriptor{Type: "router", Handler: branching("case1", "case3")},
		handler.Descriptor{Type: "a", Handler: succeed(map[string]any{"branch": 1})},
		handler.Descriptor{Type: "b", Handler: succeed(map[string]any{"branch": 2})},
		handler.Descriptor{Type: "c", Handler: succeed(map[string]any{"branch": 3})},
	)

	def := flow.FlowDefinition{
		Nodes: []flow.Node{
			{ID: "router", Type: "router"},
			{ID: "path1", Type: "a"},
			{ID: "path2", Type: "b"},
			{ID: "path3", Type: "c"},
		},
		Edges: []flow.Edge{
			{From: "router", To: "path1", Branch: "case1"},
			{From: "router", To: "path2", Branch: "case2"},
			{From: "router", To: "path3", Branch: "case3"},
		},
	}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, flow.NodeStateSucceeded, ex.NodeResults["path1"].State)
	assert.Equal(t, flow.NodeStateSkipped, ex.NodeResults["path2"].State)
	assert.Equal(t, flow.NodeStateSucceeded, ex.NodeResults["path3"].State)
}

func TestStart_HandlerFailureFailsExecution(t *testing.T) {
	failing := handler.HandlerFunc(func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		msg := "boom"
		return flow.NodeExecutionResult{State: flow.NodeStateFailed, Error: &msg}, nil
	})
	e, _ := newTestEngine(t, handler.Descriptor{Type: "bad", Handler: failing})

	def := flow.FlowDefinition{Nodes: []flow.Node{{ID: "n1", Type: "bad"}}}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, flow.NodeStateFailed, ex.NodeResults["n1"].State)
	assert.Equal(t, flow.ExecutionFailed, ex.Status)
}

func TestResume_WaitingNodeContinuesExecution(t *testing.T) {
	paused := handler.HandlerFunc(func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		return flow.NodeExecutionResult{State: flow.NodeStateWaiting}, nil
	})
	e, _ := newTestEngine(t,
		handler.Descriptor{Type: "wait", Handler: paused},
		handler.Descriptor{Type: "after", Handler: succeed(map[string]any{"done": true})},
	)

	def := flow.FlowDefinition{
		Nodes: []flow.Node{{ID: "w", Type: "wait"}, {ID: "n2", Type: "after"}},
		Edges: []flow.Edge{{From: "w", To: "n2"}},
	}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	require.Equal(t, flow.ExecutionWaiting, ex.Status)
	require.NotNil(t, ex.WaitingOn)
	assert.Equal(t, flow.Ident("w"), ex.WaitingOn.NodeID)

	resumed, err := e.ResumeWithDefinition(context.Background(), ex.ID, def, map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, flow.ExecutionSucceeded, resumed.Status)
	assert.Equal(t, flow.NodeStateSucceeded, resumed.NodeResults["n2"].State)
}

func TestResume_TerminalExecutionRejected(t *testing.T) {
	e, _ := newTestEngine(t, handler.Descriptor{Type: "a", Handler: succeed(nil)})
	def := flow.FlowDefinition{Nodes: []flow.Node{{ID: "n1", Type: "a"}}}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)
	require.Equal(t, flow.ExecutionSucceeded, ex.Status)

	_, err = e.Resume(context.Background(), ex.ID, map[string]any{})
	require.Error(t, err)
}

func TestCancel_RunningExecution(t *testing.T) {
	pausing := handler.HandlerFunc(func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
		return flow.NodeExecutionResult{State: flow.NodeStateWaiting}, nil
	})
	e, _ := newTestEngine(t, handler.Descriptor{Type: "wait", Handler: pausing})
	def := flow.FlowDefinition{Nodes: []flow.Node{{ID: "w", Type: "wait"}}}
	ex, err := e.Start(context.Background(), flow.FlowVersion{FlowID: "f1", Version: 1, Definition: def}, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), ex.ID))
	err = e.Cancel(context.Background(), ex.ID)
	require.Error(t, err)
}
