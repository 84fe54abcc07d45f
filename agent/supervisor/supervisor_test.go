package supervisor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/builder"
	"n3n.dev/core/agent/discovery"
	"n3n.dev/core/agent/intent"
	"n3n.dev/core/agent/router"
	"n3n.dev/core/agent/supervisor"
	"n3n.dev/core/agent/validator"
	"n3n.dev/core/flow/event/memsink"
	"n3n.dev/core/flow/handler"
)

func TestSupervisorCreateFlowEndToEnd(t *testing.T) {
	s, err := supervisor.New(supervisor.Options{
		Analyzer: intent.New(intent.Options{}),
		Router:   router.New(router.Options{}),
		Agents: []agent.Agent{
			discovery.New(discovery.Options{}),
			builder.New(builder.Options{}),
			validator.New(handler.NewRegistry()),
		},
	})
	require.NoError(t, err)

	actx := agent.NewContext("conv-1", "user-1", "flow-1", "幫我建立一個每天發送報表的流程", nil, nil, 10)
	sink := memsink.New()

	result, err := s.Run(context.Background(), actx, sink)
	require.NoError(t, err)
	require.True(t, result.Done)
	require.NotNil(t, actx.Draft)
	require.NotEmpty(t, actx.Draft.Nodes)
	require.True(t, actx.Visited["discovery"])
	require.True(t, actx.Visited["builder"])
	require.True(t, actx.Visited["validator"])
}

func TestSupervisorChitchatSkipsSubAgents(t *testing.T) {
	s, err := supervisor.New(supervisor.Options{
		Analyzer: intent.New(intent.Options{}),
		Router:   router.New(router.Options{}),
		Agents: []agent.Agent{
			discovery.New(discovery.Options{}),
			builder.New(builder.Options{}),
			validator.New(handler.NewRegistry()),
		},
	})
	require.NoError(t, err)

	actx := agent.NewContext("conv-1", "user-1", "flow-1", "hello there", nil, nil, 10)
	sink := memsink.New()

	_, err = s.Run(context.Background(), actx, sink)
	require.NoError(t, err)
	require.Empty(t, actx.Visited)
}
