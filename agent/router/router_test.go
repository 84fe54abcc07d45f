package router_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/router"
)

func TestRouteUsesDefaultTable(t *testing.T) {
	e := router.New(router.Options{})
	actx := agent.NewContext("c", "u", "f", "add a node", nil, nil, 10)
	id, err := e.Route(agent.Intent{Type: agent.IntentAddNode}, actx)
	require.NoError(t, err)
	require.Equal(t, "builder", id)
}

func TestRouteChitchatHandledInline(t *testing.T) {
	e := router.New(router.Options{})
	actx := agent.NewContext("c", "u", "f", "hello", nil, nil, 10)
	id, err := e.Route(agent.Intent{Type: agent.IntentChitchat}, actx)
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestRouteAlreadyVisitedStops(t *testing.T) {
	e := router.New(router.Options{})
	actx := agent.NewContext("c", "u", "f", "add a node", nil, nil, 10)
	actx.Visited["builder"] = true
	_, err := e.Route(agent.Intent{Type: agent.IntentAddNode}, actx)
	require.ErrorIs(t, err, router.ErrAlreadyVisited)
}

func TestRouteMaxIterationsStops(t *testing.T) {
	e := router.New(router.Options{})
	actx := agent.NewContext("c", "u", "f", "add a node", nil, nil, 2)
	actx.IterationCount = 2
	_, err := e.Route(agent.Intent{Type: agent.IntentAddNode}, actx)
	require.ErrorIs(t, err, router.ErrMaxIterationsReached)
}

func TestShouldContinue(t *testing.T) {
	e := router.New(router.Options{})
	actx := agent.NewContext("c", "u", "f", "utterance", nil, nil, 10)
	require.True(t, e.ShouldContinue(agent.Result{NextAction: "builder"}, actx))
	require.False(t, e.ShouldContinue(agent.Result{Done: true, NextAction: "builder"}, actx))
	require.False(t, e.ShouldContinue(agent.Result{}, actx))

	actx.IterationCount = 10
	require.False(t, e.ShouldContinue(agent.Result{NextAction: "builder"}, actx))
}
