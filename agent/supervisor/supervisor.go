// Package supervisor implements the AI Multi-Agent Flow Builder's top-level
// loop: analyse intent, route to a sub-agent, apply it, decide whether to
// continue, and finalise with a streamed structured update_flow event,
// grounded on the teacher's top-level agent run loop (runtime/agent +
// runtime/agent/planner).
package supervisor

import (
	"context"
	"errors"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/intent"
	"n3n.dev/core/agent/router"
	"n3n.dev/core/agent/stream"
)

// Supervisor runs one AI turn end to end: IntentAnalyzer -> RouterEngine ->
// sub-agent, looping while RouterEngine.ShouldContinue says to.
type Supervisor struct {
	analyzer *intent.Analyzer
	router   *router.Engine
	agents   map[string]agent.Agent
}

// Options configures a Supervisor.
type Options struct {
	Analyzer *intent.Analyzer
	Router   *router.Engine
	// Agents is the sub-agent catalogue, keyed by agent.Agent.ID().
	Agents []agent.Agent
}

// New builds a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Analyzer == nil {
		return nil, errors.New("supervisor: analyzer is required")
	}
	r := opts.Router
	if r == nil {
		r = router.New(router.Options{})
	}
	catalog := make(map[string]agent.Agent, len(opts.Agents))
	for _, a := range opts.Agents {
		catalog[a.ID()] = a
	}
	return &Supervisor{analyzer: opts.Analyzer, router: r, agents: catalog}, nil
}

// Run executes one AI turn for actx, streaming sub-agent progress through
// sink and finishing with a structured update_flow event followed by done.
func (s *Supervisor) Run(ctx context.Context, actx *agent.Context, sink stream.Sink) (agent.Result, error) {
	sessionID := string(actx.ConversationID)

	in, err := s.analyzer.Analyze(ctx, actx)
	if err != nil {
		_ = stream.Error(ctx, sink, sessionID, err.Error())
		return agent.Result{}, err
	}
	actx.Intent = &in

	if agent.BuilderIntents[in.Type] {
		actx.EnsureDraft()
	}

	result, err := s.loop(ctx, actx, sink)
	if err != nil {
		_ = stream.Error(ctx, sink, sessionID, err.Error())
		return result, err
	}

	if actx.Draft != nil {
		_ = stream.Structured(ctx, sink, sessionID, map[string]any{
			"action":         "update_flow",
			"flowDefinition": map[string]any{"nodes": actx.Draft.Nodes, "edges": actx.Draft.Edges},
		})
	}
	_ = stream.Done(ctx, sink, sessionID)
	return result, nil
}

// loop routes the initial sub-agent from the turn's intent, then follows each
// sub-agent's requested NextAction while RouterEngine.ShouldContinue allows
// it, the iteration cap has budget, and the next target has not already run
// this turn.
func (s *Supervisor) loop(ctx context.Context, actx *agent.Context, sink stream.Sink) (agent.Result, error) {
	var last agent.Result

	agentID, err := s.router.Route(*actx.Intent, actx)
	if err != nil {
		if errors.Is(err, router.ErrMaxIterationsReached) || errors.Is(err, router.ErrAlreadyVisited) {
			return last, nil
		}
		return last, err
	}

	for agentID != "" {
		a, ok := s.agents[agentID]
		if !ok {
			return last, nil
		}

		actx.Visited[agentID] = true
		actx.IterationCount++

		result, err := a.ExecuteStream(ctx, actx, sink)
		if err != nil {
			return last, err
		}
		last = result

		if !s.router.ShouldContinue(result, actx) {
			return last, nil
		}
		if actx.Visited[result.NextAction] {
			return last, nil
		}
		agentID = result.NextAction
	}
	return last, nil
}
