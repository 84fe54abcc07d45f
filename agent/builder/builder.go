// Package builder implements the Builder Agent: mutates the working flow
// draft via the add_node/remove_node/connect_nodes/configure_node tools,
// producing PendingChange records, grounded on the teacher's runtime/agent
// sub-agent Execute/ExecuteStream shape generalised to a tool-dispatch loop
// instead of a single LLM call.
package builder

import (
	"context"
	"fmt"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/stream"
	"n3n.dev/core/agent/tools"
)

// Action is one tool invocation the Builder Agent should perform, typically
// derived from the Discovery Agent's working-memory recommendations or
// directly from the user's utterance via entity extraction.
type Action struct {
	Tool   string
	Params map[string]any
}

// Agent is the Builder sub-agent.
type Agent struct {
	catalog map[string]agent.Tool
	plan    func(actx *agent.Context) []Action
}

// Options configures an Agent.
type Options struct {
	// Plan derives the tool actions to run for a turn. Defaults to
	// planFromDiscovery, which consumes the Discovery Agent's
	// "discoveryResults" working-memory entry.
	Plan func(actx *agent.Context) []Action
}

// New builds a builder Agent with the standard mutating tool catalogue.
func New(opts Options) *Agent {
	plan := opts.Plan
	if plan == nil {
		plan = planFromDiscovery
	}
	catalog := map[string]agent.Tool{}
	for _, t := range []agent.Tool{
		tools.NewAddNodeTool(),
		tools.NewRemoveNodeTool(),
		tools.NewConnectNodesTool(),
		tools.NewConfigureNodeTool(),
	} {
		catalog[t.Name()] = t
	}
	return &Agent{catalog: catalog, plan: plan}
}

func (a *Agent) ID() string              { return "builder" }
func (a *Agent) Name() string            { return "Builder Agent" }
func (a *Agent) Description() string     { return "Mutates the working flow draft via add/remove/connect/configure tools" }
func (a *Agent) Capabilities() []string   { return []string{"add_node", "remove_node", "connect_nodes", "configure_node"} }
func (a *Agent) Tools() []agent.Tool {
	out := make([]agent.Tool, 0, len(a.catalog))
	for _, t := range a.catalog {
		out = append(out, t)
	}
	return out
}

// Execute runs the plan's tool actions against the draft in order, recording
// each outcome in actx.ToolResults, then requests a validator follow-up.
func (a *Agent) Execute(ctx context.Context, actx *agent.Context) (agent.Result, error) {
	actx.EnsureDraft()
	actions := a.plan(actx)

	applied := 0
	for _, act := range actions {
		tool, ok := a.catalog[act.Tool]
		if !ok {
			continue
		}
		result, err := tool.Execute(ctx, act.Params, actx)
		if err != nil {
			return agent.Result{}, fmt.Errorf("builder: tool %q failed: %w", act.Tool, err)
		}
		actx.ToolResults = append(actx.ToolResults, result)
		if result.Success {
			applied++
		}
	}

	return agent.Result{
		Text:       fmt.Sprintf("applied %d change(s) to the working draft", applied),
		Structured: map[string]any{"appliedChanges": applied},
		NextAction: "validator",
		Done:       false,
	}, nil
}

// ExecuteStream runs Execute and streams one thinking event, then the
// structured result (or an error event).
func (a *Agent) ExecuteStream(ctx context.Context, actx *agent.Context, sink stream.Sink) (agent.Result, error) {
	sessionID := string(actx.ConversationID)
	_ = stream.Thinking(ctx, sink, sessionID, "applying changes to the working draft")
	result, err := a.Execute(ctx, actx)
	if err != nil {
		_ = stream.Error(ctx, sink, sessionID, err.Error())
		return result, err
	}
	_ = stream.Structured(ctx, sink, sessionID, result.Structured)
	return result, nil
}

// planFromDiscovery turns the Discovery Agent's nominated node types into a
// sequence of add_node actions, connecting each in the order nominated.
func planFromDiscovery(actx *agent.Context) []Action {
	raw, ok := actx.WorkingMemory["discoveryResults"].(map[string]any)
	if !ok {
		return nil
	}
	nodeTypes, _ := raw["nodeTypes"].([]string)
	if len(nodeTypes) == 0 {
		return nil
	}

	var actions []Action
	firstNewID := actx.Draft.NextNodeID + 1
	for i, nt := range nodeTypes {
		actions = append(actions, Action{Tool: "add_node", Params: map[string]any{"type": nt}})
		if i > 0 {
			from := fmt.Sprintf("node_%d", firstNewID+i-1)
			to := fmt.Sprintf("node_%d", firstNewID+i)
			actions = append(actions, Action{Tool: "connect_nodes", Params: map[string]any{"from": from, "to": to}})
		}
	}
	return actions
}
