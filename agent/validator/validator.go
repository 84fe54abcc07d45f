// Package validator implements the Validator Agent: invokes the
// validate_flow tool against the working draft and reports the result,
// grounded on the same sub-agent shape as agent/discovery and agent/builder.
package validator

import (
	"context"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/stream"
	"n3n.dev/core/agent/tools"
	"n3n.dev/core/flow/handler"
)

// Agent is the Validator sub-agent.
type Agent struct {
	tool agent.Tool
}

// New builds a validator Agent whose validate_flow tool checks node types
// against registry.
func New(registry *handler.Registry) *Agent {
	return &Agent{tool: tools.NewValidateFlowTool(registry)}
}

func (a *Agent) ID() string             { return "validator" }
func (a *Agent) Name() string           { return "Validator Agent" }
func (a *Agent) Description() string    { return "Validates the working flow draft via validate_flow" }
func (a *Agent) Capabilities() []string  { return []string{"validate_flow"} }
func (a *Agent) Tools() []agent.Tool     { return []agent.Tool{a.tool} }

// Execute runs validate_flow against actx.Draft and returns its verdict. The
// turn always finalizes after validation: there is no further sub-agent to
// route to.
func (a *Agent) Execute(ctx context.Context, actx *agent.Context) (agent.Result, error) {
	result, err := a.tool.Execute(ctx, nil, actx)
	if err != nil {
		return agent.Result{}, err
	}
	actx.ToolResults = append(actx.ToolResults, result)

	text := "the flow looks valid"
	if !result.Success {
		text = "validation found issues with the draft"
	}
	return agent.Result{
		Text:       text,
		Structured: result.Output,
		Done:       true,
	}, nil
}

// ExecuteStream runs Execute and streams its verdict as a structured event.
func (a *Agent) ExecuteStream(ctx context.Context, actx *agent.Context, sink stream.Sink) (agent.Result, error) {
	sessionID := string(actx.ConversationID)
	_ = stream.Thinking(ctx, sink, sessionID, "validating the working draft")
	result, err := a.Execute(ctx, actx)
	if err != nil {
		_ = stream.Error(ctx, sink, sessionID, err.Error())
		return result, err
	}
	_ = stream.Structured(ctx, sink, sessionID, result.Structured)
	return result, nil
}
