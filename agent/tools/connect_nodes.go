package tools

import (
	"context"
	"time"

	"n3n.dev/core/agent"
	"n3n.dev/core/flow"
)

var connectNodesSchema = []byte(`{
  "type": "object",
  "properties": {
    "from": {"type": "string"},
    "to": {"type": "string"},
    "branch": {"type": "string"},
    "idempotencyKey": {"type": "string"}
  },
  "required": ["from", "to"]
}`)

// ConnectNodesTool adds a directed edge between two existing nodes in the
// working draft, optionally restricted to one output branch of the source.
type ConnectNodesTool struct{}

// NewConnectNodesTool builds a ConnectNodesTool.
func NewConnectNodesTool() *ConnectNodesTool { return &ConnectNodesTool{} }

func (t *ConnectNodesTool) Name() string              { return "connect_nodes" }
func (t *ConnectNodesTool) Description() string       { return "Connects two nodes in the working flow draft with a directed edge" }
func (t *ConnectNodesTool) ParameterSchema() []byte    { return connectNodesSchema }
func (t *ConnectNodesTool) RequiresConfirmation() bool { return true }

func (t *ConnectNodesTool) Execute(_ context.Context, params map[string]any, actx *agent.Context) (agent.ToolResult, error) {
	key := stringParam(params, idempotencyKeyParam)
	if cached, ok := findCached(actx, t.Name(), key); ok {
		return cached, nil
	}

	from, err := requireString(params, "from")
	if err != nil {
		return agent.ToolResult{Tool: t.Name(), Success: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	to, err := requireString(params, "to")
	if err != nil {
		return agent.ToolResult{Tool: t.Name(), Success: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	branch := flow.EdgeBranch(stringParam(params, "branch"))

	actx.EnsureDraft()
	edge := flow.Edge{From: flow.Ident(from), To: flow.Ident(to), Branch: branch}
	actx.Draft.Edges = append(actx.Draft.Edges, edge)

	change := agent.PendingChange{
		Kind:        agent.ChangeConnectNodes,
		Description: "connect " + from + " -> " + to,
		After:       map[string]any{"from": from, "to": to, "branch": string(branch)},
	}
	actx.WorkingMemory = putPendingChange(actx.WorkingMemory, change)

	output := map[string]any{"from": from, "to": to}
	if key != "" {
		output[idempotencyKeyParam] = key
	}
	return agent.ToolResult{Tool: t.Name(), Success: true, Output: output, Timestamp: time.Now()}, nil
}
