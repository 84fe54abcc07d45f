package tools

import (
	"context"
	"fmt"
	"time"

	"n3n.dev/core/agent"
	"n3n.dev/core/flow"
)

var configureNodeSchema = []byte(`{
  "type": "object",
  "properties": {
    "nodeId": {"type": "string"},
    "config": {"type": "object"},
    "idempotencyKey": {"type": "string"}
  },
  "required": ["nodeId", "config"]
}`)

// ConfigureNodeTool merges new configuration values into an existing node in
// the working draft.
type ConfigureNodeTool struct{}

// NewConfigureNodeTool builds a ConfigureNodeTool.
func NewConfigureNodeTool() *ConfigureNodeTool { return &ConfigureNodeTool{} }

func (t *ConfigureNodeTool) Name() string              { return "configure_node" }
func (t *ConfigureNodeTool) Description() string       { return "Merges configuration values into an existing node" }
func (t *ConfigureNodeTool) ParameterSchema() []byte    { return configureNodeSchema }
func (t *ConfigureNodeTool) RequiresConfirmation() bool { return true }

func (t *ConfigureNodeTool) Execute(_ context.Context, params map[string]any, actx *agent.Context) (agent.ToolResult, error) {
	key := stringParam(params, idempotencyKeyParam)
	if cached, ok := findCached(actx, t.Name(), key); ok {
		return cached, nil
	}

	nodeID, err := requireString(params, "nodeId")
	if err != nil {
		return agent.ToolResult{Tool: t.Name(), Success: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	updates := mapParam(params, "config")

	actx.EnsureDraft()
	idx := -1
	for i, n := range actx.Draft.Nodes {
		if string(n.ID) == nodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		err := fmt.Errorf("tools: no node with id %q", nodeID)
		return agent.ToolResult{Tool: t.Name(), Success: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}

	before := cloneConfig(actx.Draft.Nodes[idx].Config)
	merged := cloneConfig(actx.Draft.Nodes[idx].Config)
	for k, v := range updates {
		merged[k] = v
	}
	actx.Draft.Nodes[idx].Config = merged

	change := agent.PendingChange{
		ID:          flow.Ident(nodeID),
		Kind:        agent.ChangeModifyNode,
		Description: "configure node " + nodeID,
		Before:      map[string]any{"config": before},
		After:       map[string]any{"config": merged},
	}
	actx.WorkingMemory = putPendingChange(actx.WorkingMemory, change)

	output := map[string]any{"nodeId": nodeID, "config": merged}
	if key != "" {
		output[idempotencyKeyParam] = key
	}
	return agent.ToolResult{Tool: t.Name(), Success: true, Output: output, Timestamp: time.Now()}, nil
}

func cloneConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
