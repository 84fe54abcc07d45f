package tools

import (
	"context"
	"time"

	"n3n.dev/core/agent"
	"n3n.dev/core/flow"
)

var addNodeSchema = []byte(`{
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "name": {"type": "string"},
    "config": {"type": "object"},
    "idempotencyKey": {"type": "string"}
  },
  "required": ["type"]
}`)

// AddNodeTool appends a new node to the working draft and records a
// PendingChange describing the addition.
type AddNodeTool struct{}

// NewAddNodeTool builds an AddNodeTool.
func NewAddNodeTool() *AddNodeTool { return &AddNodeTool{} }

func (t *AddNodeTool) Name() string              { return "add_node" }
func (t *AddNodeTool) Description() string       { return "Adds a new node to the working flow draft" }
func (t *AddNodeTool) ParameterSchema() []byte    { return addNodeSchema }
func (t *AddNodeTool) RequiresConfirmation() bool { return true }

func (t *AddNodeTool) Execute(_ context.Context, params map[string]any, actx *agent.Context) (agent.ToolResult, error) {
	key := stringParam(params, idempotencyKeyParam)
	if cached, ok := findCached(actx, t.Name(), key); ok {
		return cached, nil
	}

	nodeType, err := requireString(params, "type")
	if err != nil {
		return agent.ToolResult{Tool: t.Name(), Success: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	name := stringParam(params, "name")
	if name == "" {
		name = nodeType
	}
	config := mapParam(params, "config")

	actx.EnsureDraft()
	id := actx.Draft.NewNodeID()
	node := flow.Node{ID: id, Type: nodeType, Name: name, Config: config}
	actx.Draft.Nodes = append(actx.Draft.Nodes, node)

	change := agent.PendingChange{
		ID:          id,
		Kind:        agent.ChangeAddNode,
		Description: "add node " + name + " (" + nodeType + ")",
		After:       map[string]any{"id": string(id), "type": nodeType, "name": name, "config": config},
	}
	actx.WorkingMemory = putPendingChange(actx.WorkingMemory, change)

	output := map[string]any{"nodeId": string(id), "type": nodeType, "name": name}
	if key != "" {
		output[idempotencyKeyParam] = key
	}
	return agent.ToolResult{Tool: t.Name(), Success: true, Output: output, Timestamp: time.Now()}, nil
}

// putPendingChange appends change to the "pendingChanges" slice in working
// memory, creating it on first use.
func putPendingChange(mem map[string]any, change agent.PendingChange) map[string]any {
	if mem == nil {
		mem = make(map[string]any)
	}
	existing, _ := mem["pendingChanges"].([]agent.PendingChange)
	mem["pendingChanges"] = append(existing, change)
	return mem
}
