package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"n3n.dev/core/agent"
	"n3n.dev/core/flow"
)

var removeNodeSchema = []byte(`{
  "type": "object",
  "properties": {
    "nodeId": {"type": "string"},
    "nodeLabel": {"type": "string"},
    "idempotencyKey": {"type": "string"}
  }
}`)

// RemoveNodeTool removes a node (and its incident edges) from the working
// draft, resolved by exact ID, then by case-insensitive name match, then by
// substring name match.
type RemoveNodeTool struct{}

// NewRemoveNodeTool builds a RemoveNodeTool.
func NewRemoveNodeTool() *RemoveNodeTool { return &RemoveNodeTool{} }

func (t *RemoveNodeTool) Name() string              { return "remove_node" }
func (t *RemoveNodeTool) Description() string       { return "Removes a node and its edges from the working flow draft" }
func (t *RemoveNodeTool) ParameterSchema() []byte    { return removeNodeSchema }
func (t *RemoveNodeTool) RequiresConfirmation() bool { return true }

func (t *RemoveNodeTool) Execute(_ context.Context, params map[string]any, actx *agent.Context) (agent.ToolResult, error) {
	key := stringParam(params, idempotencyKeyParam)
	if cached, ok := findCached(actx, t.Name(), key); ok {
		return cached, nil
	}

	actx.EnsureDraft()
	nodeID := flow.Ident(stringParam(params, "nodeId"))
	label := stringParam(params, "nodeLabel")

	node, ok := resolveNode(actx.Draft.Nodes, nodeID, label)
	if !ok {
		err := fmt.Errorf("tools: no node matched id %q / label %q", nodeID, label)
		return agent.ToolResult{Tool: t.Name(), Success: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}

	remainingNodes := make([]flow.Node, 0, len(actx.Draft.Nodes))
	for _, n := range actx.Draft.Nodes {
		if n.ID != node.ID {
			remainingNodes = append(remainingNodes, n)
		}
	}
	remainingEdges := make([]flow.Edge, 0, len(actx.Draft.Edges))
	for _, e := range actx.Draft.Edges {
		if e.From != node.ID && e.To != node.ID {
			remainingEdges = append(remainingEdges, e)
		}
	}
	actx.Draft.Nodes = remainingNodes
	actx.Draft.Edges = remainingEdges

	change := agent.PendingChange{
		ID:          node.ID,
		Kind:        agent.ChangeRemoveNode,
		Description: "remove node " + node.Name,
		Before:      map[string]any{"id": string(node.ID), "type": node.Type, "name": node.Name},
	}
	actx.WorkingMemory = putPendingChange(actx.WorkingMemory, change)

	output := map[string]any{"nodeId": string(node.ID)}
	if key != "" {
		output[idempotencyKeyParam] = key
	}
	return agent.ToolResult{Tool: t.Name(), Success: true, Output: output, Timestamp: time.Now()}, nil
}

// resolveNode finds a node by exact ID first, then case-insensitive name
// equality, then substring name match.
func resolveNode(nodes []flow.Node, id flow.Ident, label string) (flow.Node, bool) {
	if id != "" {
		for _, n := range nodes {
			if n.ID == id {
				return n, true
			}
		}
	}
	if label == "" {
		return flow.Node{}, false
	}
	lowerLabel := strings.ToLower(label)
	for _, n := range nodes {
		if strings.EqualFold(n.Name, label) {
			return n, true
		}
	}
	for _, n := range nodes {
		if strings.Contains(strings.ToLower(n.Name), lowerLabel) {
			return n, true
		}
	}
	return flow.Node{}, false
}
