package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"n3n.dev/core/agent"
	"n3n.dev/core/flow"
	"n3n.dev/core/flow/dag"
	"n3n.dev/core/flow/handler"
)

// requiredConfigKeys lists the config keys each node type must have set for
// validate_flow to consider it complete, e.g. an httpRequest node is
// pointless without a url.
var requiredConfigKeys = map[string][]string{
	"httpRequest":     {"url"},
	"scheduleTrigger": {"cronExpression"},
	"sendEmail":       {"to"},
	"webhookTrigger":  {"path"},
}

// validateFlowSchema is the JSON-Schema describing validate_flow's
// parameters: none, it always validates actx.Draft.
var validateFlowSchema = []byte(`{"type": "object", "properties": {}}`)

// ValidateFlowTool checks a WorkingFlowDraft for structural and semantic
// problems: duplicate/dangling references and cycles (delegated to
// flow/dag.Build), unregistered node types (checked against registry),
// absence of a trigger node, orphaned nodes, and missing required per-type
// configuration.
type ValidateFlowTool struct {
	registry *handler.Registry
}

// NewValidateFlowTool builds a ValidateFlowTool that checks node types
// against registry, so validate_flow can tell an installed node type from one
// the engine could never schedule. A nil registry skips that check.
func NewValidateFlowTool(registry *handler.Registry) *ValidateFlowTool {
	return &ValidateFlowTool{registry: registry}
}

func (t *ValidateFlowTool) Name() string                 { return "validate_flow" }
func (t *ValidateFlowTool) Description() string          { return "Validates the working flow draft for structural and configuration errors" }
func (t *ValidateFlowTool) ParameterSchema() []byte       { return validateFlowSchema }
func (t *ValidateFlowTool) RequiresConfirmation() bool    { return false }

// Execute validates actx.Draft and returns the list of problems found (empty
// when the draft is valid) in the result's Output under "errors".
func (t *ValidateFlowTool) Execute(_ context.Context, _ map[string]any, actx *agent.Context) (agent.ToolResult, error) {
	started := time.Now()
	actx.EnsureDraft()
	draft := actx.Draft

	var problems []string

	for _, n := range draft.Nodes {
		if strings.TrimSpace(n.Type) == "" {
			problems = append(problems, fmt.Sprintf("node %q has no type", n.ID))
			continue
		}
		for _, key := range requiredConfigKeys[n.Type] {
			if _, ok := n.Config[key]; !ok {
				problems = append(problems, fmt.Sprintf("node %q (%s) is missing required config %q", n.ID, n.Type, key))
			}
		}
	}

	if !hasTrigger(draft.Nodes) {
		problems = append(problems, "flow has no trigger node")
	}

	if len(draft.Nodes) > 1 {
		for _, id := range orphanNodes(draft.Nodes, draft.Edges) {
			problems = append(problems, fmt.Sprintf("node %q is not connected to any other node", id))
		}
	}

	// dag.Parse covers both the structural errors flow/dag.Build rejects with
	// (duplicate IDs, dangling edges, cycles, an empty node list) and, when a
	// registry is configured, the non-fatal warning for an unregistered node
	// type; the missing-type case is already covered above.
	parsed := dag.Parse(flow.FlowDefinition{Nodes: draft.Nodes, Edges: draft.Edges}, t.registry)
	problems = append(problems, parsed.Errors...)
	for _, w := range parsed.Warnings {
		if strings.Contains(w, "has unknown type") {
			problems = append(problems, w)
		}
	}

	result := agent.ToolResult{
		Tool:      t.Name(),
		Success:   len(problems) == 0,
		Output:    map[string]any{"errors": problems, "valid": len(problems) == 0},
		Timestamp: started,
	}
	return result, nil
}

func hasTrigger(nodes []flow.Node) bool {
	for _, n := range nodes {
		if strings.HasSuffix(n.Type, "Trigger") {
			return true
		}
	}
	return false
}

// orphanNodes returns the IDs of nodes with neither an incoming nor an
// outgoing edge, in a multi-node draft.
func orphanNodes(nodes []flow.Node, edges []flow.Edge) []flow.Ident {
	connected := make(map[flow.Ident]bool, len(nodes))
	for _, e := range edges {
		connected[e.From] = true
		connected[e.To] = true
	}
	var out []flow.Ident
	for _, n := range nodes {
		if !connected[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
