// Package tools implements the BuilderAgent and ValidatorAgent's tool
// catalogue: the mutating tools that turn a PendingChange proposal into
// WorkingFlowDraft edits (add_node, remove_node, connect_nodes,
// configure_node) and the read-only validate_flow tool, all behind the
// agent.Tool contract. Idempotency handling is grounded on the teacher's
// runtime/agent/tools/idempotency.go transcript-scope concept, generalised
// from a design-time tag into a runtime check against the turn's recorded
// ToolResults.
package tools

import (
	"fmt"

	"n3n.dev/core/agent"
)

// idempotencyKeyParam is the optional parameter name every mutating tool
// accepts so a retried call (e.g. after a transient LLM/provider error) does
// not double-apply a PendingChange.
const idempotencyKeyParam = "idempotencyKey"

// findCached returns a previously recorded ToolResult for (toolName, key) if
// one succeeded earlier in this turn, so a retried call can replay its result
// instead of mutating the draft again.
func findCached(actx *agent.Context, toolName, key string) (agent.ToolResult, bool) {
	if key == "" {
		return agent.ToolResult{}, false
	}
	for _, r := range actx.ToolResults {
		if r.Tool != toolName || !r.Success {
			continue
		}
		if got, _ := r.Output[idempotencyKeyParam].(string); got == key {
			return r, true
		}
	}
	return agent.ToolResult{}, false
}

func stringParam(params map[string]any, name string) string {
	v, _ := params[name].(string)
	return v
}

func mapParam(params map[string]any, name string) map[string]any {
	v, _ := params[name].(map[string]any)
	return v
}

func requireString(params map[string]any, name string) (string, error) {
	v := stringParam(params, name)
	if v == "" {
		return "", fmt.Errorf("tools: missing required parameter %q", name)
	}
	return v, nil
}
