// Package router implements RouterEngine: table-driven routing from an
// analysed Intent to a sub-agent id, generalised from the teacher's
// features/policy/basic.Engine allow/deny decision shape into an
// intent-type → agent-id lookup, plus the visited-set loop guard and
// iteration cap the supervisor loop enforces.
package router

import (
	"errors"

	"n3n.dev/core/agent"
)

// ErrMaxIterationsReached indicates the turn has used its iteration budget;
// the caller should finalize with whatever draft exists instead of routing
// further.
var ErrMaxIterationsReached = errors.New("router: max iterations reached")

// ErrAlreadyVisited indicates the routing table's target for this intent has
// already run once in this turn; the caller should finalize instead of
// looping back to it.
var ErrAlreadyVisited = errors.New("router: agent already visited this turn")

// DefaultTable is the intent-type to sub-agent-id routing table. An empty
// target string means the supervisor answers the turn directly without
// delegating to a sub-agent (e.g. chit-chat, confirmations, clarifications).
var DefaultTable = map[agent.IntentType]string{
	agent.IntentSearchNode:       "discovery",
	agent.IntentGetDocumentation: "discovery",
	agent.IntentFindExamples:     "discovery",
	agent.IntentCreateFlow:       "discovery",
	agent.IntentAddNode:          "builder",
	agent.IntentRemoveNode:       "builder",
	agent.IntentConnectNodes:     "builder",
	agent.IntentConfigureNode:    "builder",
	agent.IntentModifyFlow:       "builder",
	agent.IntentOptimizeFlow:     "builder",
	agent.IntentExplain:          "discovery",
	agent.IntentCompound:         "discovery",
	agent.IntentClarify:          "",
	agent.IntentConfirm:          "",
	agent.IntentChitchat:         "",
	agent.IntentUnknown:          "",
}

// Engine routes an Intent to a sub-agent id within the bounds of one turn.
type Engine struct {
	table map[agent.IntentType]string
}

// Options configures an Engine.
type Options struct {
	// Table overrides DefaultTable when non-nil.
	Table map[agent.IntentType]string
}

// New builds an Engine.
func New(opts Options) *Engine {
	table := opts.Table
	if table == nil {
		table = DefaultTable
	}
	return &Engine{table: table}
}

// Route resolves intent to a sub-agent id for actx, honouring the visited-set
// loop guard and the iteration cap. An empty returned agent id (with a nil
// error) means the supervisor should answer the turn directly.
func (e *Engine) Route(intent agent.Intent, actx *agent.Context) (string, error) {
	if actx.IterationCount >= actx.MaxIterations {
		return "", ErrMaxIterationsReached
	}
	agentID, ok := e.table[intent.Type]
	if !ok {
		agentID = ""
	}
	if agentID == "" {
		return "", nil
	}
	if actx.Visited[agentID] {
		return "", ErrAlreadyVisited
	}
	return agentID, nil
}

// ShouldContinue reports whether the supervisor should route again within the
// same turn after a sub-agent's Result: the sub-agent must have requested a
// specific follow-up action, declared itself not Done, and the turn must
// still have iteration budget left.
func (e *Engine) ShouldContinue(result agent.Result, actx *agent.Context) bool {
	if result.Done {
		return false
	}
	if result.NextAction == "" {
		return false
	}
	return actx.IterationCount < actx.MaxIterations
}
