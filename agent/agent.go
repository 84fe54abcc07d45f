// Package agent defines the AI Multi-Agent Flow Builder's core contracts:
// the Agent interface, the per-turn AgentContext, and the Intent/
// WorkingFlowDraft/PendingChange types the sub-agents operate on.
// Generalised from the teacher's runtime/agent.Client contract.
package agent

import (
	"context"
	"time"

	"n3n.dev/core/agent/stream"
	"n3n.dev/core/flow"
)

// IntentType classifies a user utterance.
type IntentType string

const (
	IntentSearchNode      IntentType = "SEARCH_NODE"
	IntentGetDocumentation IntentType = "GET_DOCUMENTATION"
	IntentFindExamples     IntentType = "FIND_EXAMPLES"
	IntentCreateFlow       IntentType = "CREATE_FLOW"
	IntentAddNode          IntentType = "ADD_NODE"
	IntentRemoveNode        IntentType = "REMOVE_NODE"
	IntentConnectNodes       IntentType = "CONNECT_NODES"
	IntentConfigureNode      IntentType = "CONFIGURE_NODE"
	IntentModifyFlow         IntentType = "MODIFY_FLOW"
	IntentOptimizeFlow       IntentType = "OPTIMIZE_FLOW"
	IntentExplain            IntentType = "EXPLAIN"
	IntentClarify            IntentType = "CLARIFY"
	IntentConfirm            IntentType = "CONFIRM"
	IntentCompound           IntentType = "COMPOUND"
	IntentChitchat           IntentType = "CHITCHAT"
	IntentUnknown            IntentType = "UNKNOWN"
)

// BuilderIntents are the intents that mutate a flow and therefore require a
// WorkingFlowDraft to exist before routing.
var BuilderIntents = map[IntentType]bool{
	IntentCreateFlow:    true,
	IntentAddNode:       true,
	IntentRemoveNode:    true,
	IntentConnectNodes:  true,
	IntentConfigureNode: true,
	IntentModifyFlow:    true,
	IntentOptimizeFlow:  true,
}

// Intent is the Intent Analyzer's structured classification of one user
// utterance.
type Intent struct {
	Type          IntentType
	Confidence    float64
	Understanding string
	Entities      map[string]any
}

// PendingChangeKind enumerates the kinds of mutation a PendingChange can
// describe.
type PendingChangeKind string

const (
	ChangeAddNode      PendingChangeKind = "add_node"
	ChangeRemoveNode   PendingChangeKind = "remove_node"
	ChangeModifyNode   PendingChangeKind = "modify_node"
	ChangeConnectNodes PendingChangeKind = "connect_nodes"
)

// PendingChange is a proposed mutation surfaced to the user for acceptance.
// The AI builder never applies a PendingChange itself; it only records and
// surfaces it.
type PendingChange struct {
	ID          flow.Ident
	Kind        PendingChangeKind
	Description string
	Before      map[string]any
	After       map[string]any
	Applied     bool
}

// WorkingFlowDraft is the mutable graph under construction during one AI
// turn. It has the same shape as flow.FlowDefinition plus a monotonic
// counter used to mint node ids.
type WorkingFlowDraft struct {
	Nodes      []flow.Node
	Edges      []flow.Edge
	NextNodeID int
}

// NewNodeID mints the next "node_N" identifier and advances the counter.
func (d *WorkingFlowDraft) NewNodeID() flow.Ident {
	d.NextNodeID++
	return flow.Ident("node_" + itoa(d.NextNodeID))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Context is one AI turn: the conversation and user this turn belongs to,
// the analysed intent, the draft under construction, and the bookkeeping the
// Supervisor uses to bound routing (visited agents, iteration cap).
type Context struct {
	ConversationID flow.Ident
	UserID         flow.Ident
	FlowID         flow.Ident
	Utterance      string

	Intent *Intent
	Draft  *WorkingFlowDraft

	History      []ConversationMessage
	WorkingMemory map[string]any
	ToolResults   []ToolResult

	Visited         map[string]bool
	IterationCount  int
	MaxIterations   int

	// CurrentNodes/CurrentEdges snapshot the persisted flow definition at the
	// start of the turn, used to seed a new WorkingFlowDraft.
	CurrentNodes []flow.Node
	CurrentEdges []flow.Edge

	Sink stream.Sink
}

// ConversationMessage is one turn of conversation history.
type ConversationMessage struct {
	Role      string // "user" | "assistant" | "system"
	Content   string
	Timestamp time.Time
}

// ToolResult records the outcome of one tool invocation within a turn, kept
// in AgentContext.ToolResults for downstream agents to inspect.
type ToolResult struct {
	Tool      string
	Success   bool
	Output    map[string]any
	Error     string
	Timestamp time.Time
}

// NewContext seeds a Context from the current persisted flow, initialising
// the bookkeeping maps the Supervisor relies on.
func NewContext(conversationID, userID, flowID flow.Ident, utterance string, currentNodes []flow.Node, currentEdges []flow.Edge, maxIterations int) *Context {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &Context{
		ConversationID: conversationID,
		UserID:         userID,
		FlowID:         flowID,
		Utterance:      utterance,
		WorkingMemory:  make(map[string]any),
		Visited:        make(map[string]bool),
		MaxIterations:  maxIterations,
		CurrentNodes:   currentNodes,
		CurrentEdges:   currentEdges,
	}
}

// EnsureDraft initialises ctx.Draft from the current flow snapshot if one
// does not already exist.
func (c *Context) EnsureDraft() {
	if c.Draft != nil {
		return
	}
	nodes := make([]flow.Node, len(c.CurrentNodes))
	copy(nodes, c.CurrentNodes)
	edges := make([]flow.Edge, len(c.CurrentEdges))
	copy(edges, c.CurrentEdges)
	c.Draft = &WorkingFlowDraft{Nodes: nodes, Edges: edges, NextNodeID: len(nodes)}
}

// Result is what an Agent.Execute call returns to the Supervisor.
type Result struct {
	Text       string
	Structured map[string]any
	// NextAction, when non-empty, names the agent the Supervisor should route
	// to next within the same turn (e.g. the Discovery Agent requesting
	// "builder" follow-up).
	NextAction string
	Done       bool
}

// Agent is one strategy in the sub-agent catalogue.
type Agent interface {
	ID() string
	Name() string
	Description() string
	Capabilities() []string
	Tools() []Tool
	Execute(ctx context.Context, actx *Context) (Result, error)
	ExecuteStream(ctx context.Context, actx *Context, sink stream.Sink) (Result, error)
}

// Tool is the uniform contract every builder tool implements.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() []byte
	RequiresConfirmation() bool
	Execute(ctx context.Context, params map[string]any, actx *Context) (ToolResult, error)
}
