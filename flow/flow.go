// Package flow defines the core data model shared by the DAG validator, the
// execution engine, and the container orchestrator: flows, versions,
// definitions, nodes, edges, and the records produced while a flow runs.
package flow

import "time"

// Ident is a strong type for flow-domain identifiers, following the
// convention of typing opaque string identifiers rather than passing bare
// strings between components.
type Ident string

// Flow is the top-level, user-owned container for a sequence of versions.
type Flow struct {
	ID          Ident
	OwnerID     Ident
	Name        string
	Description string
	Tags        []string
	ActiveVersion int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FlowVersion is one immutable, numbered snapshot of a Flow's definition.
type FlowVersion struct {
	FlowID     Ident
	Version    int
	Definition FlowDefinition
	CreatedBy  Ident
	CreatedAt  time.Time
}

// FlowDefinition is the DAG itself: nodes, edges, and flow-level settings.
type FlowDefinition struct {
	Nodes    []Node
	Edges    []Edge
	Settings map[string]any
}

// Node is one unit of work in a flow.
type Node struct {
	ID       Ident
	Type     string
	Name     string
	Config   map[string]any
	Disabled bool
	// PinnedData, when non-nil, replaces the handler's live output for this
	// node during execution (used for re-running downstream of a known-good
	// manual edit without re-invoking the node's side effects).
	PinnedData map[string]any
	// Timeout bounds how long the node's handler may run; a handler that
	// returns an error after the deadline is recorded as a failed result
	// whose error text starts with "TIMED_OUT".
	Timeout time.Duration
	// CredentialID, when set, names a credential the engine must resolve
	// (ownership- and revocation-checked) before invoking this node's
	// handler.
	CredentialID Ident
}

// EdgeBranch identifies which output branch of a source node an edge follows
// (e.g. an IF node's "true"/"false" outputs). Empty means the node's single,
// unconditional output.
type EdgeBranch string

// Edge is a directed connection between two nodes, optionally restricted to
// one output branch of the source node.
type Edge struct {
	From   Ident
	To     Ident
	Branch EdgeBranch
}

// NodeExecutionContext is everything a handler needs to execute one node:
// its resolved configuration, the upstream data it can read, and the
// ambient execution/workflow identifiers expression evaluation can surface.
type NodeExecutionContext struct {
	ExecutionID Ident
	FlowID      Ident
	Node        Node
	// Input is the upstream node's JSON-compatible output, keyed by upstream
	// node ID, as seen by $node["id"].json lookups.
	Input map[Ident]map[string]any
	// TriggerData is the payload that started the execution; the builtin
	// trigger handlers pass it through as their output. $json is not
	// resolved against it.
	TriggerData map[string]any
	Env         map[string]string
	StartedAt   time.Time
	// Credential is the decrypted, ownership-checked credential the engine
	// resolved for Node.CredentialID, or nil when the node declares none.
	Credential map[string]any
}

// NodeExecutionState is the lifecycle state of one node within an execution.
type NodeExecutionState string

const (
	NodeStatePending NodeExecutionState = "pending"
	NodeStateRunning NodeExecutionState = "running"
	NodeStateSucceeded NodeExecutionState = "succeeded"
	NodeStateFailed  NodeExecutionState = "failed"
	NodeStateSkipped NodeExecutionState = "skipped"
	NodeStateWaiting NodeExecutionState = "waiting"
)

// NodeExecutionResult is what a handler (or the engine, on timeout/skip)
// produces for one node within one execution.
type NodeExecutionResult struct {
	NodeID Ident
	State  NodeExecutionState
	Output map[string]any
	// Branches lists every output branch this result keeps alive. A plain
	// node leaves it empty (its single unconditional output); a switch-style
	// node can name more than one branch at once (e.g. two of three cases
	// matching), which a single EdgeBranch value cannot express.
	Branches   []EdgeBranch
	Error      *string
	StartedAt  time.Time
	FinishedAt time.Time
}

// HasBranch reports whether an edge restricted to branch should be
// considered live given r. An unrestricted edge (branch == "") is always
// live; a branch-restricted edge is live only if branch is one of r's
// Branches.
func (r NodeExecutionResult) HasBranch(branch EdgeBranch) bool {
	if branch == "" {
		return true
	}
	for _, b := range r.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// ExecutionStatus is the lifecycle state of an execution as a whole.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ResumeCondition describes what an execution is waiting for while paused at
// a node awaiting external input (e.g. a human-in-the-loop approval node).
type ResumeCondition struct {
	NodeID Ident
	Key    string
}

// Execution is one run of a specific FlowVersion.
type Execution struct {
	ID     Ident
	FlowID Ident
	// UserID is the caller that triggered this execution, carried through to
	// each node's credential resolution for ownership enforcement.
	UserID          Ident
	Version         int
	Status          ExecutionStatus
	TriggerData     map[string]any
	NodeResults     map[Ident]NodeExecutionResult
	WaitingOn       *ResumeCondition
	ConcurrencyCap  int
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// ContainerStatus is the lifecycle state of a plugin container.
type ContainerStatus string

const (
	ContainerInstalling ContainerStatus = "installing"
	ContainerRunning    ContainerStatus = "running"
	ContainerStopped    ContainerStatus = "stopped"
	ContainerFailed     ContainerStatus = "failed"
	ContainerUninstalled ContainerStatus = "uninstalled"
)

// ContainerInfo describes one installed plugin container's runtime state.
type ContainerInfo struct {
	PluginID    Ident
	Image       string
	Backend     string // "docker" | "kubernetes"
	Status      ContainerStatus
	Endpoint    string
	NodeTypes   []string
	InstalledAt time.Time
	LastHealthy *time.Time
	LastError   *string
}
