// Package draft implements the Working Flow Draft's bounded undo history.
// Grounded on the teacher's runtime/agent/run/snapshot.go snapshot-before-
// mutate idiom, generalised to the flow builder's draft shape.
package draft

import (
	"n3n.dev/core/agent"
	"n3n.dev/core/flow"
)

// DefaultCapacity bounds how many prior snapshots History retains; older
// snapshots are dropped once the ring fills.
const DefaultCapacity = 20

// History is a bounded ring buffer of prior WorkingFlowDraft snapshots,
// supporting undo within one AI turn. Not safe for concurrent use — a
// WorkingFlowDraft is owned by a single AgentContext, mutated serially
// within a turn.
type History struct {
	capacity  int
	snapshots []agent.WorkingFlowDraft
}

// NewHistory constructs a History with the given capacity. capacity <= 0
// uses DefaultCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity}
}

// Save records a snapshot of draft as the new tip, saved before the caller
// applies its next mutation. When the ring is full the oldest snapshot is
// dropped.
func (h *History) Save(draft agent.WorkingFlowDraft) {
	snap := cloneDraft(draft)
	h.snapshots = append(h.snapshots, snap)
	if len(h.snapshots) > h.capacity {
		h.snapshots = h.snapshots[len(h.snapshots)-h.capacity:]
	}
}

// CanUndo reports whether Undo has a prior snapshot to restore. The tip
// itself is undoable whenever at least one snapshot precedes it: the
// save-then-mutate order in Save means the snapshot immediately before the
// current tip always exists once any mutation has happened.
func (h *History) CanUndo() bool {
	return len(h.snapshots) >= 2
}

// Undo discards the current tip and returns the snapshot before it. Callers
// must check CanUndo first; Undo on an empty or single-entry history returns
// the zero value and false.
func (h *History) Undo() (agent.WorkingFlowDraft, bool) {
	if !h.CanUndo() {
		return agent.WorkingFlowDraft{}, false
	}
	h.snapshots = h.snapshots[:len(h.snapshots)-1]
	prev := h.snapshots[len(h.snapshots)-1]
	return cloneDraft(prev), true
}

func cloneDraft(d agent.WorkingFlowDraft) agent.WorkingFlowDraft {
	return agent.WorkingFlowDraft{
		Nodes:      append([]flow.Node(nil), d.Nodes...),
		Edges:      append([]flow.Edge(nil), d.Edges...),
		NextNodeID: d.NextNodeID,
	}
}
