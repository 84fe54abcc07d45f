// Package dag validates flow definitions as directed acyclic graphs and
// derives the scheduling metadata (topological order, dependency map, entry
// and exit points) the execution engine runs against.
package dag

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	flowerrors "n3n.dev/core/flow/errors"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/handler"
)

// Graph is the validated, schedulable form of a flow.FlowDefinition.
type Graph struct {
	Nodes map[flow.Ident]flow.Node
	// Out maps a node ID to the edges leaving it.
	Out map[flow.Ident][]flow.Edge
	// In maps a node ID to the edges entering it.
	In map[flow.Ident][]flow.Edge
	// Order is a valid topological ordering, lexicographically tie-broken on
	// node ID so the same definition always schedules identically.
	Order []flow.Ident
	// Entries are nodes with no incoming edges.
	Entries []flow.Ident
	// Exits are nodes with no outgoing edges.
	Exits []flow.Ident
}

// Dependencies returns the set of node IDs that must complete before id can
// run.
func (g *Graph) Dependencies(id flow.Ident) []flow.Ident {
	edges := g.In[id]
	deps := make([]flow.Ident, 0, len(edges))
	for _, e := range edges {
		deps = append(deps, e.From)
	}
	return deps
}

// Build validates def as a DAG and derives its scheduling metadata. It
// returns a *flowerrors.Error with Kind validation on any structural problem
// (duplicate node ID, dangling edge, cycle).
func Build(def flow.FlowDefinition) (*Graph, error) {
	if len(def.Nodes) == 0 {
		return nil, flowerrors.Validation("empty_flow", "Flow has no nodes")
	}

	g := &Graph{
		Nodes: make(map[flow.Ident]flow.Node, len(def.Nodes)),
		Out:   make(map[flow.Ident][]flow.Edge),
		In:    make(map[flow.Ident][]flow.Edge),
	}

	for _, n := range def.Nodes {
		if _, exists := g.Nodes[n.ID]; exists {
			return nil, flowerrors.Validation("duplicate_node_id", fmt.Sprintf("duplicate node id %q", n.ID))
		}
		g.Nodes[n.ID] = n
	}

	for _, e := range def.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return nil, flowerrors.Validation("dangling_edge", fmt.Sprintf("edge references unknown source node %q", e.From))
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return nil, flowerrors.Validation("dangling_edge", fmt.Sprintf("edge references unknown target node %q", e.To))
		}
		g.Out[e.From] = append(g.Out[e.From], e)
		g.In[e.To] = append(g.In[e.To], e)
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}

	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	g.Order = order

	for id := range g.Nodes {
		if len(g.In[id]) == 0 {
			g.Entries = append(g.Entries, id)
		}
		if len(g.Out[id]) == 0 {
			g.Exits = append(g.Exits, id)
		}
	}
	sort.Slice(g.Entries, func(i, j int) bool { return g.Entries[i] < g.Entries[j] })
	sort.Slice(g.Exits, func(i, j int) bool { return g.Exits[i] < g.Exits[j] })

	return g, nil
}

// color marks a node's DFS visitation state during cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// detectCycle walks the graph with a white/gray/black-coloured DFS,
// reporting the first back-edge it finds as a validation error naming the
// cycle.
func detectCycle(g *Graph) error {
	colors := make(map[flow.Ident]color, len(g.Nodes))
	var path []flow.Ident

	ids := sortedIDs(g.Nodes)

	var visit func(id flow.Ident) error
	visit = func(id flow.Ident) error {
		colors[id] = gray
		path = append(path, id)

		outs := make([]flow.Edge, len(g.Out[id]))
		copy(outs, g.Out[id])
		sort.Slice(outs, func(i, j int) bool { return outs[i].To < outs[j].To })

		for _, e := range outs {
			switch colors[e.To] {
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			case gray:
				cyc := append(append([]flow.Ident{}, path...), e.To)
				return flowerrors.Validation("cycle_detected", fmt.Sprintf("cycle detected: %v", cyc))
			case black:
				// already fully explored, no cycle through here
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range ids {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// idHeap is the priority queue used by Kahn's algorithm to guarantee a
// deterministic, lexicographically tie-broken ordering.
type idHeap []flow.Ident

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)         { *h = append(*h, x.(flow.Ident)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topoSort runs Kahn's algorithm over g, using a min-heap keyed on node ID so
// that among all nodes whose dependencies are satisfied, the
// lexicographically smallest ID is always scheduled next.
func topoSort(g *Graph) ([]flow.Ident, error) {
	inDegree := make(map[flow.Ident]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = len(g.In[id])
	}

	ready := &idHeap{}
	heap.Init(ready)
	for _, id := range sortedIDs(g.Nodes) {
		if inDegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]flow.Ident, 0, len(g.Nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(flow.Ident)
		order = append(order, id)

		outs := make([]flow.Edge, len(g.Out[id]))
		copy(outs, g.Out[id])
		sort.Slice(outs, func(i, j int) bool { return outs[i].To < outs[j].To })

		for _, e := range outs {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				heap.Push(ready, e.To)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, flowerrors.Validation("cycle_detected", "topological sort did not cover all nodes; graph contains a cycle")
	}
	return order, nil
}

func sortedIDs(nodes map[flow.Ident]flow.Node) []flow.Ident {
	ids := make([]flow.Ident, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseResult is the full outcome of validating and analysing a
// FlowDefinition: Valid/Errors cover the fatal, structural problems Build
// rejects with (duplicate IDs, dangling edges, cycles, zero nodes); Warnings
// covers non-fatal problems — an unknown or missing node type — that a
// caller may still want to act on but that do not by themselves make the
// flow unschedulable until the engine actually reaches that node.
type ParseResult struct {
	Valid          bool
	Errors         []string
	Warnings       []string
	EntryPoints    []flow.Ident
	ExitPoints     []flow.Ident
	ExecutionOrder []flow.Ident
	Dependencies   map[flow.Ident][]flow.Ident
	Graph          *Graph
}

// Parse validates def via Build and, when registry is non-nil, additionally
// checks every node's type against it, reporting unknown or missing types as
// Warnings rather than failing Build's fatal-error contract — the engine
// only discovers a truly unschedulable node type when it is reached during
// scheduling (flow/engine's Lookup call), so Parse does not pre-empt that.
func Parse(def flow.FlowDefinition, registry *handler.Registry) ParseResult {
	g, err := Build(def)
	if err != nil {
		return ParseResult{Errors: []string{err.Error()}}
	}

	result := ParseResult{
		Valid:          true,
		Graph:          g,
		EntryPoints:    g.Entries,
		ExitPoints:     g.Exits,
		ExecutionOrder: g.Order,
		Dependencies:   make(map[flow.Ident][]flow.Ident, len(g.Nodes)),
	}
	for id := range g.Nodes {
		result.Dependencies[id] = g.Dependencies(id)
	}

	if registry == nil {
		return result
	}
	for _, n := range def.Nodes {
		if strings.TrimSpace(n.Type) == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("node %q has no type", n.ID))
			continue
		}
		if _, err := registry.Lookup(n.Type); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
		}
	}
	return result
}
