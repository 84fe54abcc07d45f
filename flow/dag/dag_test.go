package dag_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/dag"
	flowerrors "n3n.dev/core/flow/errors"
)

func node(id string) flow.Node { return flow.Node{ID: flow.Ident(id)} }

func TestBuild_LinearChain(t *testing.T) {
	def := flow.FlowDefinition{
		Nodes: []flow.Node{node("a"), node("b"), node("c")},
		Edges: []flow.Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	}

	g, err := dag.Build(def)
	require.NoError(t, err)
	assert.Equal(t, []flow.Ident{"a", "b", "c"}, g.Order)
	assert.Equal(t, []flow.Ident{"a"}, g.Entries)
	assert.Equal(t, []flow.Ident{"c"}, g.Exits)
}

func TestBuild_LexicographicTieBreak(t *testing.T) {
	def := flow.FlowDefinition{
		Nodes: []flow.Node{node("z"), node("a"), node("m")},
	}

	g, err := dag.Build(def)
	require.NoError(t, err)
	assert.Equal(t, []flow.Ident{"a", "m", "z"}, g.Order)
}

func TestBuild_CycleRejected(t *testing.T) {
	def := flow.FlowDefinition{
		Nodes: []flow.Node{node("a"), node("b")},
		Edges: []flow.Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	_, err := dag.Build(def)
	require.Error(t, err)
	assert.True(t, flowerrors.Is(err, flowerrors.KindValidation))
}

func TestBuild_DanglingEdgeRejected(t *testing.T) {
	def := flow.FlowDefinition{
		Nodes: []flow.Node{node("a")},
		Edges: []flow.Edge{{From: "a", To: "ghost"}},
	}

	_, err := dag.Build(def)
	require.Error(t, err)
}

func TestBuild_DuplicateNodeIDRejected(t *testing.T) {
	def := flow.FlowDefinition{
		Nodes: []flow.Node{node("a"), node("a")},
	}

	_, err := dag.Build(def)
	require.Error(t, err)
}

// TestOrderRespectsDependencies is a property-based check (invariant: every
// node appears after all of its dependencies in Order) over randomly
// generated DAGs, grounded on the teacher's use of gopter for invariant
// testing.
func TestOrderRespectsDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("topological order respects edges", prop.ForAll(
		func(n int) bool {
			if n < 1 {
				n = 1
			}
			if n > 12 {
				n = 12
			}
			nodes := make([]flow.Node, n)
			for i := 0; i < n; i++ {
				nodes[i] = node(fmt.Sprintf("n%02d", i))
			}
			var edges []flow.Edge
			for i := 0; i < n; i++ {
				for j := i + 1; j < n; j++ {
					if (i+j)%3 == 0 {
						edges = append(edges, flow.Edge{From: nodes[i].ID, To: nodes[j].ID})
					}
				}
			}

			g, err := dag.Build(flow.FlowDefinition{Nodes: nodes, Edges: edges})
			if err != nil {
				return false
			}

			pos := make(map[flow.Ident]int, len(g.Order))
			for i, id := range g.Order {
				pos[id] = i
			}
			for _, e := range edges {
				if pos[e.From] >= pos[e.To] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
