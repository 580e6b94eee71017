// Package step partitions a planned element graph into steps: independently
// schedulable units of work separated by Boundary elements.
package step

import (
	"slices"

	"github.com/oklog/ulid/v2"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

// Step is a connected part of the element graph that contains no scope
// entering a Boundary. Steps exchange data only through Boundary elements.
type Step struct {
	ID      ulid.ULID
	Ordinal int // Ordinal is the position of the step in [Graph.Steps].

	// Nodes are the elements of the step in topological order.
	Nodes []graph.NodeID
	// Scopes are the scopes with both endpoints inside the step, in
	// ascending order.
	Scopes []graph.EdgeID

	// Inputs are the Boundary elements of the step that receive data from
	// another step.
	Inputs []graph.NodeID
	// Outputs are the Boundary elements of other steps that this step feeds.
	Outputs []graph.NodeID
}

// Contains reports whether n belongs to s.
func (s *Step) Contains(n graph.NodeID) bool {
	return slices.Contains(s.Nodes, n)
}

// Dependency states that step To reads data written by step From through
// Boundary.
type Dependency struct {
	ID       ulid.ULID
	From, To *Step
	Boundary graph.NodeID
	Scope    graph.EdgeID // Scope is the scope entering Boundary.
}

// Graph is the step graph of a planned element graph. It is immutable once
// built.
type Graph struct {
	elements *graph.Graph
	steps    []*Step
	deps     []*Dependency
	owner    []int // step ordinal per element node id, -1 if absent

	upstream   [][]int
	downstream [][]int
}

// String renders g with [Sprint]. The rendering is only built when String is
// called, so g can be passed to a logger that may drop the line.
func (g *Graph) String() string { return Sprint(g) }

// Elements returns the element graph the steps were built from.
func (g *Graph) Elements() *graph.Graph { return g.elements }

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

// Steps returns the steps in topological order: every step comes after the
// steps it depends on.
func (g *Graph) Steps() []*Step { return slices.Clone(g.steps) }

// Step returns the step with the given ordinal.
func (g *Graph) Step(ordinal int) (*Step, bool) {
	if ordinal < 0 || ordinal >= len(g.steps) {
		return nil, false
	}
	return g.steps[ordinal], true
}

// StepOf returns the step containing element node n.
func (g *Graph) StepOf(n graph.NodeID) (*Step, bool) {
	if n < 0 || int(n) >= len(g.owner) || g.owner[n] < 0 {
		return nil, false
	}
	return g.steps[g.owner[n]], true
}

// Dependencies returns every dependency, ordered by consumer step, then
// producer step, then boundary.
func (g *Graph) Dependencies() []*Dependency { return slices.Clone(g.deps) }

// Upstream returns the distinct steps s depends on, by ordinal.
func (g *Graph) Upstream(s *Step) []*Step { return g.resolve(g.upstream[s.Ordinal]) }

// Downstream returns the distinct steps that depend on s, by ordinal.
func (g *Graph) Downstream(s *Step) []*Step { return g.resolve(g.downstream[s.Ordinal]) }

func (g *Graph) resolve(ordinals []int) []*Step {
	res := make([]*Step, 0, len(ordinals))
	for _, o := range ordinals {
		res = append(res, g.steps[o])
	}
	return res
}
