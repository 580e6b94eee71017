package expression

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Edge requires that the node matched by From has a scope leading to the node
// matched by To.
type Edge struct {
	From, To int
}

// Graph is an immutable pattern: a set of expressions with local ids and the
// adjacency required between the nodes they match. Graphs are built once with
// a [GraphBuilder] and may be reused by any number of concurrent matchers.
type Graph struct {
	exprs []Expression
	edges []Edge

	preds [][]int
	succs [][]int

	captures     map[Capture][]int
	captureNames []Capture

	order []int
}

// Len returns the number of pattern nodes.
func (g *Graph) Len() int { return len(g.exprs) }

// Expression returns the expression of pattern node id.
func (g *Graph) Expression(id int) Expression { return g.exprs[id] }

// Edges returns the required adjacencies of the pattern.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Predecessors returns the pattern nodes that must feed pattern node id.
func (g *Graph) Predecessors(id int) []int { return g.preds[id] }

// Successors returns the pattern nodes that pattern node id must feed.
func (g *Graph) Successors(id int) []int { return g.succs[id] }

// Captures returns the capture names used in the pattern, in the order they
// first appear.
func (g *Graph) Captures() []Capture { return slices.Clone(g.captureNames) }

// Captured returns the pattern nodes tagged with c, in insertion order.
func (g *Graph) Captured(c Capture) []int { return g.captures[c] }

// SearchOrder returns the order in which a matcher should assign pattern
// nodes: the most selective expression first, then repeatedly the most
// selective node adjacent to those already ordered. Ties are broken by the
// lowest local id.
func (g *Graph) SearchOrder() []int { return g.order }

func (g *Graph) String() string {
	var sb strings.Builder
	for id, e := range g.exprs {
		if id > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%d:[%s]", id, e)
	}
	for _, edge := range g.edges {
		fmt.Fprintf(&sb, "; %d->%d", edge.From, edge.To)
	}
	return sb.String()
}

// GraphBuilder assembles a pattern [Graph].
type GraphBuilder struct {
	exprs []Expression
	edges []Edge
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder { return &GraphBuilder{} }

// Add adds a pattern node and returns its local id.
func (b *GraphBuilder) Add(e Expression) int {
	b.exprs = append(b.exprs, e)
	return len(b.exprs) - 1
}

// Connect requires an edge from the node matched by from to the node matched
// by to.
func (b *GraphBuilder) Connect(from, to int) *GraphBuilder {
	b.edges = append(b.edges, Edge{From: from, To: to})
	return b
}

// Build validates the pattern and returns it. Build returns an error if the
// pattern is empty, contains an invalid expression, references unknown nodes,
// contains a self edge, a duplicate edge, or a cycle.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.exprs) == 0 {
		return nil, errors.New("pattern has no nodes")
	}
	for id, e := range b.exprs {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("pattern node %d: %w", id, err)
		}
	}

	g := &Graph{
		exprs:    slices.Clone(b.exprs),
		edges:    slices.Clone(b.edges),
		preds:    make([][]int, len(b.exprs)),
		succs:    make([][]int, len(b.exprs)),
		captures: make(map[Capture][]int),
	}

	seen := make(map[Edge]struct{}, len(b.edges))
	for _, edge := range g.edges {
		switch {
		case edge.From < 0 || edge.From >= len(g.exprs) || edge.To < 0 || edge.To >= len(g.exprs):
			return nil, fmt.Errorf("pattern edge %d->%d references unknown node", edge.From, edge.To)
		case edge.From == edge.To:
			return nil, fmt.Errorf("pattern edge %d->%d is a self loop", edge.From, edge.To)
		}
		if _, dup := seen[edge]; dup {
			return nil, fmt.Errorf("duplicate pattern edge %d->%d", edge.From, edge.To)
		}
		seen[edge] = struct{}{}
		g.succs[edge.From] = append(g.succs[edge.From], edge.To)
		g.preds[edge.To] = append(g.preds[edge.To], edge.From)
	}
	if hasCycle(g.succs) {
		return nil, errors.New("pattern contains a cycle")
	}

	for id, e := range g.exprs {
		if e.Capture == NoCapture {
			continue
		}
		if _, ok := g.captures[e.Capture]; !ok {
			g.captureNames = append(g.captureNames, e.Capture)
		}
		g.captures[e.Capture] = append(g.captures[e.Capture], id)
	}

	g.order = searchOrder(g)
	return g, nil
}

// MustBuild is like Build but panics on error. It simplifies the
// initialization of static patterns.
func (b *GraphBuilder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("expression: %v", err))
	}
	return g
}

// Single returns a pattern consisting of a single expression.
func Single(e Expression) *Graph {
	b := NewGraphBuilder()
	b.Add(e)
	return b.MustBuild()
}

// Chain returns a pattern in which each expression must feed the next.
func Chain(exprs ...Expression) *Graph {
	b := NewGraphBuilder()
	for i, e := range exprs {
		id := b.Add(e)
		if i > 0 {
			b.Connect(id-1, id)
		}
	}
	return b.MustBuild()
}

func hasCycle(succs [][]int) bool {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(succs))

	var visit func(int) bool
	visit = func(n int) bool {
		switch state[n] {
		case visiting:
			return true
		case done:
			return false
		}
		state[n] = visiting
		for _, next := range succs[n] {
			if visit(next) {
				return true
			}
		}
		state[n] = done
		return false
	}

	for n := range succs {
		if visit(n) {
			return true
		}
	}
	return false
}

func searchOrder(g *Graph) []int {
	var (
		n       = len(g.exprs)
		order   = make([]int, 0, n)
		placed  = make([]bool, n)
		weights = make([]int, n)
	)
	for id, e := range g.exprs {
		weights[id] = e.Selectivity()
	}

	adjacent := func(id int) bool {
		for _, p := range g.preds[id] {
			if placed[p] {
				return true
			}
		}
		for _, s := range g.succs[id] {
			if placed[s] {
				return true
			}
		}
		return false
	}

	for len(order) < n {
		best, bestAdjacent := -1, false
		for id := range n {
			if placed[id] {
				continue
			}
			adj := adjacent(id)
			switch {
			case best < 0,
				adj && !bestAdjacent,
				adj == bestAdjacent && weights[id] < weights[best]:
				best, bestAdjacent = id, adj
			}
		}
		placed[best] = true
		order = append(order, best)
	}
	return order
}
