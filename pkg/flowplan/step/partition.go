package step

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/oklog/ulid/v2"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

// Partition splits g into steps. Every scope entering a Boundary is cut, and
// each connected component of the remaining scopes becomes a step. A
// Boundary therefore belongs to the step that reads from it, and the step
// that writes to it depends on nothing but that Boundary.
//
// Partition returns a [*PartitionError] if g is empty, if a Boundary is fed
// from within its own step, or if the steps depend on each other cyclically.
// It returns a [*graph.MalformedError] if g itself contains a cycle.
func Partition(g *graph.Graph) (*Graph, error) {
	if g.Len() == 0 {
		return nil, &PartitionError{Reason: ReasonEmpty, Msg: "element graph has no nodes"}
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	var (
		set = newDisjointSet(g.Cap())
		cut []*graph.Scope
	)
	for s := range g.Scopes() {
		if g.Kind(s.To()) == graph.KindBoundary {
			cut = append(cut, s)
			continue
		}
		set.union(int(s.From()), int(s.To()))
	}

	p := newPartition(g, order, set)
	for _, s := range cut {
		if err := p.addCut(s); err != nil {
			return nil, err
		}
	}
	if err := p.sort(); err != nil {
		return nil, err
	}
	return p.build(cut), nil
}

// partition holds the components of an element graph while they are being
// turned into steps.
type partition struct {
	g     *graph.Graph
	set   *disjointSet
	index map[int]int // component index per disjoint set root

	components [][]graph.NodeID // nodes per component, in topological order
	minNode    []graph.NodeID   // smallest node id per component
	succs      [][]int          // distinct successor components
	indegree   []int

	sorted []int // component indexes in step order
}

func newPartition(g *graph.Graph, order []graph.NodeID, set *disjointSet) *partition {
	p := &partition{g: g, set: set, index: make(map[int]int)}
	for _, n := range order {
		root := set.find(int(n))
		c, ok := p.index[root]
		if !ok {
			c = len(p.components)
			p.index[root] = c
			p.components = append(p.components, nil)
			p.minNode = append(p.minNode, n)
		}
		p.components[c] = append(p.components[c], n)
		p.minNode[c] = min(p.minNode[c], n)
	}
	p.succs = make([][]int, len(p.components))
	p.indegree = make([]int, len(p.components))
	return p
}

func (p *partition) component(n graph.NodeID) int {
	return p.index[p.set.find(int(n))]
}

func (p *partition) addCut(s *graph.Scope) error {
	from, to := p.component(s.From()), p.component(s.To())
	if from == to {
		return &PartitionError{
			Reason: ReasonSelfDependency,
			Nodes:  []graph.NodeID{s.From(), s.To()},
			Msg:    fmt.Sprintf("boundary %d is fed by node %d of its own step", s.To(), s.From()),
		}
	}
	if !slices.Contains(p.succs[from], to) {
		p.succs[from] = append(p.succs[from], to)
		p.indegree[to]++
	}
	return nil
}

// sort orders the components topologically. Among components that are ready
// at the same time, the one holding the smallest node id comes first.
func (p *partition) sort() error {
	var (
		indegree = slices.Clone(p.indegree)
		ready    []int
	)
	byMinNode := func(a, b int) int { return cmp.Compare(p.minNode[a], p.minNode[b]) }

	for c := range p.components {
		if indegree[c] == 0 {
			ready = append(ready, c)
		}
	}
	slices.SortFunc(ready, byMinNode)

	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		p.sorted = append(p.sorted, next)

		for _, s := range p.succs[next] {
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
				slices.SortFunc(ready, byMinNode)
			}
		}
	}

	if len(p.sorted) != len(p.components) {
		var nodes []graph.NodeID
		for c := range p.components {
			if indegree[c] > 0 {
				nodes = append(nodes, p.minNode[c])
			}
		}
		return &PartitionError{
			Reason: ReasonCycle,
			Nodes:  nodes,
			Msg:    fmt.Sprintf("steps containing nodes %v depend on each other", nodes),
		}
	}
	return nil
}

func (p *partition) build(cut []*graph.Scope) *Graph {
	res := &Graph{
		elements:   p.g,
		steps:      make([]*Step, len(p.sorted)),
		owner:      make([]int, p.g.Cap()),
		upstream:   make([][]int, len(p.sorted)),
		downstream: make([][]int, len(p.sorted)),
	}
	for i := range res.owner {
		res.owner[i] = -1
	}

	ordinal := make([]int, len(p.components))
	for o, c := range p.sorted {
		ordinal[c] = o
		res.steps[o] = &Step{
			ID:      ulid.Make(),
			Ordinal: o,
			Nodes:   p.components[c],
		}
		for _, n := range p.components[c] {
			res.owner[n] = o
		}
	}

	isCut := make(map[graph.EdgeID]struct{}, len(cut))
	for _, s := range cut {
		isCut[s.ID()] = struct{}{}
	}
	for s := range p.g.Scopes() {
		if _, ok := isCut[s.ID()]; ok {
			continue
		}
		step := res.steps[res.owner[s.From()]]
		step.Scopes = append(step.Scopes, s.ID())
	}

	for _, s := range cut {
		var (
			from = res.steps[res.owner[s.From()]]
			to   = res.steps[res.owner[s.To()]]
		)
		res.deps = append(res.deps, &Dependency{
			ID:       ulid.Make(),
			From:     from,
			To:       to,
			Boundary: s.To(),
			Scope:    s.ID(),
		})
		from.Outputs = appendUnique(from.Outputs, s.To())
		to.Inputs = appendUnique(to.Inputs, s.To())
		res.upstream[to.Ordinal] = appendUnique(res.upstream[to.Ordinal], from.Ordinal)
		res.downstream[from.Ordinal] = appendUnique(res.downstream[from.Ordinal], to.Ordinal)
	}

	slices.SortFunc(res.deps, func(a, b *Dependency) int {
		return cmp.Or(
			cmp.Compare(a.To.Ordinal, b.To.Ordinal),
			cmp.Compare(a.From.Ordinal, b.From.Ordinal),
			cmp.Compare(a.Boundary, b.Boundary),
			cmp.Compare(a.Scope, b.Scope),
		)
	})
	for _, s := range res.steps {
		slices.Sort(s.Inputs)
		slices.Sort(s.Outputs)
	}
	for o := range res.steps {
		slices.Sort(res.upstream[o])
		slices.Sort(res.downstream[o])
	}
	return res
}

func appendUnique[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// disjointSet is a union-find structure over dense integer ids.
type disjointSet struct {
	parent []int
	rank   []uint8
}

func newDisjointSet(n int) *disjointSet {
	s := &disjointSet{parent: make([]int, n), rank: make([]uint8, n)}
	for i := range s.parent {
		s.parent[i] = i
	}
	return s
}

func (s *disjointSet) find(x int) int {
	for s.parent[x] != x {
		s.parent[x] = s.parent[s.parent[x]]
		x = s.parent[x]
	}
	return x
}

func (s *disjointSet) union(a, b int) {
	ra, rb := s.find(a), s.find(b)
	if ra == rb {
		return
	}
	switch {
	case s.rank[ra] < s.rank[rb]:
		s.parent[ra] = rb
	case s.rank[ra] > s.rank[rb]:
		s.parent[rb] = ra
	default:
		s.parent[rb] = ra
		s.rank[ra]++
	}
}
