// Package finder locates occurrences of an expression pattern in an element
// graph.
//
// The search is a constrained backtracking search over the pattern nodes in
// [expression.Graph.SearchOrder]. Candidates for a pattern node are limited
// to neighbours of already assigned nodes, and every predicate is checked
// before the search goes deeper. Candidates are tried in ascending node id
// order, which makes the sequence of matches deterministic.
package finder

import (
	"context"
	"iter"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/expression"
)

// Option configures a [Finder].
type Option func(*Finder)

// WithParallelism shards the search in [Finder.All] across up to n
// goroutines. Values below 2 disable sharding. The result is identical to
// the sequential search.
func WithParallelism(n int) Option {
	return func(f *Finder) { f.parallelism = n }
}

// WithNonOverlapping drops every match that shares an element node with a
// match yielded before it.
func WithNonOverlapping() Option {
	return func(f *Finder) { f.nonOverlapping = true }
}

// Finder finds matches of a single pattern. A Finder holds no per-search
// state and may be used concurrently on distinct graphs.
type Finder struct {
	pattern        *expression.Graph
	parallelism    int
	nonOverlapping bool
}

// New returns a Finder for pattern.
func New(pattern *expression.Graph, opts ...Option) *Finder {
	f := &Finder{pattern: pattern}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Pattern returns the pattern searched by f.
func (f *Finder) Pattern() *expression.Graph { return f.pattern }

// Matches returns a lazy sequence of the matches of the pattern in g.
// Matches that bind the same set of element nodes are reported once; the
// first one found wins. The graph must not be modified while the sequence is
// being consumed.
func (f *Finder) Matches(g *graph.Graph) iter.Seq[*Match] {
	return func(yield func(*Match) bool) {
		dedup := f.newFilter(g)
		s := newSearch(f.pattern, g)
		s.run(s.rootCandidates(), func(assignment []graph.NodeID) bool {
			if !dedup.admit(assignment) {
				return true
			}
			return yield(newMatch(f.pattern, assignment))
		})
	}
}

// First returns the first match of the pattern in g.
func (f *Finder) First(g *graph.Graph) (*Match, bool) {
	for m := range f.Matches(g) {
		return m, true
	}
	return nil, false
}

// All returns every match of the pattern in g, in the same order as
// [Finder.Matches]. All returns early with the context error if ctx is
// canceled.
func (f *Finder) All(ctx context.Context, g *graph.Graph) ([]*Match, error) {
	if f.parallelism < 2 {
		var res []*Match
		for m := range f.Matches(g) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res = append(res, m)
		}
		return res, nil
	}
	return f.parallelAll(ctx, g)
}

// Each calls yield for the matches of the pattern in g, in the order of
// [Finder.Matches], until yield returns false. The sequential search is
// lazy: no match after the last one accepted by yield is computed. With
// parallelism the matches are collected first, as by [Finder.All]. Each
// returns the context error if ctx is canceled.
func (f *Finder) Each(ctx context.Context, g *graph.Graph, yield func(*Match) bool) error {
	if f.parallelism >= 2 {
		matches, err := f.parallelAll(ctx, g)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if !yield(m) {
				break
			}
		}
		return nil
	}

	for m := range f.Matches(g) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !yield(m) {
			break
		}
	}
	return nil
}

// parallelAll splits the candidates of the first pattern node into
// contiguous shards. Shards are searched concurrently and their raw results
// are concatenated in shard order before filtering, which reproduces the
// sequential order exactly.
func (f *Finder) parallelAll(ctx context.Context, g *graph.Graph) ([]*Match, error) {
	roots := newSearch(f.pattern, g).rootCandidates()
	if len(roots) == 0 {
		return nil, nil
	}

	shardCount := min(f.parallelism, len(roots))
	shardSize := (len(roots) + shardCount - 1) / shardCount
	results := make([][][]graph.NodeID, shardCount)

	eg, ctx := errgroup.WithContext(ctx)
	for shard := range shardCount {
		lo := shard * shardSize
		hi := min(lo+shardSize, len(roots))
		if lo >= hi {
			continue
		}
		eg.Go(func() error {
			s := newSearch(f.pattern, g)
			s.run(roots[lo:hi], func(assignment []graph.NodeID) bool {
				results[shard] = append(results[shard], slices.Clone(assignment))
				return ctx.Err() == nil
			})
			return ctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var (
		dedup = f.newFilter(g)
		res   []*Match
	)
	for _, shard := range results {
		for _, assignment := range shard {
			if dedup.admit(assignment) {
				res = append(res, newMatch(f.pattern, assignment))
			}
		}
	}
	return res, nil
}

// filter removes duplicate and, optionally, overlapping assignments.
type filter struct {
	seen     map[string]struct{}
	consumed *bitset.BitSet // nil unless non-overlapping matches are requested
	key      Match
}

func (f *Finder) newFilter(g *graph.Graph) *filter {
	flt := &filter{seen: make(map[string]struct{}), key: Match{pattern: f.pattern}}
	if f.nonOverlapping {
		flt.consumed = bitset.New(uint(g.Cap()))
	}
	return flt
}

func (flt *filter) admit(assignment []graph.NodeID) bool {
	flt.key.assignment = assignment
	key := flt.key.Key()
	if _, dup := flt.seen[key]; dup {
		return false
	}
	flt.seen[key] = struct{}{}

	if flt.consumed == nil {
		return true
	}
	for _, n := range assignment {
		if flt.consumed.Test(uint(n)) {
			return false
		}
	}
	for _, n := range assignment {
		flt.consumed.Set(uint(n))
	}
	return true
}

// search holds the state of one backtracking search.
type search struct {
	pattern *expression.Graph
	g       *graph.Graph
	order   []int

	assignment []graph.NodeID
	used       *bitset.BitSet
	bound      []int // element node id -> pattern node id, -1 if unbound
}

func newSearch(pattern *expression.Graph, g *graph.Graph) *search {
	assignment := make([]graph.NodeID, pattern.Len())
	for i := range assignment {
		assignment[i] = graph.InvalidNode
	}
	bound := make([]int, g.Cap())
	for i := range bound {
		bound[i] = -1
	}
	return &search{
		pattern:    pattern,
		g:          g,
		order:      pattern.SearchOrder(),
		assignment: assignment,
		used:       bitset.New(uint(g.Cap())),
		bound:      bound,
	}
}

// rootCandidates returns the element nodes satisfying the expression of the
// first pattern node in search order.
func (s *search) rootCandidates() []graph.NodeID {
	root := s.order[0]
	expr := s.pattern.Expression(root)

	var res []graph.NodeID
	for n := range s.g.Nodes() {
		if expression.Evaluate(expr, s.g, n.ID()) {
			res = append(res, n.ID())
		}
	}
	return res
}

// run enumerates complete assignments whose first pattern node is bound to
// one of roots. emit is invoked with the live assignment slice, which is only
// valid for the duration of the call. run stops once emit returns false.
func (s *search) run(roots []graph.NodeID, emit func([]graph.NodeID) bool) {
	s.extend(0, roots, emit)
}

func (s *search) extend(depth int, roots []graph.NodeID, emit func([]graph.NodeID) bool) bool {
	if depth == len(s.order) {
		if !s.topoSatisfied() {
			return true
		}
		return emit(s.assignment)
	}

	p := s.order[depth]
	expr := s.pattern.Expression(p)

	candidates := roots
	if depth > 0 {
		candidates = s.candidates(p)
	}

	for _, c := range candidates {
		if s.used.Test(uint(c)) {
			continue
		}
		if depth > 0 && !expression.Evaluate(expr, s.g, c) {
			continue
		}

		s.bind(p, c)
		ok := true
		if s.topoAdmits(p) {
			ok = s.extend(depth+1, nil, emit)
		}
		s.unbind(p, c)

		if !ok {
			return false
		}
	}
	return true
}

func (s *search) bind(p int, c graph.NodeID) {
	s.assignment[p] = c
	s.used.Set(uint(c))
	s.bound[c] = p
}

func (s *search) unbind(p int, c graph.NodeID) {
	s.assignment[p] = graph.InvalidNode
	s.used.Clear(uint(c))
	s.bound[c] = -1
}

// candidates returns the element nodes that satisfy every required
// adjacency between pattern node p and already assigned pattern nodes.
func (s *search) candidates(p int) []graph.NodeID {
	var (
		res         []graph.NodeID
		constrained bool
	)
	restrict := func(set []graph.NodeID) {
		if !constrained {
			res, constrained = set, true
			return
		}
		res = intersect(res, set)
	}

	for _, q := range s.pattern.Predecessors(p) {
		if a := s.assignment[q]; a != graph.InvalidNode {
			restrict(s.g.Successors(a))
		}
	}
	for _, r := range s.pattern.Successors(p) {
		if a := s.assignment[r]; a != graph.InvalidNode {
			restrict(s.g.Predecessors(a))
		}
	}

	if !constrained {
		return s.g.NodeIDs()
	}
	return res
}

// topoAdmits reports whether the binding of pattern node p leaves every
// topology constraint satisfiable. Binding p can only change the counts of p
// and of its pattern neighbours, and counts only grow as the match is
// extended, so a constraint that is violated now can never recover.
func (s *search) topoAdmits(p int) bool {
	if s.violated(p) {
		return false
	}
	for _, q := range s.pattern.Predecessors(p) {
		if s.assignment[q] != graph.InvalidNode && s.violated(q) {
			return false
		}
	}
	for _, q := range s.pattern.Successors(p) {
		if s.assignment[q] != graph.InvalidNode && s.violated(q) {
			return false
		}
	}
	return true
}

func (s *search) violated(p int) bool {
	topo := s.pattern.Expression(p).Topo
	if topo == expression.TopoAny {
		return false
	}
	preds, succs := s.matchedNeighbours(p)
	return violates(topo, preds, succs)
}

// topoSatisfied checks every topology constraint against the complete match.
func (s *search) topoSatisfied() bool {
	for p := range s.assignment {
		topo := s.pattern.Expression(p).Topo
		if topo == expression.TopoAny {
			continue
		}
		preds, succs := s.matchedNeighbours(p)
		if violates(topo, preds, succs) {
			return false
		}
		if topo == expression.TopoLinear && (preds != 1 || succs != 1) {
			return false
		}
	}
	return true
}

// matchedNeighbours counts the element predecessors of the node bound to p
// that are bound to a pattern predecessor of p, and likewise for successors.
// Element neighbours bound to pattern nodes unrelated to p are not counted.
func (s *search) matchedNeighbours(p int) (preds, succs int) {
	n := s.assignment[p]
	for _, m := range s.g.Predecessors(n) {
		if q := s.bound[m]; q >= 0 && slices.Contains(s.pattern.Predecessors(p), q) {
			preds++
		}
	}
	for _, m := range s.g.Successors(n) {
		if q := s.bound[m]; q >= 0 && slices.Contains(s.pattern.Successors(p), q) {
			succs++
		}
	}
	return preds, succs
}

// violates reports whether the neighbour counts already break topo.
func violates(topo expression.Topo, preds, succs int) bool {
	switch topo {
	case expression.TopoHead:
		return preds > 0
	case expression.TopoTail:
		return succs > 0
	case expression.TopoLinear:
		return preds > 1 || succs > 1
	}
	return false
}

// intersect returns the elements present in both ascending slices.
func intersect(a, b []graph.NodeID) []graph.NodeID {
	res := make([]graph.NodeID, 0, min(len(a), len(b)))
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			res = append(res, a[i])
			i++
			j++
		}
	}
	return res
}
