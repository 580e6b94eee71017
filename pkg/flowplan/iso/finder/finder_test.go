package finder

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/expression"
)

// chain adds nodes of the given kinds to g and connects them in sequence.
func chain(t *testing.T, g *graph.Graph, kinds ...graph.Kind) []graph.NodeID {
	t.Helper()

	ids := make([]graph.NodeID, 0, len(kinds))
	for i, k := range kinds {
		ids = append(ids, g.AddNode(k, "", nil))
		if i > 0 {
			_, err := g.Connect(ids[i-1], ids[i], nil)
			require.NoError(t, err)
		}
	}
	return ids
}

func collect(f *Finder, g *graph.Graph) []*Match {
	var res []*Match
	for m := range f.Matches(g) {
		res = append(res, m)
	}
	return res
}

func assignments(matches []*Match) [][]graph.NodeID {
	res := make([][]graph.NodeID, 0, len(matches))
	for _, m := range matches {
		res = append(res, m.Assignment())
	}
	return res
}

func TestFinder_EdgeIntoGroup(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindOperation, graph.KindGroup, graph.KindOperation, graph.KindSink)

	pattern := expression.Chain(
		expression.Not(expression.KindIs(graph.KindBoundary)).With(expression.WithCapture(expression.Secondary)),
		expression.KindIs(graph.KindGroup, expression.WithCapture(expression.Primary)),
	)

	matches := collect(New(pattern), g)
	require.Len(t, matches, 1)

	group, ok := matches[0].CapturedNode(expression.Primary)
	require.True(t, ok)
	require.Equal(t, ids[2], group)
	require.Equal(t, []graph.NodeID{ids[1]}, matches[0].Captured(expression.Secondary))
	require.Equal(t, []graph.NodeID{ids[1], ids[2]}, matches[0].Nodes())

	_, ok = matches[0].CapturedNode(expression.Include)
	require.False(t, ok)
}

func TestFinder_NoMatch(t *testing.T) {
	g := graph.New()
	chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)

	f := New(expression.Single(expression.KindIs(graph.KindGroup)))
	require.Empty(t, collect(f, g))

	_, ok := f.First(g)
	require.False(t, ok)

	all, err := f.All(context.Background(), g)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFinder_SymmetricPatternsYieldOneMatch(t *testing.T) {
	t.Run("symmetric branches", func(t *testing.T) {
		g := graph.New()
		var (
			a  = g.AddNode(graph.KindSource, "", nil)
			b  = g.AddNode(graph.KindSource, "", nil)
			b1 = g.AddNode(graph.KindBoundary, "", nil)
			b2 = g.AddNode(graph.KindBoundary, "", nil)
			m  = g.AddNode(graph.KindMerge, "", nil)
			s  = g.AddNode(graph.KindSink, "", nil)
		)
		_, _ = g.Connect(a, b1, nil)
		_, _ = g.Connect(b, b2, nil)
		_, _ = g.Connect(b1, m, nil)
		_, _ = g.Connect(b2, m, nil)
		_, _ = g.Connect(m, s, nil)

		pb := expression.NewGraphBuilder()
		left := pb.Add(expression.KindIs(graph.KindBoundary, expression.WithCapture(expression.Secondary)))
		right := pb.Add(expression.KindIs(graph.KindBoundary, expression.WithCapture(expression.Secondary)))
		merge := pb.Add(expression.KindIs(graph.KindMerge, expression.WithCapture(expression.Primary)))
		pb.Connect(left, merge).Connect(right, merge)

		matches := collect(New(pb.MustBuild()), g)
		require.Len(t, matches, 1)
		// The first assignment found wins: the lower node id is bound to the
		// first pattern node.
		require.Equal(t, []graph.NodeID{b1, b2, m}, matches[0].Assignment())
		require.Equal(t, []graph.NodeID{b1, b2}, matches[0].Captured(expression.Secondary))
	})

	t.Run("or of identical branches", func(t *testing.T) {
		g := graph.New()
		chain(t, g, graph.KindSource, graph.KindGroup, graph.KindSink)

		k := 4
		branches := make([]expression.Expression, k)
		for i := range branches {
			branches[i] = expression.KindIs(graph.KindGroup)
		}
		matches := collect(New(expression.Single(expression.Or(branches...))), g)
		require.Len(t, matches, 1)
	})
}

func TestFinder_Topology(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)
	var (
		src  = ids[0]
		op   = ids[1]
		sink = ids[2]
	)
	op2 := func(topo expression.Topo) expression.Expression {
		return expression.KindIs(graph.KindOperation, expression.WithTopo(topo))
	}

	for _, tc := range []struct {
		name    string
		pattern *expression.Graph
		want    [][]graph.NodeID
	}{
		{
			name:    "head without pattern predecessor",
			pattern: expression.Chain(op2(expression.TopoHead), expression.Any()),
			want:    [][]graph.NodeID{{op, sink}},
		},
		{
			name:    "head with pattern predecessor",
			pattern: expression.Chain(expression.Any(), op2(expression.TopoHead)),
		},
		{
			name:    "tail without pattern successor",
			pattern: expression.Chain(expression.Any(), op2(expression.TopoTail)),
			want:    [][]graph.NodeID{{src, op}},
		},
		{
			name:    "tail with pattern successor",
			pattern: expression.Chain(op2(expression.TopoTail), expression.Any()),
		},
		{
			name:    "linear",
			pattern: expression.Chain(expression.Any(), op2(expression.TopoLinear), expression.Any()),
			want:    [][]graph.NodeID{{src, op, sink}},
		},
		{
			name:    "linear without pattern neighbours",
			pattern: expression.Single(op2(expression.TopoLinear)),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got [][]graph.NodeID
			for _, m := range collect(New(tc.pattern), g) {
				got = append(got, m.Nodes())
			}
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("unrelated neighbours do not count", func(t *testing.T) {
		// The source precedes the operation in the element graph, but the
		// pattern has no edge between them.
		b := expression.NewGraphBuilder()
		b.Add(op2(expression.TopoHead))
		b.Add(expression.KindIs(graph.KindSource))

		matches := collect(New(b.MustBuild()), g)
		require.Len(t, matches, 1)
		require.Equal(t, []graph.NodeID{op, src}, matches[0].Assignment())

		b = expression.NewGraphBuilder()
		b.Add(op2(expression.TopoTail))
		b.Add(expression.KindIs(graph.KindSink))
		require.Len(t, collect(New(b.MustBuild()), g), 1)
	})
}

func TestFinder_LazyEarlyStop(t *testing.T) {
	g := graph.New()
	chain(t, g, graph.KindSource, graph.KindOperation, graph.KindOperation, graph.KindOperation, graph.KindSink)

	f := New(expression.Single(expression.Any()))
	var seen int
	for range f.Matches(g) {
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)

	m, ok := f.First(g)
	require.True(t, ok)
	require.Equal(t, graph.NodeID(0), m.Node(0))
}

func TestFinder_Each(t *testing.T) {
	g := graph.New()
	for range 6 {
		chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)
	}
	pattern := expression.Single(expression.KindIs(graph.KindOperation))
	want := collect(New(pattern), g)
	require.Len(t, want, 6)

	for _, parallelism := range []int{1, 3} {
		t.Run(fmt.Sprintf("parallelism %d", parallelism), func(t *testing.T) {
			var got []*Match
			err := New(pattern, WithParallelism(parallelism)).Each(context.Background(), g, func(m *Match) bool {
				got = append(got, m)
				return len(got) < 2
			})
			require.NoError(t, err)
			require.Equal(t, assignments(want[:2]), assignments(got))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(pattern).Each(ctx, g, func(*Match) bool { return true })
	require.ErrorIs(t, err, context.Canceled)
}

func TestFinder_NonOverlapping(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindOperation, graph.KindOperation, graph.KindSink)

	pattern := expression.Chain(expression.Any(), expression.Any())

	all := collect(New(pattern), g)
	require.Equal(t, [][]graph.NodeID{{ids[0], ids[1]}, {ids[1], ids[2]}, {ids[2], ids[3]}}, assignments(all))

	disjoint := collect(New(pattern, WithNonOverlapping()), g)
	require.Equal(t, [][]graph.NodeID{{ids[0], ids[1]}, {ids[2], ids[3]}}, assignments(disjoint))
}

func TestFinder_ParallelMatchesSequential(t *testing.T) {
	g := graph.New()
	for range 6 {
		chain(t, g, graph.KindSource, graph.KindOperation, graph.KindGroup, graph.KindOperation, graph.KindSink)
	}
	// An unrelated flow ending in a merge.
	var (
		extra = g.AddNode(graph.KindSource, "", nil)
		merge = g.AddNode(graph.KindMerge, "", nil)
		sink  = g.AddNode(graph.KindSink, "", nil)
	)
	_, _ = g.Connect(extra, merge, nil)
	_, _ = g.Connect(merge, sink, nil)

	b := expression.NewGraphBuilder()
	producer := b.Add(expression.Not(expression.KindIs(graph.KindBoundary)))
	consumer := b.Add(expression.And(expression.Boundaries(), expression.Not(expression.KindIs(graph.KindSource))))
	b.Connect(producer, consumer)
	pattern := b.MustBuild()

	sequential, err := New(pattern).All(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, sequential, 7)

	for _, n := range []int{2, 3, 8, 64} {
		parallel, err := New(pattern, WithParallelism(n)).All(context.Background(), g)
		require.NoError(t, err)
		require.Equal(t, assignments(sequential), assignments(parallel), "parallelism=%d", n)
	}
}

func TestFinder_AllCanceled(t *testing.T) {
	g := graph.New()
	chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(expression.Single(expression.Any()))
	_, err := f.All(ctx, g)
	require.ErrorIs(t, err, context.Canceled)

	_, err = New(expression.Single(expression.Any()), WithParallelism(2)).All(ctx, g)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMatch_Key(t *testing.T) {
	pattern := expression.Chain(expression.Any(), expression.Any())
	a := newMatch(pattern, []graph.NodeID{7, 3})
	b := newMatch(pattern, []graph.NodeID{3, 7})

	require.Equal(t, "3,7", a.Key())
	require.Equal(t, a.Key(), b.Key())
	require.Equal(t, "{0=7 1=3}", a.String())
}
