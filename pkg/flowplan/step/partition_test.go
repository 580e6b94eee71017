package step

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

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

func connect(t *testing.T, g *graph.Graph, edges ...[2]graph.NodeID) {
	t.Helper()
	for _, e := range edges {
		_, err := g.Connect(e[0], e[1], nil)
		require.NoError(t, err)
	}
}

func TestPartition_SingleBoundary(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindOperation, graph.KindBoundary, graph.KindGroup, graph.KindOperation, graph.KindSink)

	steps, err := Partition(g)
	require.NoError(t, err)
	require.Equal(t, 2, steps.Len())

	first, second := steps.Steps()[0], steps.Steps()[1]
	require.Equal(t, []graph.NodeID{ids[0], ids[1]}, first.Nodes)
	require.Equal(t, []graph.NodeID{ids[2], ids[3], ids[4], ids[5]}, second.Nodes)
	require.Empty(t, first.Inputs)
	require.Equal(t, []graph.NodeID{ids[2]}, first.Outputs)
	require.Equal(t, []graph.NodeID{ids[2]}, second.Inputs)
	require.Empty(t, second.Outputs)
	require.Len(t, first.Scopes, 1)
	require.Len(t, second.Scopes, 3)
	require.NotEqual(t, first.ID, second.ID)

	deps := steps.Dependencies()
	require.Len(t, deps, 1)
	require.Same(t, first, deps[0].From)
	require.Same(t, second, deps[0].To)
	require.Equal(t, ids[2], deps[0].Boundary)

	require.Equal(t, []*Step{first}, steps.Upstream(second))
	require.Equal(t, []*Step{second}, steps.Downstream(first))
	require.Empty(t, steps.Upstream(first))

	s, ok := steps.StepOf(ids[3])
	require.True(t, ok)
	require.Same(t, second, s)
	require.True(t, second.Contains(ids[2]))
	require.False(t, first.Contains(ids[2]))

	_, ok = steps.StepOf(graph.NodeID(42))
	require.False(t, ok)
	_, ok = steps.Step(2)
	require.False(t, ok)
	require.Same(t, g, steps.Elements())
}

func TestPartition_LinearChain(t *testing.T) {
	g := graph.New()
	ids := chain(t, g,
		graph.KindSource,
		graph.KindBoundary, graph.KindGroup,
		graph.KindBoundary, graph.KindGroup,
		graph.KindSink,
	)

	steps, err := Partition(g)
	require.NoError(t, err)
	require.Equal(t, 3, steps.Len())

	all := steps.Steps()
	require.Equal(t, []graph.NodeID{ids[0]}, all[0].Nodes)
	require.Equal(t, []graph.NodeID{ids[1], ids[2]}, all[1].Nodes)
	require.Equal(t, []graph.NodeID{ids[3], ids[4], ids[5]}, all[2].Nodes)

	require.Len(t, steps.Dependencies(), 2)
	require.Equal(t, []*Step{all[0]}, steps.Upstream(all[1]))
	require.Equal(t, []*Step{all[1]}, steps.Upstream(all[2]))
	for i, s := range all {
		require.Equal(t, i, s.Ordinal)
	}
}

func TestPartition_Merge(t *testing.T) {
	g := graph.New()
	var (
		a    = g.AddNode(graph.KindSource, "", nil)
		opA  = g.AddNode(graph.KindOperation, "", nil)
		b    = g.AddNode(graph.KindSource, "", nil)
		opB  = g.AddNode(graph.KindOperation, "", nil)
		ba   = g.AddNode(graph.KindBoundary, "", nil)
		bb   = g.AddNode(graph.KindBoundary, "", nil)
		m    = g.AddNode(graph.KindMerge, "", nil)
		sink = g.AddNode(graph.KindSink, "", nil)
	)
	connect(t, g,
		[2]graph.NodeID{a, opA}, [2]graph.NodeID{opA, ba},
		[2]graph.NodeID{b, opB}, [2]graph.NodeID{opB, bb},
		[2]graph.NodeID{ba, m}, [2]graph.NodeID{bb, m},
		[2]graph.NodeID{m, sink},
	)

	steps, err := Partition(g)
	require.NoError(t, err)
	require.Equal(t, 3, steps.Len())

	all := steps.Steps()
	require.Equal(t, []graph.NodeID{a, opA}, all[0].Nodes)
	require.Equal(t, []graph.NodeID{b, opB}, all[1].Nodes)
	require.Equal(t, []graph.NodeID{ba, bb, m, sink}, all[2].Nodes)
	require.Equal(t, []graph.NodeID{ba, bb}, all[2].Inputs)
	require.Equal(t, []*Step{all[0], all[1]}, steps.Upstream(all[2]))

	deps := steps.Dependencies()
	require.Len(t, deps, 2)
	require.Equal(t, ba, deps[0].Boundary)
	require.Equal(t, bb, deps[1].Boundary)
}

func TestPartition_NoBoundaries(t *testing.T) {
	g := graph.New()
	chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)
	chain(t, g, graph.KindSource, graph.KindSink)

	// Disconnected flows become independent steps.
	steps, err := Partition(g)
	require.NoError(t, err)
	require.Equal(t, 2, steps.Len())
	require.Empty(t, steps.Dependencies())
}

func TestPartition_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Partition(graph.New())
		requireReason(t, err, ReasonEmpty)
	})

	t.Run("boundary fed from its own step", func(t *testing.T) {
		g := graph.New()
		var (
			x    = g.AddNode(graph.KindSource, "", nil)
			b    = g.AddNode(graph.KindBoundary, "", nil)
			m    = g.AddNode(graph.KindMerge, "", nil)
			sink = g.AddNode(graph.KindSink, "", nil)
		)
		connect(t, g, [2]graph.NodeID{x, b}, [2]graph.NodeID{b, m}, [2]graph.NodeID{x, m}, [2]graph.NodeID{m, sink})

		_, err := Partition(g)
		requireReason(t, err, ReasonSelfDependency)
	})

	t.Run("steps depend on each other", func(t *testing.T) {
		g := graph.New()
		var (
			x    = g.AddNode(graph.KindSource, "", nil)
			b1   = g.AddNode(graph.KindBoundary, "", nil)
			op   = g.AddNode(graph.KindOperation, "", nil)
			b2   = g.AddNode(graph.KindBoundary, "", nil)
			m    = g.AddNode(graph.KindMerge, "", nil)
			sink = g.AddNode(graph.KindSink, "", nil)
		)
		connect(t, g,
			[2]graph.NodeID{x, b1}, [2]graph.NodeID{b1, op}, [2]graph.NodeID{op, b2},
			[2]graph.NodeID{b2, m}, [2]graph.NodeID{x, m}, [2]graph.NodeID{m, sink},
		)
		require.NoError(t, g.Validate())

		_, err := Partition(g)
		requireReason(t, err, ReasonCycle)
	})
}

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()

	require.ErrorIs(t, err, ErrNoValidPartition)
	var perr *PartitionError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, reason, perr.Reason)
}

func TestSprint(t *testing.T) {
	g := graph.New()
	chain(t, g, graph.KindSource, graph.KindOperation, graph.KindBoundary, graph.KindGroup, graph.KindOperation, graph.KindSink)

	steps, err := Partition(g)
	require.NoError(t, err)

	expected := `
Plan steps=2 dependencies=1
├── Step #0 upstream=()
│   │   └── Output #2 to=(1)
│   ├── Source#0
│   └── Operation#1
└── Step #1 upstream=(0)
    │   └── Input #2 from=(0)
    ├── Boundary#2
    ├── Group#3
    ├── Operation#4
    └── Sink#5
`
	require.Equal(t, expected, "\n"+Sprint(steps))
	require.Equal(t, Sprint(steps), steps.String())
}
