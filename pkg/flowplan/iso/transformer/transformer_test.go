package transformer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/expression"
	"github.com/grafana/flowplan/pkg/flowplan/iso/finder"
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

func first(t *testing.T, pattern *expression.Graph, g *graph.Graph) *finder.Match {
	t.Helper()

	m, ok := finder.New(pattern).First(g)
	require.True(t, ok, "pattern %s has no match", pattern)
	return m
}

func TestInsertBefore(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindOperation, graph.KindGroup, graph.KindSink)
	op, group := ids[1], ids[2]

	rule := &Rule{
		Name:      "boundary-before-group",
		Pattern:   expression.Single(expression.KindIs(graph.KindGroup, expression.WithCapture(expression.Primary))),
		Transform: InsertBefore{Capture: expression.Primary, Kind: graph.KindBoundary, Name: "boundary"},
	}
	require.NoError(t, rule.Validate())

	m := first(t, rule.Pattern, g)
	require.NoError(t, rule.Apply(g, m))
	require.NoError(t, g.Validate())

	preds := g.Predecessors(group)
	require.Len(t, preds, 1)
	require.Equal(t, graph.KindBoundary, g.Kind(preds[0]))
	require.Equal(t, []graph.NodeID{op}, g.Predecessors(preds[0]))

	// Every input is now fed by a boundary; a second application inserts
	// nothing and reports a violation.
	err := rule.Apply(g, m)
	require.ErrorIs(t, err, ErrTransformViolation)
	require.Equal(t, 5, g.Len())
}

func TestInsertBefore_OnlyUnguardedInputs(t *testing.T) {
	g := graph.New()
	var (
		a     = g.AddNode(graph.KindSource, "", nil)
		b     = g.AddNode(graph.KindSource, "", nil)
		guard = g.AddNode(graph.KindBoundary, "", nil)
		merge = g.AddNode(graph.KindMerge, "", nil)
		sink  = g.AddNode(graph.KindSink, "", nil)
	)
	_, _ = g.Connect(a, guard, nil)
	_, _ = g.Connect(guard, merge, nil)
	_, _ = g.Connect(b, merge, nil)
	_, _ = g.Connect(merge, sink, nil)

	m := first(t, expression.Single(expression.KindIs(graph.KindMerge, expression.WithCapture(expression.Primary))), g)
	tr := InsertBefore{Capture: expression.Primary, Kind: graph.KindBoundary}
	require.NoError(t, tr.Apply(g, m))
	require.NoError(t, g.Validate())

	// Input order of the merge is preserved.
	in := g.InScopes(merge)
	require.Len(t, in, 2)
	require.Equal(t, guard, in[0].From())
	require.Equal(t, graph.KindBoundary, g.Kind(in[1].From()))
	require.Equal(t, []graph.NodeID{b}, g.Predecessors(in[1].From()))
	require.Equal(t, 6, g.Len())
}

func TestInsertAfter(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)

	m := first(t, expression.Single(expression.KindIs(graph.KindOperation, expression.WithCapture(expression.Primary))), g)
	tr := InsertAfter{Capture: expression.Primary, Kind: graph.KindCheckpoint, Name: "ckpt"}
	require.NoError(t, tr.Apply(g, m))
	require.NoError(t, g.Validate())

	succs := g.Successors(ids[1])
	require.Len(t, succs, 1)
	n, ok := g.Node(succs[0])
	require.True(t, ok)
	require.Equal(t, graph.KindCheckpoint, n.Kind())
	require.Equal(t, "ckpt", n.Name)
	require.Equal(t, []graph.NodeID{ids[2]}, g.Successors(succs[0]))

	require.Error(t, tr.Apply(g, m))
}

func TestRemove(t *testing.T) {
	g := graph.New()
	ids := chain(t, g, graph.KindSource, graph.KindPipe, graph.KindOperation, graph.KindSink)

	m := first(t, expression.Single(expression.KindIs(graph.KindPipe, expression.WithCapture(expression.Primary))), g)
	require.NoError(t, Remove{Capture: expression.Primary}.Apply(g, m))
	require.NoError(t, g.Validate())

	require.Equal(t, 3, g.Len())
	require.True(t, g.HasEdge(ids[0], ids[2]))
}

func TestReplace(t *testing.T) {
	g := graph.New()
	var (
		src   = g.AddNode(graph.KindSource, "", nil)
		merge = g.AddNode(graph.KindMerge, "join", "payload")
		sink  = g.AddNode(graph.KindSink, "", nil)
	)
	_, _ = g.Connect(src, merge, nil)
	_, _ = g.Connect(merge, sink, nil)

	m := first(t, expression.Single(expression.KindIs(graph.KindMerge, expression.WithCapture(expression.Primary))), g)
	require.NoError(t, Replace{Capture: expression.Primary, Kind: graph.KindPipe}.Apply(g, m))
	require.NoError(t, g.Validate())

	_, ok := g.Node(merge)
	require.False(t, ok)

	succs := g.Successors(src)
	require.Len(t, succs, 1)
	n, _ := g.Node(succs[0])
	require.Equal(t, graph.KindPipe, n.Kind())
	require.Equal(t, "join", n.Name)
	require.Equal(t, "payload", n.Payload)
	require.Equal(t, []graph.NodeID{sink}, g.Successors(n.ID()))
}

func TestRule_Errors(t *testing.T) {
	t.Run("missing capture", func(t *testing.T) {
		g := graph.New()
		chain(t, g, graph.KindSource, graph.KindPipe, graph.KindSink)

		rule := &Rule{
			Name:      "remove-uncaptured",
			Pattern:   expression.Single(expression.KindIs(graph.KindPipe)),
			Transform: Remove{Capture: expression.Primary},
		}
		err := rule.Apply(g, first(t, rule.Pattern, g))
		require.ErrorIs(t, err, ErrTransformViolation)

		var verr *ViolationError
		require.True(t, errors.As(err, &verr))
		require.Equal(t, "remove-uncaptured", verr.Rule)
		require.Equal(t, []graph.NodeID{1}, verr.Nodes)
	})

	t.Run("incompatible replacement", func(t *testing.T) {
		g := graph.New()
		chain(t, g, graph.KindSource, graph.KindOperation, graph.KindSink)

		rule := &Rule{
			Name:      "operation-to-source",
			Pattern:   expression.Single(expression.KindIs(graph.KindOperation, expression.WithCapture(expression.Primary))),
			Transform: Replace{Capture: expression.Primary, Kind: graph.KindSource},
		}
		require.ErrorIs(t, rule.Apply(g, first(t, rule.Pattern, g)), ErrTransformViolation)
		require.NoError(t, g.Validate())
	})

	t.Run("incomplete rules", func(t *testing.T) {
		require.Error(t, (&Rule{}).Validate())
		require.Error(t, (&Rule{Name: "x"}).Validate())
		require.Error(t, (&Rule{Name: "x", Pattern: expression.Single(expression.Any())}).Validate())
	})
}

func TestRule_Applicable(t *testing.T) {
	g := graph.New()
	chain(t, g, graph.KindSource, graph.KindMerge, graph.KindSink)

	rule := &Rule{
		Name:    "single-input-merge",
		Pattern: expression.Single(expression.KindIs(graph.KindMerge, expression.WithCapture(expression.Primary))),
		Check: func(g *graph.Graph, m *finder.Match) bool {
			n, _ := m.CapturedNode(expression.Primary)
			return g.InDegree(n) == 1
		},
		Transform: Replace{Capture: expression.Primary, Kind: graph.KindPipe},
	}
	m := first(t, rule.Pattern, g)
	require.True(t, rule.Applicable(g, m))

	extra := g.AddNode(graph.KindSource, "", nil)
	n, _ := m.CapturedNode(expression.Primary)
	_, err := g.Connect(extra, n, nil)
	require.NoError(t, err)
	require.False(t, rule.Applicable(g, m))
}
