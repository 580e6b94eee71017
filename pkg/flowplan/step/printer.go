package step

import (
	"slices"
	"strconv"
	"strings"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/internal/tree"
)

// Sprint renders the steps of g as a tree, one step per branch. The
// Boundary elements a step reads from and writes to are printed as comments
// of the step.
func Sprint(g *Graph) string {
	root := tree.NewNode("Plan", "",
		tree.NewProperty("steps", false, g.Len()),
		tree.NewProperty("dependencies", false, len(g.deps)),
	)

	for _, s := range g.steps {
		node := root.AddChild("Step", strconv.Itoa(s.Ordinal),
			tree.NewProperty("upstream", true, ordinals(g.Upstream(s))...),
		)
		for _, b := range s.Inputs {
			node.AddComment("Input", strconv.Itoa(int(b)),
				tree.NewProperty("from", true, ordinals(g.boundarySteps(b, true))...),
			)
		}
		for _, b := range s.Outputs {
			node.AddComment("Output", strconv.Itoa(int(b)),
				tree.NewProperty("to", true, ordinals(g.boundarySteps(b, false))...),
			)
		}
		for _, id := range s.Nodes {
			if n, ok := g.elements.Node(id); ok {
				node.AddChild(n.String(), "")
			}
		}
	}

	var sb strings.Builder
	tree.NewPrinter(&sb).Print(root)
	return sb.String()
}

// boundarySteps returns the producing steps of boundary b, or its consuming
// steps if producers is false.
func (g *Graph) boundarySteps(b graph.NodeID, producers bool) []*Step {
	var res []*Step
	for _, d := range g.deps {
		if d.Boundary != b {
			continue
		}
		s := d.To
		if producers {
			s = d.From
		}
		if !slices.Contains(res, s) {
			res = append(res, s)
		}
	}
	return res
}

func ordinals(steps []*Step) []any {
	res := make([]any, 0, len(steps))
	for _, s := range steps {
		res = append(res, s.Ordinal)
	}
	return res
}
