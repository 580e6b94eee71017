package finder

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/expression"
)

// Match assigns an element graph node to every node of a pattern. Matches
// are transient: they describe the graph as it was when they were found and
// become stale once the graph is edited.
type Match struct {
	pattern    *expression.Graph
	assignment []graph.NodeID // indexed by pattern node id
}

func newMatch(pattern *expression.Graph, assignment []graph.NodeID) *Match {
	return &Match{pattern: pattern, assignment: slices.Clone(assignment)}
}

// Pattern returns the pattern m matches.
func (m *Match) Pattern() *expression.Graph { return m.pattern }

// Node returns the element node assigned to pattern node id.
func (m *Match) Node(id int) graph.NodeID { return m.assignment[id] }

// Assignment returns the element nodes indexed by pattern node id.
func (m *Match) Assignment() []graph.NodeID { return slices.Clone(m.assignment) }

// Captured returns the element nodes matched by the pattern nodes tagged
// with c, in the order those pattern nodes were added to the pattern.
func (m *Match) Captured(c expression.Capture) []graph.NodeID {
	ids := m.pattern.Captured(c)
	res := make([]graph.NodeID, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.assignment[id])
	}
	return res
}

// CapturedNode returns the first element node captured by c.
func (m *Match) CapturedNode(c expression.Capture) (graph.NodeID, bool) {
	ids := m.pattern.Captured(c)
	if len(ids) == 0 {
		return graph.InvalidNode, false
	}
	return m.assignment[ids[0]], true
}

// Nodes returns the matched element nodes in ascending order.
func (m *Match) Nodes() []graph.NodeID {
	res := slices.Clone(m.assignment)
	slices.Sort(res)
	return res
}

// Key returns the canonical form of m: its matched node set. Two matches
// that bind the same element nodes to different pattern nodes share a key.
func (m *Match) Key() string {
	nodes := m.Nodes()
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = strconv.Itoa(int(n))
	}
	return strings.Join(parts, ",")
}

func (m *Match) String() string {
	parts := make([]string, len(m.assignment))
	for id, n := range m.assignment {
		parts[id] = fmt.Sprintf("%d=%d", id, n)
	}
	return "{" + strings.Join(parts, " ") + "}"
}
