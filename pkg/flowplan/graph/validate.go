package graph

import "fmt"

// Validate checks the structural invariants of g:
//
//   - g has at least one node;
//   - g is acyclic and every scope references live nodes;
//   - Sources have no inputs and Sinks have no outputs;
//   - every other node has at least one input and at least one output;
//   - Operation, Pipe, Boundary, Sink and Checkpoint nodes have exactly one
//     input.
//
// The first violation found is returned as a [*MalformedError]. Nodes are
// checked in ascending id order so the reported violation is deterministic.
func (g *Graph) Validate() error {
	if g.liveNodes == 0 {
		return &MalformedError{Reason: ReasonEmpty, Scope: InvalidEdge, Msg: "graph has no nodes"}
	}

	for s := range g.Scopes() {
		if _, ok := g.Node(s.from); !ok {
			return &MalformedError{Reason: ReasonDangling, Nodes: []NodeID{s.from}, Scope: s.id, Msg: fmt.Sprintf("scope %d references missing producer %d", s.id, s.from)}
		}
		if _, ok := g.Node(s.to); !ok {
			return &MalformedError{Reason: ReasonDangling, Nodes: []NodeID{s.to}, Scope: s.id, Msg: fmt.Sprintf("scope %d references missing consumer %d", s.id, s.to)}
		}
	}

	for n := range g.Nodes() {
		var (
			in  = len(g.in[n.id])
			out = len(g.out[n.id])
		)
		switch {
		case n.kind == KindSource && in > 0:
			return g.malformed(ReasonSourceInput, n, g.in[n.id][0], "source has %d inputs", in)
		case n.kind == KindSink && out > 0:
			return g.malformed(ReasonSinkOutput, n, g.out[n.id][0], "sink has %d outputs", out)
		case n.kind != KindSource && in == 0:
			return g.malformed(ReasonMissingInput, n, InvalidEdge, "node has no inputs")
		case n.kind != KindSink && out == 0:
			return g.malformed(ReasonMissingOutput, n, InvalidEdge, "node has no outputs")
		case n.kind.singleInput() && in != 1:
			return g.malformed(ReasonArity, n, g.in[n.id][1], "node takes exactly one input, has %d", in)
		}
	}

	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

func (g *Graph) malformed(reason Reason, n *Node, scope EdgeID, format string, args ...any) *MalformedError {
	return &MalformedError{
		Reason: reason,
		Nodes:  []NodeID{n.id},
		Scope:  scope,
		Msg:    fmt.Sprintf("%s: %s", n, fmt.Sprintf(format, args...)),
	}
}
