// Package graph provides the element graph: the DAG of pipeline elements that
// is rewritten by the planner.
//
// Nodes and scopes (edges) live in an arena and are addressed by stable
// integer ids. Ids are never reused within the lifetime of a graph, so a
// NodeID captured by a match stays meaningful after unrelated edits. Payloads
// attached to nodes and scopes are owned by the caller and never copied.
package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// NodeID identifies a node within a single [Graph].
type NodeID int

// EdgeID identifies a scope within a single [Graph].
type EdgeID int

const (
	// InvalidNode is never assigned to a node.
	InvalidNode NodeID = -1
	// InvalidEdge is never assigned to a scope.
	InvalidEdge EdgeID = -1
)

// Node is a pipeline element. The kind of a node never changes once created.
type Node struct {
	id   NodeID
	kind Kind

	Name    string // Name is a human readable label; not required to be unique.
	Payload any    // Payload is owned by the caller and opaque to the planner.
}

// ID returns the id of n.
func (n *Node) ID() NodeID { return n.id }

// Kind returns the kind of n.
func (n *Node) Kind() Kind { return n.kind }

func (n *Node) String() string {
	if n.Name == "" {
		return fmt.Sprintf("%s#%d", n.kind, n.id)
	}
	return fmt.Sprintf("%s#%d(%s)", n.kind, n.id, n.Name)
}

// Scope is a directed edge from a producer node to a consumer node.
type Scope struct {
	id       EdgeID
	from, to NodeID

	// Ordinal is the position of this scope among the inputs of its consumer.
	Ordinal int
	// Meta is schema-propagation metadata owned by the caller. Edits keep it
	// attached to the data flow it describes.
	Meta any
}

// ID returns the id of s.
func (s *Scope) ID() EdgeID { return s.id }

// From returns the producer of s.
func (s *Scope) From() NodeID { return s.from }

// To returns the consumer of s.
func (s *Scope) To() NodeID { return s.to }

func (s *Scope) String() string { return fmt.Sprintf("%d->%d", s.from, s.to) }

// Graph is a directed acyclic graph of pipeline elements. The zero value is
// not usable; create graphs with [New].
//
// Graph is not safe for concurrent mutation.
type Graph struct {
	nodes  []*Node  // indexed by NodeID; nil once removed
	scopes []*Scope // indexed by EdgeID; nil once removed

	in  [][]EdgeID // incoming scopes per node, in ordinal order
	out [][]EdgeID // outgoing scopes per node, in insertion order

	liveNodes  int
	liveScopes int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// AddNode adds a new node of the given kind and returns its id. AddNode
// panics if kind is not valid, since that is always a programming error.
func (g *Graph) AddNode(kind Kind, name string, payload any) NodeID {
	if !kind.Valid() {
		panic(fmt.Sprintf("graph: invalid node kind %d", kind))
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{id: id, kind: kind, Name: name, Payload: payload})
	g.in = append(g.in, nil)
	g.out = append(g.out, nil)
	g.liveNodes++
	return id
}

// Connect adds a scope from producer to consumer. The new scope becomes the
// last input of consumer.
//
// Connect returns an error if either node does not exist, if the scope is a
// self loop, if it would close a cycle, or if it leaves a Sink or enters a
// Source.
func (g *Graph) Connect(from, to NodeID, meta any) (EdgeID, error) {
	fromNode, ok := g.Node(from)
	if !ok {
		return InvalidEdge, fmt.Errorf("producer node %d does not exist", from)
	}
	toNode, ok := g.Node(to)
	if !ok {
		return InvalidEdge, fmt.Errorf("consumer node %d does not exist", to)
	}
	switch {
	case from == to:
		return InvalidEdge, fmt.Errorf("self loop on %s", fromNode)
	case !fromNode.kind.producesOutput():
		return InvalidEdge, fmt.Errorf("%s cannot have outputs", fromNode)
	case !toNode.kind.acceptsInput():
		return InvalidEdge, fmt.Errorf("%s cannot have inputs", toNode)
	case g.reachable(to, from):
		return InvalidEdge, fmt.Errorf("scope %s -> %s would introduce a cycle", fromNode, toNode)
	}
	return g.connect(from, to, len(g.in[to]), meta), nil
}

// connect adds a scope without any validation.
func (g *Graph) connect(from, to NodeID, ordinal int, meta any) EdgeID {
	id := EdgeID(len(g.scopes))
	g.scopes = append(g.scopes, &Scope{id: id, from: from, to: to, Ordinal: ordinal, Meta: meta})
	g.out[from] = append(g.out[from], id)
	g.in[to] = append(g.in[to], id)
	g.liveScopes++
	return id
}

var errReached = errors.New("target reached")

// reachable reports whether target can be reached from start by following
// outgoing scopes.
func (g *Graph) reachable(start, target NodeID) bool {
	err := g.Walk(start, PreOrderWalk, func(n *Node) error {
		if n.id == target {
			return errReached
		}
		return nil
	})
	return errors.Is(err, errReached)
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	if id < 0 || int(id) >= len(g.nodes) || g.nodes[id] == nil {
		return nil, false
	}
	return g.nodes[id], true
}

// Kind returns the kind of the node with the given id, or KindInvalid if no
// such node exists.
func (g *Graph) Kind(id NodeID) Kind {
	if n, ok := g.Node(id); ok {
		return n.kind
	}
	return KindInvalid
}

// Scope returns the scope with the given id.
func (g *Graph) Scope(id EdgeID) (*Scope, bool) {
	if id < 0 || int(id) >= len(g.scopes) || g.scopes[id] == nil {
		return nil, false
	}
	return g.scopes[id], true
}

// Len returns the number of nodes in g.
func (g *Graph) Len() int { return g.liveNodes }

// ScopeLen returns the number of scopes in g.
func (g *Graph) ScopeLen() int { return g.liveScopes }

// Cap returns one past the largest node id ever assigned in g. It is useful
// for sizing per-node lookup tables.
func (g *Graph) Cap() int { return len(g.nodes) }

// Nodes returns an iterator over all nodes in ascending id order.
func (g *Graph) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, n := range g.nodes {
			if n == nil {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// NodeIDs returns the ids of all nodes in ascending order.
func (g *Graph) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, g.liveNodes)
	for n := range g.Nodes() {
		ids = append(ids, n.id)
	}
	return ids
}

// Scopes returns an iterator over all scopes in ascending id order.
func (g *Graph) Scopes() iter.Seq[*Scope] {
	return func(yield func(*Scope) bool) {
		for _, s := range g.scopes {
			if s == nil {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// InScopes returns the incoming scopes of id in ordinal order.
func (g *Graph) InScopes(id NodeID) []*Scope { return g.resolve(g.in, id) }

// OutScopes returns the outgoing scopes of id in insertion order.
func (g *Graph) OutScopes(id NodeID) []*Scope { return g.resolve(g.out, id) }

func (g *Graph) resolve(adj [][]EdgeID, id NodeID) []*Scope {
	if _, ok := g.Node(id); !ok {
		return nil
	}
	res := make([]*Scope, 0, len(adj[id]))
	for _, eid := range adj[id] {
		res = append(res, g.scopes[eid])
	}
	return res
}

// InDegree returns the number of incoming scopes of id.
func (g *Graph) InDegree(id NodeID) int {
	if _, ok := g.Node(id); !ok {
		return 0
	}
	return len(g.in[id])
}

// OutDegree returns the number of outgoing scopes of id.
func (g *Graph) OutDegree(id NodeID) int {
	if _, ok := g.Node(id); !ok {
		return 0
	}
	return len(g.out[id])
}

// Predecessors returns the distinct producers of id in ascending order.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	if _, ok := g.Node(id); !ok {
		return nil
	}
	res := make([]NodeID, 0, len(g.in[id]))
	for _, eid := range g.in[id] {
		res = append(res, g.scopes[eid].from)
	}
	slices.Sort(res)
	return slices.Compact(res)
}

// Successors returns the distinct consumers of id in ascending order.
func (g *Graph) Successors(id NodeID) []NodeID {
	if _, ok := g.Node(id); !ok {
		return nil
	}
	res := make([]NodeID, 0, len(g.out[id]))
	for _, eid := range g.out[id] {
		res = append(res, g.scopes[eid].to)
	}
	slices.Sort(res)
	return slices.Compact(res)
}

// HasEdge reports whether at least one scope leads from producer to consumer.
func (g *Graph) HasEdge(from, to NodeID) bool {
	if _, ok := g.Node(from); !ok {
		return false
	}
	for _, eid := range g.out[from] {
		if g.scopes[eid].to == to {
			return true
		}
	}
	return false
}

// Heads returns the nodes without incoming scopes in ascending order.
func (g *Graph) Heads() []NodeID {
	var res []NodeID
	for n := range g.Nodes() {
		if len(g.in[n.id]) == 0 {
			res = append(res, n.id)
		}
	}
	return res
}

// Tails returns the nodes without outgoing scopes in ascending order.
func (g *Graph) Tails() []NodeID {
	var res []NodeID
	for n := range g.Nodes() {
		if len(g.out[n.id]) == 0 {
			res = append(res, n.id)
		}
	}
	return res
}

// TopologicalOrder returns all node ids such that every producer precedes its
// consumers. Among nodes that are ready at the same time, the smallest id
// comes first, which makes the order deterministic.
//
// TopologicalOrder returns a [*MalformedError] if g contains a cycle.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	indegree := make([]int, len(g.nodes))
	var ready []NodeID
	for n := range g.Nodes() {
		indegree[n.id] = len(g.in[n.id])
		if indegree[n.id] == 0 {
			ready = append(ready, n.id)
		}
	}

	order := make([]NodeID, 0, g.liveNodes)
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, eid := range g.out[next] {
			to := g.scopes[eid].to
			indegree[to]--
			if indegree[to] == 0 {
				pos, _ := slices.BinarySearch(ready, to)
				ready = slices.Insert(ready, pos, to)
			}
		}
	}

	if len(order) != g.liveNodes {
		var remaining []NodeID
		for n := range g.Nodes() {
			if indegree[n.id] > 0 {
				remaining = append(remaining, n.id)
			}
		}
		return nil, &MalformedError{Reason: ReasonCycle, Nodes: remaining, Scope: InvalidEdge, Msg: g.describe(remaining)}
	}
	return order, nil
}

// Clone returns a structural copy of g. Payloads and scope metadata are
// shared with g, not copied.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:      make([]*Node, len(g.nodes)),
		scopes:     make([]*Scope, len(g.scopes)),
		in:         make([][]EdgeID, len(g.in)),
		out:        make([][]EdgeID, len(g.out)),
		liveNodes:  g.liveNodes,
		liveScopes: g.liveScopes,
	}
	for i, n := range g.nodes {
		if n != nil {
			cp := *n
			c.nodes[i] = &cp
		}
	}
	for i, s := range g.scopes {
		if s != nil {
			cp := *s
			c.scopes[i] = &cp
		}
	}
	for i := range g.in {
		c.in[i] = slices.Clone(g.in[i])
		c.out[i] = slices.Clone(g.out[i])
	}
	return c
}

// Fingerprint returns a hash of the structure of g: live node ids and kinds,
// and live scopes with their endpoints and ordinals. Payloads are ignored.
// Two graphs with equal fingerprints are structurally identical with high
// probability.
func (g *Graph) Fingerprint() uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 32)

	for n := range g.Nodes() {
		buf = buf[:0]
		buf = append(buf, 'n')
		buf = binary.LittleEndian.AppendUint64(buf, uint64(n.id))
		buf = append(buf, byte(n.kind))
		_, _ = d.Write(buf)
	}
	for s := range g.Scopes() {
		buf = buf[:0]
		buf = append(buf, 's')
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.id))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.from))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.to))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Ordinal))
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// describe renders the given nodes with their kinds for error messages.
func (g *Graph) describe(ids []NodeID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.Node(id); ok {
			parts = append(parts, n.String())
		} else {
			parts = append(parts, fmt.Sprintf("#%d", id))
		}
	}
	return fmt.Sprint(parts)
}
