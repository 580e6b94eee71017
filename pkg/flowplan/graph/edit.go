package graph

import (
	"fmt"
	"slices"
)

// InsertOnScope splices a new node of the given kind onto scope eid, so that
// producer -> consumer becomes producer -> new -> consumer. The scope leading
// into the consumer keeps its id, ordinal and metadata; the new scope leading
// into the inserted node shares the same metadata.
//
// InsertOnScope returns the id of the inserted node. It fails without
// modifying g if eid does not exist or kind cannot have both an input and an
// output.
func (g *Graph) InsertOnScope(eid EdgeID, kind Kind, name string, payload any) (NodeID, error) {
	s, ok := g.Scope(eid)
	if !ok {
		return InvalidNode, fmt.Errorf("scope %d does not exist", eid)
	}
	if !kind.Valid() || !kind.acceptsInput() || !kind.producesOutput() {
		return InvalidNode, fmt.Errorf("cannot insert %s node on scope %s", kind, s)
	}

	from := s.from
	id := g.AddNode(kind, name, payload)

	// The existing scope now leaves the inserted node, so the consumer's input
	// position is untouched.
	s.from = id
	g.out[id] = []EdgeID{eid}

	upstream := EdgeID(len(g.scopes))
	g.scopes = append(g.scopes, &Scope{id: upstream, from: from, to: id, Ordinal: 0, Meta: s.Meta})
	g.in[id] = []EdgeID{upstream}
	g.liveScopes++

	pos := slices.Index(g.out[from], eid)
	g.out[from][pos] = upstream

	return id, nil
}

// Remove deletes node id and connects each of its producers directly to each
// of its consumers. A replacement scope carries the metadata of the incoming
// scope and the ordinal of the outgoing scope.
//
// Remove fails without modifying g if the node does not exist or if it does
// not have at least one input and one output, since the data flow through it
// could not be preserved.
func (g *Graph) Remove(id NodeID) error {
	n, ok := g.Node(id)
	if !ok {
		return fmt.Errorf("node %d does not exist", id)
	}
	if len(g.in[id]) == 0 || len(g.out[id]) == 0 {
		return fmt.Errorf("cannot remove %s: node must have inputs and outputs", n)
	}

	var (
		ins  = slices.Clone(g.in[id])
		outs = slices.Clone(g.out[id])
	)

	// Replace every outgoing scope in place in its consumer's input list, so
	// consumers keep their input order.
	replacements := make(map[EdgeID][]EdgeID, len(ins))
	for _, oid := range outs {
		o := g.scopes[oid]
		spliced := make([]EdgeID, 0, len(ins))
		for _, iid := range ins {
			in := g.scopes[iid]
			nid := EdgeID(len(g.scopes))
			g.scopes = append(g.scopes, &Scope{id: nid, from: in.from, to: o.to, Ordinal: o.Ordinal, Meta: in.Meta})
			g.liveScopes++
			spliced = append(spliced, nid)
			replacements[iid] = append(replacements[iid], nid)
		}
		g.in[o.to] = replaceEdge(g.in[o.to], oid, spliced)
	}
	for _, iid := range ins {
		from := g.scopes[iid].from
		g.out[from] = replaceEdge(g.out[from], iid, replacements[iid])
	}

	for _, eid := range append(ins, outs...) {
		g.scopes[eid] = nil
		g.liveScopes--
	}
	g.dropNode(id)
	return nil
}

// Replace swaps node id for a new node of the given kind that inherits every
// scope of the old node. The old id is retired; the id of the new node is
// returned.
//
// Replace fails without modifying g if the node does not exist or if kind is
// not compatible with the node's adjacency (a Source cannot take inputs, a
// Sink cannot produce outputs).
func (g *Graph) Replace(id NodeID, kind Kind, name string, payload any) (NodeID, error) {
	n, ok := g.Node(id)
	if !ok {
		return InvalidNode, fmt.Errorf("node %d does not exist", id)
	}
	switch {
	case !kind.Valid():
		return InvalidNode, fmt.Errorf("cannot replace %s with invalid kind", n)
	case len(g.in[id]) > 0 && !kind.acceptsInput():
		return InvalidNode, fmt.Errorf("cannot replace %s with %s: node has inputs", n, kind)
	case len(g.out[id]) > 0 && !kind.producesOutput():
		return InvalidNode, fmt.Errorf("cannot replace %s with %s: node has outputs", n, kind)
	}

	nid := g.AddNode(kind, name, payload)
	for _, eid := range g.in[id] {
		g.scopes[eid].to = nid
	}
	for _, eid := range g.out[id] {
		g.scopes[eid].from = nid
	}
	g.in[nid], g.out[nid] = g.in[id], g.out[id]
	g.in[id], g.out[id] = nil, nil
	g.dropNode(id)
	return nid, nil
}

// Disconnect removes scope eid. It is intended for callers assembling or
// repairing a graph; the rewrite engine never calls it directly.
func (g *Graph) Disconnect(eid EdgeID) error {
	s, ok := g.Scope(eid)
	if !ok {
		return fmt.Errorf("scope %d does not exist", eid)
	}
	g.out[s.from] = slices.DeleteFunc(g.out[s.from], func(e EdgeID) bool { return e == eid })
	g.in[s.to] = slices.DeleteFunc(g.in[s.to], func(e EdgeID) bool { return e == eid })
	g.scopes[eid] = nil
	g.liveScopes--
	return nil
}

func (g *Graph) dropNode(id NodeID) {
	g.nodes[id] = nil
	g.in[id] = nil
	g.out[id] = nil
	g.liveNodes--
}

// replaceEdge returns list with old replaced by repl at the same position.
func replaceEdge(list []EdgeID, old EdgeID, repl []EdgeID) []EdgeID {
	pos := slices.Index(list, old)
	if pos < 0 {
		return append(list, repl...)
	}
	return slices.Replace(list, pos, pos+1, repl...)
}
