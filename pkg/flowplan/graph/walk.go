package graph

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// WalkOrder selects when [Graph.Walk] calls back for a node relative to its
// consumers.
type WalkOrder uint8

const (
	PreOrderWalk  WalkOrder = iota // node before its consumers
	PostOrderWalk                  // node after all of its consumers
)

// WalkFunc is called by [Graph.Walk] for every visited node. A non-nil error
// stops the walk and is returned by Walk.
type WalkFunc func(n *Node) error

// Walk visits every node reachable from start along outgoing scopes, depth
// first with consumers in ascending id order. Each node is visited once.
func (g *Graph) Walk(start NodeID, order WalkOrder, f WalkFunc) error {
	if _, ok := g.Node(start); !ok {
		return fmt.Errorf("walk: node %d does not exist", start)
	}
	if order != PreOrderWalk && order != PostOrderWalk {
		return fmt.Errorf("walk: unknown order %d", order)
	}
	w := &walker{g: g, order: order, f: f, visited: bitset.New(uint(len(g.nodes)))}
	return w.visit(start)
}

type walker struct {
	g       *Graph
	order   WalkOrder
	f       WalkFunc
	visited *bitset.BitSet
}

func (w *walker) visit(id NodeID) error {
	if w.visited.Test(uint(id)) {
		return nil
	}
	w.visited.Set(uint(id))

	n := w.g.nodes[id]
	if w.order == PreOrderWalk {
		if err := w.f(n); err != nil {
			return err
		}
	}
	for _, c := range w.g.Successors(id) {
		if err := w.visit(c); err != nil {
			return err
		}
	}
	if w.order == PostOrderWalk {
		return w.f(n)
	}
	return nil
}
