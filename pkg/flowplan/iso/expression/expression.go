// Package expression implements the pattern language used to describe
// structural shapes in an element graph.
//
// An [Expression] is a predicate over a single node, built from kind tests
// and boolean combinators. A [Graph] arranges expressions into a small
// pattern whose edges require adjacency between the matched nodes.
package expression

import (
	"fmt"
	"strings"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

// Op identifies the variant of an [Expression].
type Op uint8

const (
	OpInvalid Op = iota
	OpAny        // OpAny matches every node.
	OpKind       // OpKind matches nodes of a single kind.
	OpAnd        // OpAnd matches if all children match.
	OpOr         // OpOr matches if any child matches.
	OpNot        // OpNot matches if its only child does not match.
)

// Topo restricts a pattern node by its role within the current match. Only
// element neighbours bound to pattern neighbours are considered: an element
// predecessor bound to a pattern node that is not a predecessor in the
// pattern does not count.
type Topo uint8

const (
	// TopoAny places no restriction.
	TopoAny Topo = iota
	// TopoHead requires that no element predecessor of the node is bound to
	// one of its pattern predecessors.
	TopoHead
	// TopoTail requires that no element successor of the node is bound to
	// one of its pattern successors.
	TopoTail
	// TopoLinear requires exactly one matched predecessor and exactly one
	// matched successor.
	TopoLinear
)

func (t Topo) String() string {
	switch t {
	case TopoAny:
		return "any"
	case TopoHead:
		return "head"
	case TopoTail:
		return "tail"
	case TopoLinear:
		return "linear"
	}
	return "invalid"
}

// Capture names a group of matched nodes. The empty capture means the
// expression is not captured.
type Capture string

const (
	NoCapture Capture = ""
	Primary   Capture = "primary"
	Secondary Capture = "secondary"
	Include   Capture = "include"
)

// Expression is a pure predicate over a node of an element graph. The zero
// value is invalid; build expressions with the constructors in this package.
//
// Capture and Topo are independent modifiers. They only have meaning on the
// outermost expression placed in a pattern [Graph]; on nested children they
// are ignored.
type Expression struct {
	Op       Op
	Kind     graph.Kind   // Kind is set for OpKind.
	Children []Expression // Children are set for OpAnd, OpOr and OpNot.

	Topo    Topo
	Capture Capture
}

// Modifier adjusts the capture or topology of an expression.
type Modifier func(*Expression)

// WithCapture tags the expression with capture c.
func WithCapture(c Capture) Modifier { return func(e *Expression) { e.Capture = c } }

// WithTopo restricts the expression with topology t.
func WithTopo(t Topo) Modifier { return func(e *Expression) { e.Topo = t } }

func build(e Expression, mods []Modifier) Expression {
	for _, mod := range mods {
		mod(&e)
	}
	return e
}

// Any returns an expression that matches every node.
func Any(mods ...Modifier) Expression {
	return build(Expression{Op: OpAny}, mods)
}

// KindIs returns an expression that matches nodes of kind k.
func KindIs(k graph.Kind, mods ...Modifier) Expression {
	return build(Expression{Op: OpKind, Kind: k}, mods)
}

// And returns an expression that matches nodes matched by all of exprs.
func And(exprs ...Expression) Expression {
	return Expression{Op: OpAnd, Children: exprs}
}

// Or returns an expression that matches nodes matched by any of exprs.
func Or(exprs ...Expression) Expression {
	return Expression{Op: OpOr, Children: exprs}
}

// Not returns an expression that matches nodes not matched by expr.
func Not(expr Expression) Expression {
	return Expression{Op: OpNot, Children: []Expression{expr}}
}

// OneOf returns an expression that matches any of the given kinds.
func OneOf(kinds ...graph.Kind) Expression {
	children := make([]Expression, 0, len(kinds))
	for _, k := range kinds {
		children = append(children, KindIs(k))
	}
	return Or(children...)
}

// Boundaries returns an expression matching every node that bounds a unit of
// execution: Group, Merge, Boundary and the tap-like Source and Checkpoint.
func Boundaries(mods ...Modifier) Expression {
	return build(OneOf(graph.KindGroup, graph.KindMerge, graph.KindBoundary, graph.KindSource, graph.KindCheckpoint), mods)
}

// With returns a copy of e with the modifiers applied.
func (e Expression) With(mods ...Modifier) Expression { return build(e, mods) }

// Validate checks that e and all its children are well-formed.
func (e Expression) Validate() error {
	switch e.Op {
	case OpAny:
		return nil
	case OpKind:
		if !e.Kind.Valid() {
			return fmt.Errorf("kind expression with invalid kind %d", e.Kind)
		}
		return nil
	case OpAnd, OpOr:
		if len(e.Children) == 0 {
			return fmt.Errorf("%s expression requires at least one child", e.opName())
		}
	case OpNot:
		if len(e.Children) != 1 {
			return fmt.Errorf("not expression requires exactly one child, got %d", len(e.Children))
		}
	default:
		return fmt.Errorf("invalid expression op %d", e.Op)
	}
	for _, child := range e.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate reports whether node id of g satisfies the predicate of e.
// Topology constraints are not part of the predicate; they are evaluated by
// the matcher against the current partial match. Evaluate returns false for
// nodes that do not exist.
func Evaluate(e Expression, g *graph.Graph, id graph.NodeID) bool {
	n, ok := g.Node(id)
	if !ok {
		return false
	}
	return evaluate(e, n.Kind())
}

func evaluate(e Expression, kind graph.Kind) bool {
	switch e.Op {
	case OpAny:
		return true
	case OpKind:
		return kind == e.Kind
	case OpAnd:
		for _, child := range e.Children {
			if !evaluate(child, kind) {
				return false
			}
		}
		return true
	case OpOr:
		for _, child := range e.Children {
			if evaluate(child, kind) {
				return true
			}
		}
		return false
	case OpNot:
		return len(e.Children) == 1 && !evaluate(e.Children[0], kind)
	}
	return false
}

// Selectivity returns how many kinds e accepts. Lower is more selective.
func (e Expression) Selectivity() int {
	var n int
	for _, k := range graph.Kinds() {
		if evaluate(e, k) {
			n++
		}
	}
	return n
}

func (e Expression) opName() string {
	switch e.Op {
	case OpAny:
		return "any"
	case OpKind:
		return "kind"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	}
	return "invalid"
}

func (e Expression) String() string {
	var sb strings.Builder
	e.format(&sb)
	if e.Topo != TopoAny {
		fmt.Fprintf(&sb, " topo=%s", e.Topo)
	}
	if e.Capture != NoCapture {
		fmt.Fprintf(&sb, " capture=%s", e.Capture)
	}
	return sb.String()
}

func (e Expression) format(sb *strings.Builder) {
	switch e.Op {
	case OpAny:
		sb.WriteString("*")
	case OpKind:
		sb.WriteString(e.Kind.String())
	case OpNot:
		sb.WriteString("!")
		if len(e.Children) == 1 {
			e.Children[0].format(sb)
		}
	case OpAnd, OpOr:
		sep := " & "
		if e.Op == OpOr {
			sep = " | "
		}
		sb.WriteString("(")
		for i, child := range e.Children {
			if i > 0 {
				sb.WriteString(sep)
			}
			child.format(sb)
		}
		sb.WriteString(")")
	default:
		sb.WriteString("<invalid>")
	}
}
