// Package transformer defines rewrite rules: a pattern to find and a
// transform that edits the element graph at every match.
package transformer

import (
	"errors"
	"fmt"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/expression"
	"github.com/grafana/flowplan/pkg/flowplan/iso/finder"
)

// ErrTransformViolation is wrapped by every [*ViolationError].
var ErrTransformViolation = errors.New("transform violation")

// ViolationError reports that applying a rule to a match failed or would
// have broken a graph invariant. The graph is left untouched.
type ViolationError struct {
	Rule  string
	Nodes []graph.NodeID
	Err   error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: rule %s on nodes %v: %v", ErrTransformViolation, e.Rule, e.Nodes, e.Err)
}

func (e *ViolationError) Unwrap() []error { return []error{ErrTransformViolation, e.Err} }

// A Transform edits g at the location described by m.
type Transform interface {
	Apply(g *graph.Graph, m *finder.Match) error
}

// TransformFunc adapts a function to the [Transform] interface.
type TransformFunc func(g *graph.Graph, m *finder.Match) error

// Apply calls f(g, m).
func (f TransformFunc) Apply(g *graph.Graph, m *finder.Match) error { return f(g, m) }

// Rule pairs a pattern with the transform applied at each of its matches.
type Rule struct {
	Name    string
	Pattern *expression.Graph

	// Check is an optional guard evaluated on each match before Transform.
	// Matches for which Check returns false are ignored.
	Check func(g *graph.Graph, m *finder.Match) bool

	Transform Transform
}

// Validate checks that r is complete.
func (r *Rule) Validate() error {
	switch {
	case r.Name == "":
		return errors.New("rule has no name")
	case r.Pattern == nil:
		return fmt.Errorf("rule %s has no pattern", r.Name)
	case r.Transform == nil:
		return fmt.Errorf("rule %s has no transform", r.Name)
	}
	return nil
}

// Applicable reports whether r should be applied to m.
func (r *Rule) Applicable(g *graph.Graph, m *finder.Match) bool {
	return r.Check == nil || r.Check(g, m)
}

// Apply applies the transform of r to g at m. Errors are returned as
// [*ViolationError]. Apply does not roll back partial edits; callers that
// need atomicity apply rules to a clone.
func (r *Rule) Apply(g *graph.Graph, m *finder.Match) error {
	if err := r.Transform.Apply(g, m); err != nil {
		return &ViolationError{Rule: r.Name, Nodes: m.Nodes(), Err: err}
	}
	return nil
}

func captured(m *finder.Match, c expression.Capture) ([]graph.NodeID, error) {
	nodes := m.Captured(c)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("pattern has no node captured as %q", c)
	}
	return nodes, nil
}

// InsertBefore splices a new node of Kind onto every scope entering the
// captured nodes. Scopes whose producer satisfies Unless are left alone, so
// applying InsertBefore twice inserts nothing the second time. A zero Unless
// matches producers of Kind.
type InsertBefore struct {
	Capture expression.Capture
	Kind    graph.Kind
	Name    string
	Payload any
	Unless  expression.Expression
}

// Apply implements Transform.
func (t InsertBefore) Apply(g *graph.Graph, m *finder.Match) error {
	nodes, err := captured(m, t.Capture)
	if err != nil {
		return err
	}
	unless := t.Unless
	if unless.Op == expression.OpInvalid {
		unless = expression.KindIs(t.Kind)
	}

	var inserted int
	for _, n := range nodes {
		for _, s := range g.InScopes(n) {
			if expression.Evaluate(unless, g, s.From()) {
				continue
			}
			if _, err := g.InsertOnScope(s.ID(), t.Kind, t.Name, t.Payload); err != nil {
				return err
			}
			inserted++
		}
	}
	if inserted == 0 {
		return fmt.Errorf("every input of %v is already guarded by %s", nodes, unless)
	}
	return nil
}

// InsertAfter splices a new node of Kind onto every scope leaving the
// captured nodes, unless the consumer already has Kind.
type InsertAfter struct {
	Capture expression.Capture
	Kind    graph.Kind
	Name    string
	Payload any
}

// Apply implements Transform.
func (t InsertAfter) Apply(g *graph.Graph, m *finder.Match) error {
	nodes, err := captured(m, t.Capture)
	if err != nil {
		return err
	}

	var inserted int
	for _, n := range nodes {
		for _, s := range g.OutScopes(n) {
			if g.Kind(s.To()) == t.Kind {
				continue
			}
			if _, err := g.InsertOnScope(s.ID(), t.Kind, t.Name, t.Payload); err != nil {
				return err
			}
			inserted++
		}
	}
	if inserted == 0 {
		return fmt.Errorf("every output of %v already feeds a %s", nodes, t.Kind)
	}
	return nil
}

// Remove deletes the captured nodes, connecting their producers directly to
// their consumers.
type Remove struct {
	Capture expression.Capture
}

// Apply implements Transform.
func (t Remove) Apply(g *graph.Graph, m *finder.Match) error {
	nodes, err := captured(m, t.Capture)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := g.Remove(n); err != nil {
			return err
		}
	}
	return nil
}

// Replace swaps each captured node for a node of Kind with the same
// adjacency. An empty Name keeps the name of the replaced node; the payload
// is always carried over.
type Replace struct {
	Capture expression.Capture
	Kind    graph.Kind
	Name    string
}

// Apply implements Transform.
func (t Replace) Apply(g *graph.Graph, m *finder.Match) error {
	nodes, err := captured(m, t.Capture)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		old, ok := g.Node(n)
		if !ok {
			return fmt.Errorf("node %d does not exist", n)
		}
		name := t.Name
		if name == "" {
			name = old.Name
		}
		if _, err := g.Replace(n, t.Kind, name, old.Payload); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Transform = InsertBefore{}
	_ Transform = InsertAfter{}
	_ Transform = Remove{}
	_ Transform = Replace{}
)
