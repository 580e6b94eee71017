// Package graphfile reads and writes element graphs as YAML documents.
//
// A document lists nodes by unique name and scopes by the names of their
// endpoints:
//
//	nodes:
//	  - {name: read, kind: Source}
//	  - {name: count, kind: Group}
//	  - {name: write, kind: Sink}
//	scopes:
//	  - {from: read, to: count}
//	  - {from: count, to: write}
//
// Scopes entering the same node are connected in document order, which
// defines their ordinals.
package graphfile

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

// Document is the YAML representation of an element graph.
type Document struct {
	Nodes  []Node  `yaml:"nodes"`
	Scopes []Scope `yaml:"scopes"`
}

// Node is a node entry of a [Document].
type Node struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Scope is a scope entry of a [Document].
type Scope struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Decode reads a YAML document from r and builds the element graph it
// describes. The graph is not validated beyond what [graph.Graph.Connect]
// enforces; call [graph.Graph.Validate] before planning.
func Decode(r io.Reader) (*graph.Graph, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding graph document: %w", err)
	}
	return doc.Build()
}

// Build creates the element graph described by doc.
func (doc *Document) Build() (*graph.Graph, error) {
	var (
		g   = graph.New()
		ids = make(map[string]graph.NodeID, len(doc.Nodes))
	)
	for i, n := range doc.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node %d has no name", i)
		}
		if _, dup := ids[n.Name]; dup {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}
		kind, ok := graph.ParseKind(n.Kind)
		if !ok {
			return nil, fmt.Errorf("node %q has unknown kind %q", n.Name, n.Kind)
		}
		ids[n.Name] = g.AddNode(kind, n.Name, nil)
	}

	for _, s := range doc.Scopes {
		from, ok := ids[s.From]
		if !ok {
			return nil, fmt.Errorf("scope %s -> %s: unknown node %q", s.From, s.To, s.From)
		}
		to, ok := ids[s.To]
		if !ok {
			return nil, fmt.Errorf("scope %s -> %s: unknown node %q", s.From, s.To, s.To)
		}
		if _, err := g.Connect(from, to, nil); err != nil {
			return nil, fmt.Errorf("scope %s -> %s: %w", s.From, s.To, err)
		}
	}
	return g, nil
}

// FromGraph returns the document describing g. Nodes without a name, and
// nodes whose name is already taken, are named after their kind and id.
func FromGraph(g *graph.Graph) *Document {
	var (
		doc   Document
		names = make(map[graph.NodeID]string, g.Len())
		taken = make(map[string]struct{}, g.Len())
	)
	for n := range g.Nodes() {
		name := n.Name
		if _, dup := taken[name]; dup || name == "" {
			name = n.Kind().String() + "#" + strconv.Itoa(int(n.ID()))
		}
		taken[name] = struct{}{}
		names[n.ID()] = name
		doc.Nodes = append(doc.Nodes, Node{Name: name, Kind: n.Kind().String()})
	}

	// Emit scopes grouped by consumer in ordinal order, so that decoding the
	// document restores the input order of every node.
	for n := range g.Nodes() {
		for _, s := range g.InScopes(n.ID()) {
			doc.Scopes = append(doc.Scopes, Scope{From: names[s.From()], To: names[s.To()]})
		}
	}
	return &doc
}

// Encode writes g to w as a YAML document.
func Encode(w io.Writer, g *graph.Graph) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FromGraph(g)); err != nil {
		return err
	}
	return enc.Close()
}
