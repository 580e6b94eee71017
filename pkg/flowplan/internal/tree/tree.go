// Package tree renders hierarchical descriptions of plans as indented text.
package tree

// Property is a key-value pair attached to a [Node]. A single-value property
// is printed as `key=value` and a multi-value property as
// `key=(value1, value2, ...)`.
type Property struct {
	Key          string
	Values       []any
	IsMultiValue bool
}

// NewProperty returns a Property. multi marks the property as multi-value
// even if only one value is given.
func NewProperty(key string, multi bool, values ...any) Property {
	return Property{Key: key, Values: values, IsMultiValue: multi}
}

// Node is an entry printed by a [Printer].
type Node struct {
	ID         string
	Name       string
	Properties []Property
	Children   []*Node

	// Comments are printed before Children and indented one level deeper.
	// They hold details of a node that are themselves tree shaped.
	Comments []*Node
}

// NewNode returns a node with the given name, id and properties.
func NewNode(name, id string, properties ...Property) *Node {
	return &Node{ID: id, Name: name, Properties: properties}
}

// AddChild appends a new child node to n and returns it.
func (n *Node) AddChild(name, id string, properties ...Property) *Node {
	child := NewNode(name, id, properties...)
	n.Children = append(n.Children, child)
	return child
}

// AddComment appends a new comment node to n and returns it.
func (n *Node) AddComment(name, id string, properties ...Property) *Node {
	comment := NewNode(name, id, properties...)
	n.Comments = append(n.Comments, comment)
	return comment
}
