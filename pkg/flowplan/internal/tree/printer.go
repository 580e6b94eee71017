package tree

import (
	"fmt"
	"io"
	"strings"
)

const (
	branch     = "├── "
	lastBranch = "└── "
	pipe       = "│   "
	space      = "    "
)

// Printer writes trees of [Node] to an io.Writer.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes root and all of its descendants, one node per line.
func (p *Printer) Print(root *Node) {
	p.print(root, "", "")
}

func (p *Printer) print(n *Node, first, rest string) {
	_, _ = io.WriteString(p.w, first+header(n)+"\n")

	commentPrefix := rest + space
	if len(n.Children) > 0 {
		commentPrefix = rest + pipe
	}
	for i, c := range n.Comments {
		if i == len(n.Comments)-1 {
			p.print(c, commentPrefix+lastBranch, commentPrefix+space)
		} else {
			p.print(c, commentPrefix+branch, commentPrefix+pipe)
		}
	}

	for i, c := range n.Children {
		if i == len(n.Children)-1 {
			p.print(c, rest+lastBranch, rest+space)
		} else {
			p.print(c, rest+branch, rest+pipe)
		}
	}
}

func header(n *Node) string {
	var sb strings.Builder
	sb.WriteString(n.Name)
	if n.ID != "" {
		sb.WriteString(" #")
		sb.WriteString(n.ID)
	}
	for _, prop := range n.Properties {
		sb.WriteByte(' ')
		sb.WriteString(prop.Key)
		sb.WriteByte('=')
		if !prop.IsMultiValue {
			if len(prop.Values) > 0 {
				fmt.Fprint(&sb, prop.Values[0])
			}
			continue
		}
		sb.WriteByte('(')
		for i, v := range prop.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprint(&sb, v)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
