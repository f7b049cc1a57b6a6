// Package ast defines the node tree produced by the template parser.
//
// Trees are immutable once parsed and may be shared by any number of
// concurrent renders.
package ast

import "fmt"

// Pos is a 1-based line and column in the template source.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is one of *Text, *Expression or *Directive.
type Node interface {
	node()
	Position() Pos
}

// Text is literal markup emitted verbatim.
type Text struct {
	Content string
	Pos     Pos
}

// Expression is an interpolation. Escape is false for the triple-brace form.
type Expression struct {
	Raw    string
	Escape bool
	Pos    Pos
}

// Directive is an @name node. Args holds the unparsed text between the
// parentheses; HasArgs is false when no parentheses were written.
type Directive struct {
	Name        string
	Args        string
	HasArgs     bool
	Children    []Node
	SelfClosing bool
	Pos         Pos
}

func (*Text) node()       {}
func (*Expression) node() {}
func (*Directive) node()  {}

func (n *Text) Position() Pos       { return n.Pos }
func (n *Expression) Position() Pos { return n.Pos }
func (n *Directive) Position() Pos  { return n.Pos }

// Root is the implicit container holding a template's top-level nodes.
type Root struct {
	Name     string
	Children []Node
}

// Walk calls fn for every node in depth-first source order. Returning false
// from fn skips that node's children.
func Walk(nodes []Node, fn func(Node) bool) {
	for _, n := range nodes {
		if !fn(n) {
			continue
		}
		if d, ok := n.(*Directive); ok {
			Walk(d.Children, fn)
		}
	}
}
