// Package parser turns template source into an ast.Root.
//
// The scan is a single left-to-right pass. At every position it tries, in
// order: a {{-- comment --}}, a {{{ raw }}} interpolation, a {{ escaped }}
// interpolation, an @@ escape, an @/name closer and an @name directive.
// Anything else accumulates as text.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/directive"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/expr"
)

// Directives resolves directive names while parsing. *directive.Registry
// satisfies it.
type Directives interface {
	Lookup(name string) (directive.Descriptor, bool)
}

type parser struct {
	name       string
	src        string
	pos        int
	lineStarts []int
	directives Directives

	root  *ast.Root
	stack []*ast.Directive

	text      strings.Builder
	textStart int
}

// Parse parses src into a node tree. name is used only in error locations.
func Parse(name, src string, directives Directives) (*ast.Root, error) {
	p := &parser{
		name:       name,
		src:        src,
		directives: directives,
		root:       &ast.Root{Name: name},
		textStart:  -1,
	}
	p.indexLines()

	if err := p.run(); err != nil {
		return nil, err
	}
	return p.root, nil
}

func (p *parser) run() error {
	for p.pos < len(p.src) {
		rest := p.src[p.pos:]

		var err error
		switch {
		case strings.HasPrefix(rest, "{{--"):
			err = p.parseComment()
		case strings.HasPrefix(rest, "{{{"):
			err = p.parseOutput("{{{", "}}}", false)
		case strings.HasPrefix(rest, "{{"):
			err = p.parseOutput("{{", "}}", true)
		case rest[0] == '@':
			err = p.parseAt()
		default:
			n := strings.IndexAny(rest[1:], "{@") + 1
			if n == 0 {
				n = len(rest)
			}
			p.appendText(p.pos, rest[:n])
			p.pos += n
		}
		if err != nil {
			return err
		}
	}
	p.flushText()

	if len(p.stack) > 0 {
		open := p.stack[0]
		return errors.NewUnterminatedError(open.Name, open.Pos.Line, open.Pos.Column).
			WithLocation(p.name, open.Pos.Line, open.Pos.Column)
	}
	return nil
}

func (p *parser) parseComment() error {
	start := p.pos
	end := strings.Index(p.src[start+4:], "--}}")
	if end < 0 {
		return p.syntaxError(start, errors.ErrCodeUnclosedOutput, "unclosed comment, expected --}}")
	}
	p.flushText()
	p.pos = start + 4 + end + 4
	return nil
}

func (p *parser) parseOutput(open, close string, escape bool) error {
	start := p.pos
	body := p.src[start+len(open):]
	end := strings.Index(body, close)
	if end < 0 {
		return p.syntaxError(start, errors.ErrCodeUnclosedOutput, fmt.Sprintf("unclosed %s, expected %s", open, close))
	}

	raw := strings.TrimSpace(body[:end])
	if _, err := expr.Compile(raw); err != nil {
		return p.locate(err, start, "")
	}

	p.flushText()
	p.appendNode(&ast.Expression{
		Raw:    raw,
		Escape: escape,
		Pos:    p.position(start),
	})
	p.pos = start + len(open) + end + len(close)
	return nil
}

func (p *parser) parseAt() error {
	start := p.pos
	next := p.peekByte(start + 1)

	// Glued to a word (a@b.com), only a registered name is a directive.
	glued := start > 0 && isIdentPart(p.src[start-1])

	switch {
	case next == '@':
		p.appendText(start, "@")
		p.pos += 2
		return nil
	case glued && isIdentStart(next):
		if _, ok := p.directives.Lookup(p.readIdent(start + 1)); ok {
			return p.parseDirective()
		}
		p.appendText(start, "@")
		p.pos++
		return nil
	case next == '/' && isIdentStart(p.peekByte(start+2)):
		return p.parseCloser()
	case isIdentStart(next):
		return p.parseDirective()
	default:
		p.appendText(start, "@")
		p.pos++
		return nil
	}
}

func (p *parser) parseCloser() error {
	start := p.pos
	name := p.readIdent(start + 2)
	p.flushText()

	if len(p.stack) == 0 {
		return p.syntaxError(start, errors.ErrCodeUnexpectedCloser,
			fmt.Sprintf("unexpected @/%s with no open directive", name)).WithDirective(name)
	}

	top := p.stack[len(p.stack)-1]
	if top.Name != name {
		for _, open := range p.stack[:len(p.stack)-1] {
			if open.Name == name {
				return p.syntaxError(start, errors.ErrCodeCrossedCloser,
					fmt.Sprintf("@/%s closes across open @%s (opened at %s)", name, top.Name, top.Pos)).
					WithDirective(name)
			}
		}
		return p.syntaxError(start, errors.ErrCodeUnexpectedCloser,
			fmt.Sprintf("unexpected @/%s, expected @/%s", name, top.Name)).WithDirective(name)
	}

	p.stack = p.stack[:len(p.stack)-1]
	p.pos = start + 2 + len(name)
	return nil
}

func (p *parser) parseDirective() error {
	start := p.pos
	name := p.readIdent(start + 1)
	pos := p.position(start)

	desc, ok := p.directives.Lookup(name)
	if !ok {
		return errors.NewUnknownDirectiveError(name, pos.Line, pos.Column).
			WithLocation(p.name, pos.Line, pos.Column)
	}

	node := &ast.Directive{Name: name, Pos: pos}
	end := start + 1 + len(name)

	open := -1
	if p.peekByte(end) == '(' {
		open = end
	} else if desc.Args != directive.ArgsNone {
		i := end
		for i < len(p.src) && (p.src[i] == ' ' || p.src[i] == '\t') {
			i++
		}
		if p.peekByte(i) == '(' {
			open = i
		}
	}

	if open >= 0 {
		closeAt, err := p.scanArgs(name, open)
		if err != nil {
			return err
		}
		if desc.Args == directive.ArgsNone {
			return p.syntaxError(start, errors.ErrCodeUnexpectedArgs,
				fmt.Sprintf("@%s takes no arguments", name)).WithDirective(name)
		}
		node.Args = strings.TrimSpace(p.src[open+1 : closeAt])
		node.HasArgs = true
		end = closeAt + 1
	}

	if !node.HasArgs && desc.Args == directive.ArgsRequired {
		return p.syntaxError(start, errors.ErrCodeMissingArgs,
			fmt.Sprintf("@%s requires arguments", name)).WithDirective(name)
	}
	if node.HasArgs && desc.Validate != nil {
		if err := desc.Validate(node.Args); err != nil {
			return p.locate(err, start, name)
		}
	}

	p.flushText()
	p.appendNode(node)
	if desc.Kind == directive.Inline {
		node.SelfClosing = true
	} else {
		p.stack = append(p.stack, node)
	}
	p.pos = end
	return nil
}

// scanArgs returns the offset of the parenthesis matching the one at open,
// skipping over quoted strings.
func (p *parser) scanArgs(name string, open int) (int, error) {
	depth := 0
	for i := open; i < len(p.src); i++ {
		switch ch := p.src[i]; ch {
		case '\'', '"':
			j := i + 1
			for j < len(p.src) && p.src[j] != ch {
				if p.src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(p.src) {
				return 0, p.syntaxError(i, errors.ErrCodeUnclosedArgs,
					fmt.Sprintf("unterminated string in @%s arguments", name)).WithDirective(name)
			}
			i = j
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, p.syntaxError(open, errors.ErrCodeUnclosedArgs,
		fmt.Sprintf("unclosed ( in @%s", name)).WithDirective(name)
}

func (p *parser) appendNode(n ast.Node) {
	if len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		top.Children = append(top.Children, n)
		return
	}
	p.root.Children = append(p.root.Children, n)
}

func (p *parser) appendText(offset int, s string) {
	if p.textStart < 0 {
		p.textStart = offset
	}
	p.text.WriteString(s)
}

// flushText emits buffered text, merging with a preceding Text sibling.
func (p *parser) flushText() {
	if p.textStart < 0 {
		return
	}
	content := p.text.String()
	pos := p.position(p.textStart)
	p.text.Reset()
	p.textStart = -1

	children := p.root.Children
	if len(p.stack) > 0 {
		children = p.stack[len(p.stack)-1].Children
	}
	if n := len(children); n > 0 {
		if prev, ok := children[n-1].(*ast.Text); ok {
			prev.Content += content
			return
		}
	}
	p.appendNode(&ast.Text{Content: content, Pos: pos})
}

func (p *parser) readIdent(from int) string {
	i := from
	for i < len(p.src) && isIdentPart(p.src[i]) {
		i++
	}
	return p.src[from:i]
}

func (p *parser) peekByte(i int) byte {
	if i < 0 || i >= len(p.src) {
		return 0
	}
	return p.src[i]
}

func (p *parser) indexLines() {
	p.lineStarts = []int{0}
	for i := 0; i < len(p.src); i++ {
		if p.src[i] == '\n' {
			p.lineStarts = append(p.lineStarts, i+1)
		}
	}
}

func (p *parser) position(offset int) ast.Pos {
	line := sort.Search(len(p.lineStarts), func(i int) bool {
		return p.lineStarts[i] > offset
	}) - 1
	return ast.Pos{Line: line + 1, Column: offset - p.lineStarts[line] + 1}
}

func (p *parser) syntaxError(offset int, code, msg string) *errors.TemplateError {
	pos := p.position(offset)
	return errors.NewSyntaxError(code, msg).WithLocation(p.name, pos.Line, pos.Column)
}

// locate pins an argument or expression error to the construct at offset.
func (p *parser) locate(err error, offset int, directiveName string) error {
	te, ok := err.(*errors.TemplateError)
	if !ok {
		te = errors.Wrap(err, errors.ErrorTypeSyntax, errors.ErrCodeInvalidArgs, err.Error())
	}
	pos := p.position(offset)
	te.WithLocation(p.name, pos.Line, pos.Column)
	if directiveName != "" {
		te.WithDirective(directiveName)
	}
	return te
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
