package directive

import (
	"context"
	"fmt"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/expr"
)

// NodeRenderer renders a node list against a scope. The renderer package
// implements it; handlers reach it through Call.
type NodeRenderer interface {
	RenderNodes(ctx context.Context, nodes []ast.Node, scope *expr.Scope, rc *Context) (string, error)
}

// Call is the handler's view of one directive occurrence.
type Call struct {
	Name     string
	Args     string
	HasArgs  bool
	Children []ast.Node
	Pos      ast.Pos

	Scope   *expr.Scope
	Context *Context

	renderer NodeRenderer
}

// NewCall binds a directive node to the scope and render state it executes
// in.
func NewCall(node *ast.Directive, scope *expr.Scope, rc *Context, r NodeRenderer) *Call {
	return &Call{
		Name:     node.Name,
		Args:     node.Args,
		HasArgs:  node.HasArgs,
		Children: node.Children,
		Pos:      node.Pos,
		Scope:    scope,
		Context:  rc,
		renderer: r,
	}
}

// Eval evaluates src in the call's scope. Errors carry the directive's
// location.
func (c *Call) Eval(src string) (interface{}, error) {
	v, err := expr.Evaluate(src, c.Scope)
	if err != nil {
		return nil, c.locate(err)
	}
	return v, nil
}

// EvalArgs evaluates the directive's argument text as one expression.
func (c *Call) EvalArgs() (interface{}, error) {
	return c.Eval(c.Args)
}

// RenderChildren renders the directive's children. A nil bindings map
// renders in the call's scope; otherwise in a child scope holding bindings.
func (c *Call) RenderChildren(ctx context.Context, bindings map[string]interface{}) (string, error) {
	return c.RenderNodes(ctx, c.Children, bindings)
}

// RenderNodes renders an arbitrary node list, typically a subset of the
// children, with the same scoping rules as RenderChildren.
func (c *Call) RenderNodes(ctx context.Context, nodes []ast.Node, bindings map[string]interface{}) (string, error) {
	scope := c.Scope
	if bindings != nil {
		scope = scope.Push(bindings)
	}
	return c.renderer.RenderNodes(ctx, nodes, scope, c.Context)
}

// Errorf builds a DirectiveRuntimeError located at the directive.
func (c *Call) Errorf(code, format string, args ...interface{}) *errors.TemplateError {
	return errors.NewDirectiveRuntimeError(c.Name, code, fmt.Sprintf(format, args...), nil).
		WithLocation(c.Context.Template, c.Pos.Line, c.Pos.Column)
}

func (c *Call) locate(err error) error {
	te, ok := err.(*errors.TemplateError)
	if !ok {
		return err
	}
	if te.Line == 0 {
		te.WithLocation(c.Context.Template, c.Pos.Line, c.Pos.Column)
	}
	if te.Directive == "" {
		te.WithDirective(c.Name)
	}
	return te
}
