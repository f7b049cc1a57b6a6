// Package renderer walks a parsed template tree and produces its output.
//
// Rendering is depth-first and sequential: each node is fully resolved
// before its next sibling starts. Async directive handlers run on their own
// goroutine while the walk waits for them or for the context to be
// cancelled. Before the main pass every @push body is rendered, in source
// order, so that @stack sees all fragments regardless of position.
package renderer

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/directive"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/expr"
	"github.com/conneroisu/vellum/internal/logging"
)

const pushDirective = "push"

// Renderer renders trees against a directive registry. It holds no
// per-render state and is safe for concurrent use.
type Renderer struct {
	registry *directive.Registry
	logger   logging.Logger
}

// New creates a renderer. A nil registry means directive.Default().
func New(registry *directive.Registry, logger logging.Logger) *Renderer {
	if registry == nil {
		registry = directive.Default()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Renderer{
		registry: registry,
		logger:   logger.WithComponent("renderer"),
	}
}

// Registry returns the registry directives resolve against.
func (r *Renderer) Registry() *directive.Registry {
	return r.registry
}

// Render produces the output of root with vars bound as the root scope. rc
// must be fresh for this call. On error no partial output is returned.
func (r *Renderer) Render(ctx context.Context, root *ast.Root, vars map[string]interface{}, rc *directive.Context) (string, error) {
	r.registry.Freeze()

	if rc == nil {
		rc = directive.NewContext(nil, nil)
	}
	if rc.Template == "" {
		rc.Template = root.Name
	}

	op := logging.StartOperation(r.logger, "render", "template", rc.Template)
	scope := expr.NewScope(vars)

	if err := r.collectPushes(ctx, root, scope, rc); err != nil {
		op.EndWithError(ctx, err)
		return "", errors.InTemplate(err, rc.Template)
	}

	out, err := r.RenderNodes(ctx, root.Children, scope, rc)
	if err != nil {
		op.EndWithError(ctx, err)
		return "", errors.InTemplate(err, rc.Template)
	}

	op.End(ctx)
	return out, nil
}

// collectPushes renders every @push body against the root scope, in source
// order, into the render context's stacks.
func (r *Renderer) collectPushes(ctx context.Context, root *ast.Root, scope *expr.Scope, rc *directive.Context) error {
	var pushes []*ast.Directive
	ast.Walk(root.Children, func(n ast.Node) bool {
		if d, ok := n.(*ast.Directive); ok && d.Name == pushDirective {
			pushes = append(pushes, d)
		}
		return true
	})
	if len(pushes) == 0 {
		return nil
	}

	rc.SetCollecting(true)
	defer rc.SetCollecting(false)

	for _, d := range pushes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := directive.CollectPush(ctx, directive.NewCall(d, scope, rc, r)); err != nil {
			return err
		}
	}
	return nil
}

// RenderNodes renders nodes in order and concatenates their output. It
// implements directive.NodeRenderer.
func (r *Renderer) RenderNodes(ctx context.Context, nodes []ast.Node, scope *expr.Scope, rc *directive.Context) (string, error) {
	var sb strings.Builder

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch node := n.(type) {
		case *ast.Text:
			sb.WriteString(node.Content)

		case *ast.Expression:
			v, err := expr.Evaluate(node.Raw, scope)
			if err != nil {
				return "", locate(err, rc.Template, node.Pos)
			}
			s := expr.ToString(v)
			if node.Escape {
				s = templ.EscapeString(s)
			}
			sb.WriteString(s)

		case *ast.Directive:
			out, err := r.renderDirective(ctx, node, scope, rc)
			if err != nil {
				return "", err
			}
			sb.WriteString(out)

		default:
			return "", errors.NewInternalError(errors.ErrCodeInternalError,
				fmt.Sprintf("unknown node type %T", n), nil)
		}
	}

	return sb.String(), nil
}

type result struct {
	out string
	err error
}

func (r *Renderer) renderDirective(ctx context.Context, node *ast.Directive, scope *expr.Scope, rc *directive.Context) (string, error) {
	desc, ok := r.registry.Lookup(node.Name)
	if !ok {
		return "", errors.NewUnknownDirectiveError(node.Name, node.Pos.Line, node.Pos.Column).
			WithLocation(rc.Template, node.Pos.Line, node.Pos.Column)
	}
	if desc.DevOnly && !rc.IsDevelopment() {
		return "", nil
	}

	call := directive.NewCall(node, scope, rc, r)

	if !desc.Async {
		res := invoke(ctx, desc, call)
		return res.out, r.handlerError(ctx, res.err, node, rc)
	}

	done := make(chan result, 1)
	go func() {
		done <- invoke(ctx, desc, call)
	}()

	select {
	case res := <-done:
		return res.out, r.handlerError(ctx, res.err, node, rc)
	case <-ctx.Done():
		r.logger.Debug(ctx, "Render cancelled while awaiting directive", "directive", node.Name)
		return "", ctx.Err()
	}
}

func invoke(ctx context.Context, desc directive.Descriptor, call *directive.Call) (res result) {
	defer func() {
		if p := recover(); p != nil {
			res = result{err: fmt.Errorf("handler panicked: %v", p)}
		}
	}()
	out, err := desc.Handler(ctx, call)
	return result{out: out, err: err}
}

func (r *Renderer) handlerError(ctx context.Context, err error, node *ast.Directive, rc *directive.Context) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var te *errors.TemplateError
	if stderrors.As(err, &te) {
		return locate(err, rc.Template, node.Pos)
	}

	r.logger.Warn(ctx, err, "Directive handler failed", "directive", node.Name, "position", node.Pos.String())
	return errors.NewDirectiveRuntimeError(node.Name, errors.ErrCodeHandlerFailed, "handler failed", err).
		WithLocation(rc.Template, node.Pos.Line, node.Pos.Column)
}

// locate gives a TemplateError without a position the position of the node
// that raised it.
func locate(err error, template string, pos ast.Pos) error {
	var te *errors.TemplateError
	if stderrors.As(err, &te) && te.Line == 0 {
		te.WithLocation(template, pos.Line, pos.Column)
	}
	return err
}
