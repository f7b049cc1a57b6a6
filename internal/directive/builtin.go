package directive

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/expr"
)

// Builtins returns the descriptors installed in the default registry.
func Builtins() []Descriptor {
	return []Descriptor{
		{Name: "if", Kind: Block, Args: ArgsRequired, Handler: ifHandler, Validate: compileArgs,
			Description: "render children when the condition is truthy"},
		{Name: "each", Kind: Block, Args: ArgsRequired, Handler: eachHandler, Validate: validateEach,
			Description: "render children once per element: @each(item in list) or @each(item, i in list)"},
		{Name: "switch", Kind: Block, Args: ArgsRequired, Handler: switchHandler, Validate: compileArgs,
			Description: "render the first @case strictly equal to the value, else @default"},
		{Name: "case", Kind: Block, Args: ArgsRequired, Handler: outsideSwitch, Validate: compileArgs,
			Description: "branch of @switch"},
		{Name: "default", Kind: Block, Args: ArgsNone, Handler: outsideSwitch,
			Description: "fallback branch of @switch"},
		{Name: "stack", Kind: Inline, Args: ArgsRequired, Handler: stackHandler, Validate: compileArgs,
			Description: "emit every fragment pushed to the named stack"},
		{Name: "push", Kind: Block, Args: ArgsRequired, Handler: pushHandler, Validate: compileArgs,
			Description: "append children to the named stack"},
		{Name: "csrf", Kind: Inline, Args: ArgsNone, Async: true, Handler: csrfHandler,
			Description: "hidden _token input carrying the request CSRF token"},
		{Name: "method", Kind: Inline, Args: ArgsRequired, Handler: methodHandler,
			Description: "hidden _method input for form method spoofing"},
		{Name: "json", Kind: Inline, Args: ArgsRequired, Handler: jsonHandler, Validate: compileArgs,
			Description: "compact JSON encoding of the value"},
		{Name: "dev", Kind: Block, Args: ArgsNone, Handler: envHandler(true),
			Description: "render children only in development"},
		{Name: "prod", Kind: Block, Args: ArgsNone, Handler: envHandler(false),
			Description: "render children only in production"},
		{Name: "hotReload", Kind: Inline, Args: ArgsNone, Async: true, DevOnly: true, Handler: hotReloadHandler,
			Description: "live-reload client script (development only)"},
		{Name: "nonceProp", Kind: Inline, Args: ArgsNone, Async: true, Handler: nonceHandler,
			Description: "nonce attribute carrying the request CSP nonce"},
	}
}

func compileArgs(args string) error {
	_, err := expr.Compile(args)
	return err
}

func ifHandler(ctx context.Context, call *Call) (string, error) {
	cond, err := call.EvalArgs()
	if err != nil {
		return "", err
	}
	if !expr.Truthy(cond) {
		return "", nil
	}
	return call.RenderChildren(ctx, nil)
}

var eachPattern = regexp.MustCompile(`^\s*([A-Za-z_$][\w$]*)\s*(?:,\s*([A-Za-z_$][\w$]*)\s*)?\s+in\s+([\s\S]+)$`)

func validateEach(args string) error {
	m := eachPattern.FindStringSubmatch(args)
	if m == nil {
		return errors.NewSyntaxError(errors.ErrCodeInvalidArgs,
			fmt.Sprintf("expected `item in list` or `item, index in list`, got %q", args))
	}
	return compileArgs(m[3])
}

func eachHandler(ctx context.Context, call *Call) (string, error) {
	m := eachPattern.FindStringSubmatch(call.Args)
	if m == nil {
		return "", call.Errorf(errors.ErrCodeInvalidArgs,
			"expected `item in list` or `item, index in list`, got %q", call.Args)
	}
	itemName, indexName, source := m[1], m[2], m[3]

	value, err := call.Eval(source)
	if err != nil {
		return "", err
	}
	entries, ok := expr.Iterate(value)
	if !ok {
		return "", call.Errorf(errors.ErrCodeNotIterable, "%s is not iterable (%s)",
			strings.TrimSpace(source), expr.TypeName(value))
	}

	var sb strings.Builder
	for _, entry := range entries {
		bindings := map[string]interface{}{itemName: entry.Value}
		if indexName != "" {
			bindings[indexName] = entry.Key
		}
		out, err := call.RenderChildren(ctx, bindings)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

func switchHandler(ctx context.Context, call *Call) (string, error) {
	value, err := call.EvalArgs()
	if err != nil {
		return "", err
	}

	var fallback *ast.Directive
	for _, child := range call.Children {
		d, ok := child.(*ast.Directive)
		if !ok {
			continue
		}
		switch d.Name {
		case "case":
			candidate, err := call.Eval(d.Args)
			if err != nil {
				return "", err
			}
			if expr.StrictEqual(value, candidate) {
				return call.RenderNodes(ctx, d.Children, nil)
			}
		case "default":
			if fallback == nil {
				fallback = d
			}
		}
	}

	if fallback != nil {
		return call.RenderNodes(ctx, fallback.Children, nil)
	}
	return "", nil
}

func outsideSwitch(_ context.Context, call *Call) (string, error) {
	return "", call.Errorf(errors.ErrCodeInvalidArgs, "@%s is only valid directly inside @switch", call.Name)
}

func stackName(call *Call) (string, error) {
	v, err := call.EvalArgs()
	if err != nil {
		return "", err
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return "", call.Errorf(errors.ErrCodeInvalidArgs, "stack name must be a non-empty string, got %s", expr.TypeName(v))
	}
	return name, nil
}

func stackHandler(_ context.Context, call *Call) (string, error) {
	if call.Context.Collecting() {
		return "", call.Errorf(errors.ErrCodeInvalidArgs, "@stack cannot be used inside @push")
	}
	name, err := stackName(call)
	if err != nil {
		return "", err
	}
	return strings.Join(call.Context.Stack(name), ""), nil
}

// Pushes were collected before the main pass; their output lands in @stack.
func pushHandler(context.Context, *Call) (string, error) {
	return "", nil
}

// CollectPush renders a @push body and appends it to its stack. The
// renderer calls it for every @push, in source order, before the main pass.
func CollectPush(ctx context.Context, call *Call) error {
	name, err := stackName(call)
	if err != nil {
		return err
	}
	out, err := call.RenderChildren(ctx, nil)
	if err != nil {
		return err
	}
	call.Context.Push(name, out)
	return nil
}

func csrfHandler(ctx context.Context, call *Call) (string, error) {
	token, err := call.Context.CSRFToken(ctx)
	if err != nil {
		return "", errors.NewDirectiveRuntimeError(call.Name, errors.ErrCodeTokenUnavailable,
			"could not obtain CSRF token", err).
			WithLocation(call.Context.Template, call.Pos.Line, call.Pos.Column)
	}
	return `<input type="hidden" name="_token" value="` + templ.EscapeString(token) + `">`, nil
}

var verbPattern = regexp.MustCompile(`^[A-Za-z]+$`)

func methodHandler(_ context.Context, call *Call) (string, error) {
	var verb string
	if _, bound := call.Scope.Lookup(call.Args); verbPattern.MatchString(call.Args) && !bound {
		verb = call.Args
	} else {
		v, err := call.EvalArgs()
		if err != nil {
			return "", err
		}
		verb = expr.ToString(v)
	}

	verb = strings.TrimSpace(verb)
	if !verbPattern.MatchString(verb) {
		return "", call.Errorf(errors.ErrCodeInvalidArgs, "invalid HTTP method %q", verb)
	}
	verb = cases.Upper(language.Und).String(verb)
	return `<input type="hidden" name="_method" value="` + verb + `">`, nil
}

func jsonHandler(_ context.Context, call *Call) (string, error) {
	v, err := call.EvalArgs()
	if err != nil {
		return "", err
	}
	out, err := templ.JSONString(v)
	if err != nil {
		return "", errors.NewDirectiveRuntimeError(call.Name, errors.ErrCodeHandlerFailed,
			"value is not JSON-encodable", err).
			WithLocation(call.Context.Template, call.Pos.Line, call.Pos.Column)
	}
	return out, nil
}

func envHandler(development bool) Handler {
	return func(ctx context.Context, call *Call) (string, error) {
		if call.Context.IsDevelopment() != development {
			return "", nil
		}
		return call.RenderChildren(ctx, nil)
	}
}

func nonceHandler(ctx context.Context, call *Call) (string, error) {
	nonce, err := call.Context.CSPNonce(ctx)
	if err != nil {
		return "", errors.NewDirectiveRuntimeError(call.Name, errors.ErrCodeTokenUnavailable,
			"could not obtain CSP nonce", err).
			WithLocation(call.Context.Template, call.Pos.Line, call.Pos.Column)
	}
	if nonce == "" {
		return "", nil
	}
	return `nonce="` + templ.EscapeString(nonce) + `"`, nil
}

const hotReloadScript = `<script%s>
(function() {
    var path = %s;
    function connect() {
        var protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
        var url = path.indexOf('://') > 0 ? path.replace(/^http/, 'ws') : protocol + '//' + window.location.host + path;
        var ws = new WebSocket(url);
        ws.onmessage = function(event) {
            var message = JSON.parse(event.data);
            if (message.type === 'full_reload') {
                window.location.reload();
            }
        };
        ws.onclose = function() {
            setTimeout(connect, 2000);
        };
    }
    connect();
})();
</script>`

func hotReloadHandler(ctx context.Context, call *Call) (string, error) {
	attr, err := nonceHandler(ctx, call)
	if err != nil {
		return "", err
	}
	if attr != "" {
		attr = " " + attr
	}

	path := call.Context.LiveReloadURL
	if path == "" {
		path = DefaultLiveReloadPath
	}
	quoted, err := templ.JSONString(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(hotReloadScript, attr, quoted), nil
}

// Info is the listing form of a Descriptor.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Kind        string `json:"kind" yaml:"kind"`
	Args        string `json:"args" yaml:"args"`
	Async       bool   `json:"async" yaml:"async"`
	DevOnly     bool   `json:"dev_only" yaml:"dev_only"`
	Description string `json:"description" yaml:"description"`
}

// Info summarises d for listings.
func (d Descriptor) Info() Info {
	return Info{
		Name:        d.Name,
		Kind:        d.Kind.String(),
		Args:        d.Args.String(),
		Async:       d.Async,
		DevOnly:     d.DevOnly,
		Description: d.Description,
	}
}
