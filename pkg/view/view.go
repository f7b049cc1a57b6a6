package view

import (
	"context"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/directive"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/parser"
	"github.com/conneroisu/vellum/internal/renderer"
)

// Types re-exported so callers outside this module can define directives
// and token providers.
type (
	Directive     = directive.Descriptor
	Call          = directive.Call
	Handler       = directive.Handler
	TokenProvider = directive.TokenProvider
	StaticTokens  = directive.StaticTokens
	Environment   = directive.Environment
	Logger        = logging.Logger
)

// Directive kinds and argument modes.
const (
	Block  = directive.Block
	Inline = directive.Inline

	ArgsNone     = directive.ArgsNone
	ArgsOptional = directive.ArgsOptional
	ArgsRequired = directive.ArgsRequired
)

// Environments for WithEnvironment.
const (
	Development = directive.Development
	Production  = directive.Production
)

// Template is a compiled template. It is immutable and safe to render from
// many goroutines.
type Template struct {
	root     *ast.Root
	registry *directive.Registry
}

// Name returns the name the template was compiled under.
func (t *Template) Name() string {
	return t.root.Name
}

// Root returns the parsed node tree.
func (t *Template) Root() *ast.Root {
	return t.root
}

type options struct {
	name          string
	directives    []directive.Descriptor
	env           directive.Environment
	tokens        directive.TokenProvider
	liveReloadURL string
	logger        logging.Logger
}

// Option configures CompileTemplate and RenderTemplate.
type Option func(*options)

// WithName sets the template name used in error locations.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDirectives layers extra directives over the default registry for one
// call. The default registry is not modified.
func WithDirectives(descs ...Directive) Option {
	return func(o *options) { o.directives = append(o.directives, descs...) }
}

// WithEnvironment sets the environment source. Without it renders run as
// production.
func WithEnvironment(env Environment) Option {
	return func(o *options) { o.env = env }
}

// WithTokens sets the provider for @csrf and @nonceProp.
func WithTokens(tokens TokenProvider) Option {
	return func(o *options) { o.tokens = tokens }
}

// WithLiveReloadURL sets the endpoint @hotReload connects to.
func WithLiveReloadURL(url string) Option {
	return func(o *options) { o.liveReloadURL = url }
}

// WithLogger sets the logger renders report to.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func registryFor(base *directive.Registry, o *options) (*directive.Registry, error) {
	if base == nil {
		base = directive.Default()
	}
	return base.With(o.directives...)
}

// CompileTemplate parses source into a reusable template. Directives given
// with WithDirectives are remembered for rendering.
func CompileTemplate(source string, opts ...Option) (*Template, error) {
	o := buildOptions(opts)

	reg, err := registryFor(nil, o)
	if err != nil {
		return nil, err
	}

	name := o.name
	if name == "" {
		name = "template"
	}

	root, err := parser.Parse(name, source, reg)
	if err != nil {
		return nil, err
	}
	return &Template{root: root, registry: reg}, nil
}

// RenderTemplate renders tmpl with vars bound as the root scope. Each call
// gets fresh render state. On error no partial output is returned.
func RenderTemplate(ctx context.Context, tmpl *Template, vars map[string]interface{}, opts ...Option) (string, error) {
	return render(ctx, tmpl, vars, buildOptions(opts))
}

func render(ctx context.Context, tmpl *Template, vars map[string]interface{}, o *options) (string, error) {
	reg, err := registryFor(tmpl.registry, o)
	if err != nil {
		return "", err
	}

	rc := directive.NewContext(o.env, o.tokens)
	rc.Template = tmpl.root.Name
	if o.name != "" {
		rc.Template = o.name
	}
	if o.liveReloadURL != "" {
		rc.LiveReloadURL = o.liveReloadURL
	}

	return renderer.New(reg, o.logger).Render(ctx, tmpl.root, vars, rc)
}

// Extend adds directives to the process-wide default registry. It fails
// once any render has frozen the registry.
func Extend(descs ...Directive) error {
	return directive.Extend(descs...)
}
