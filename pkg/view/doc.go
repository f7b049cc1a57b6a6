// Package view compiles and renders vellum templates.
//
// A vellum template is HTML mixed with output expressions and directives:
//
//	<ul>
//	@each(item, i in items)
//	  <li class="{{ i % 2 == 0 ? 'even' : 'odd' }}">{{ item.name }}</li>
//	@/each
//	</ul>
//	@push('scripts')<script @nonceProp src="/list.js"></script>@/push
//	@stack('scripts')
//
// {{ expr }} output is HTML-escaped; {{{ expr }}} is emitted raw. {{-- --}}
// is a comment and @@ a literal @. Block directives close with @/name and
// nest freely, including directives of the same name.
//
// # Quick Start
//
//	tmpl, err := view.CompileTemplate(src, view.WithName("list.html"))
//	if err != nil {
//		return err
//	}
//	out, err := view.RenderTemplate(ctx, tmpl, map[string]interface{}{
//		"items": items,
//	}, view.WithTokens(tokens), view.WithEnvironment(view.Development))
//
// Templates on disk are served through an Engine, which caches compiled
// trees and recompiles a file when it changes:
//
//	engine, err := view.NewEngine(view.EngineConfig{Dir: "templates"})
//	out, err := engine.Render(ctx, "emails/welcome", vars)
//
// # Directives
//
// Built-ins: @if, @each, @switch/@case/@default, @stack/@push, @csrf,
// @method, @json, @dev, @prod, @hotReload and @nonceProp. Custom
// directives are added process-wide with Extend before the first render, or
// per call with WithDirectives:
//
//	badge := view.Directive{
//		Name: "badge",
//		Kind: view.Inline,
//		Args: view.ArgsRequired,
//		Handler: func(ctx context.Context, call *view.Call) (string, error) {
//			v, err := call.EvalArgs()
//			...
//		},
//	}
//
// # Expressions
//
// Expressions are a side-effect-free subset: literals, member and index
// access, arithmetic, comparison (== is strict), logical operators, the
// ternary operator and the helpers upper, lower, title, trim, len, join,
// default, contains, formatNumber, string and json.
package view
