// Package internal holds the packages behind the vellum CLI and pkg/view.
//
// # Package Organization
//
// Compilation and rendering:
//
//   - ast: node tree produced by the parser
//   - parser: single-pass scanner for text, {{ }} output and @directives
//   - expr: sandboxed expression language evaluated against a scope stack
//   - directive: registry, render context and the built-in directives
//   - renderer: walks a tree, dispatching directives and collecting stacks
//   - cache: compiled templates keyed by file path with LRU eviction
//
// Serving:
//
//   - server: HTTP handlers, middleware, rate limiting and reload wiring
//   - websocket: live-reload hub broadcasting to connected browsers
//   - watcher: debounced fsnotify watcher for the template directory
//   - security: CSP nonces, security headers and CSRF protection
//   - vars: template variables from data files and the command line
//
// Shared:
//
//   - config: Viper-backed configuration and validation
//   - errors: structured TemplateError values and the error overlay
//   - logging: context-aware structured logging over log/slog
//   - validation: name, origin and URL checks plus the rendered-HTML audit
//   - version: build identity
//
// # Data Flow
//
// A template source is parsed once into an immutable tree, cached by the
// engine and rendered any number of times, concurrently, each render with
// its own context. In development the watcher invalidates cached trees,
// recompiles changed templates into the error collector and tells the hub
// to reload connected browsers.
package internal
