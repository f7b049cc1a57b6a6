package directive

import (
	"context"
	"sync"

	"github.com/conneroisu/vellum/internal/errors"
)

// DefaultLiveReloadPath is where the dev server serves the reload socket.
const DefaultLiveReloadPath = "/__vellum/reload"

// Environment reports whether templates render in development mode.
type Environment interface {
	IsDevelopment() bool
}

// StaticEnvironment is a fixed Environment.
type StaticEnvironment bool

const (
	Production  StaticEnvironment = false
	Development StaticEnvironment = true
)

// IsDevelopment implements Environment.
func (e StaticEnvironment) IsDevelopment() bool { return bool(e) }

// TokenProvider supplies per-request security tokens.
type TokenProvider interface {
	CSRFToken(ctx context.Context) (string, error)
	CSPNonce(ctx context.Context) (string, error)
}

// StaticTokens is a TokenProvider returning fixed values.
type StaticTokens struct {
	CSRF  string
	Nonce string
}

// CSRFToken implements TokenProvider.
func (t StaticTokens) CSRFToken(context.Context) (string, error) { return t.CSRF, nil }

// CSPNonce implements TokenProvider.
func (t StaticTokens) CSPNonce(context.Context) (string, error) { return t.Nonce, nil }

type memo struct {
	once  sync.Once
	value string
	err   error
}

// Context is the per-render state shared by every handler of one render.
// It is created for a single top-level render and discarded afterwards.
type Context struct {
	Template      string
	LiveReloadURL string

	dev    bool
	tokens TokenProvider

	csrf  memo
	nonce memo

	mutex      sync.Mutex
	stacks     map[string][]string
	collecting bool
}

// NewContext creates the state for one render. The environment is
// resolved once here; tokens may be nil.
func NewContext(env Environment, tokens TokenProvider) *Context {
	dev := false
	if env != nil {
		dev = env.IsDevelopment()
	}
	return &Context{
		dev:           dev,
		tokens:        tokens,
		LiveReloadURL: DefaultLiveReloadPath,
		stacks:        make(map[string][]string),
	}
}

// IsDevelopment reports the environment resolved for this render.
func (c *Context) IsDevelopment() bool {
	return c.dev
}

// CSRFToken fetches the CSRF token once per render.
func (c *Context) CSRFToken(ctx context.Context) (string, error) {
	c.csrf.once.Do(func() {
		if c.tokens == nil {
			c.csrf.err = errors.NewSecurityError(errors.ErrCodeTokenUnavailable, "no token provider configured")
			return
		}
		c.csrf.value, c.csrf.err = c.tokens.CSRFToken(ctx)
	})
	return c.csrf.value, c.csrf.err
}

// CSPNonce fetches the CSP nonce once per render. Without a provider the
// nonce is empty.
func (c *Context) CSPNonce(ctx context.Context) (string, error) {
	c.nonce.once.Do(func() {
		if c.tokens == nil {
			return
		}
		c.nonce.value, c.nonce.err = c.tokens.CSPNonce(ctx)
	})
	return c.nonce.value, c.nonce.err
}

// Push appends a rendered fragment to the named stack.
func (c *Context) Push(name, fragment string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stacks[name] = append(c.stacks[name], fragment)
}

// Stack returns the fragments pushed to name in source order.
func (c *Context) Stack(name string) []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, len(c.stacks[name]))
	copy(out, c.stacks[name])
	return out
}

// SetCollecting marks whether the render is in its push-collection pass.
func (c *Context) SetCollecting(collecting bool) {
	c.mutex.Lock()
	c.collecting = collecting
	c.mutex.Unlock()
}

// Collecting reports whether the push-collection pass is running.
func (c *Context) Collecting() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.collecting
}
