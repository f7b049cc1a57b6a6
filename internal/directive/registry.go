package directive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/vellum/internal/errors"
)

// Kind tells the parser whether a directive expects a closer.
type Kind int

const (
	// Block directives wrap children and must be closed with @/name.
	Block Kind = iota
	// Inline directives are leaf nodes with no closer.
	Inline
)

// String returns the kind name.
func (k Kind) String() string {
	if k == Inline {
		return "inline"
	}
	return "block"
}

// ArgMode controls whether a directive is written with parentheses.
type ArgMode int

const (
	// ArgsNone rejects a parenthesised argument list at parse time.
	ArgsNone ArgMode = iota
	// ArgsOptional accepts the directive with or without arguments.
	ArgsOptional
	// ArgsRequired makes a bare occurrence a MissingArgs syntax error.
	ArgsRequired
)

// String returns the mode name.
func (m ArgMode) String() string {
	switch m {
	case ArgsOptional:
		return "optional"
	case ArgsRequired:
		return "required"
	default:
		return "none"
	}
}

// Handler renders one directive occurrence.
type Handler func(ctx context.Context, call *Call) (string, error)

// Descriptor registers a directive name with its syntax and handler.
type Descriptor struct {
	Name        string
	Kind        Kind
	Args        ArgMode
	Async       bool
	DevOnly     bool
	Handler     Handler
	Description string

	// Validate, when set, runs on the trimmed argument text while the
	// template is parsed. Its error is reported at the directive's position.
	Validate func(args string) error
}

// Registry maps directive names to descriptors. An overlay registry created
// with With resolves through its parent.
type Registry struct {
	directives map[string]Descriptor
	mutex      sync.RWMutex
	parent     *Registry
	frozen     atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		directives: make(map[string]Descriptor),
	}
}

// Register adds a directive. Registering a name that already resolves,
// here or in a parent, fails with a DuplicateDirectiveError.
func (r *Registry) Register(desc Descriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	if r.parent != nil {
		if _, exists := r.parent.Lookup(desc.Name); exists {
			return errors.NewDuplicateDirectiveError(desc.Name)
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.frozen.Load() {
		return errors.NewConfigError(errors.ErrCodeRegistryFrozen,
			fmt.Sprintf("cannot register @%s: registry is frozen after first render", desc.Name))
	}
	if _, exists := r.directives[desc.Name]; exists {
		return errors.NewDuplicateDirectiveError(desc.Name)
	}
	r.directives[desc.Name] = desc
	return nil
}

// Lookup retrieves a descriptor by name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mutex.RLock()
	desc, exists := r.directives[name]
	r.mutex.RUnlock()

	if !exists && r.parent != nil {
		return r.parent.Lookup(name)
	}
	return desc, exists
}

// Names returns every resolvable directive name, sorted.
func (r *Registry) Names() []string {
	descs := r.Descriptors()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// Descriptors returns every resolvable descriptor sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	seen := make(map[string]Descriptor)
	for reg := r; reg != nil; reg = reg.parent {
		reg.mutex.RLock()
		for name, d := range reg.directives {
			if _, ok := seen[name]; !ok {
				seen[name] = d
			}
		}
		reg.mutex.RUnlock()
	}

	out := make([]Descriptor, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// With returns an overlay holding descs on top of r. r is not modified.
func (r *Registry) With(descs ...Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return r, nil
	}
	overlay := &Registry{
		directives: make(map[string]Descriptor, len(descs)),
		parent:     r,
	}
	for _, d := range descs {
		if err := overlay.Register(d); err != nil {
			return nil, err
		}
	}
	return overlay, nil
}

// Freeze rejects further registrations on r and its parents.
func (r *Registry) Freeze() {
	for reg := r; reg != nil; reg = reg.parent {
		reg.mutex.Lock()
		reg.frozen.Store(true)
		reg.mutex.Unlock()
	}
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func validateDescriptor(desc Descriptor) error {
	if !isIdentifier(desc.Name) {
		return errors.NewConfigError(errors.ErrCodeInvalidDescriptor,
			fmt.Sprintf("invalid directive name %q", desc.Name))
	}
	if desc.Handler == nil {
		return errors.NewConfigError(errors.ErrCodeInvalidDescriptor,
			fmt.Sprintf("directive @%s has no handler", desc.Name))
	}
	return nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
		if !letter && (i == 0 || ch < '0' || ch > '9') {
			return false
		}
	}
	return true
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry holding the built-in
// directives. It is initialised on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, d := range Builtins() {
			if err := defaultRegistry.Register(d); err != nil {
				panic(fmt.Sprintf("directive: registering built-in @%s: %v", d.Name, err))
			}
		}
	})
	return defaultRegistry
}

// Extend adds directives to the default registry. It fails once the default
// registry has been frozen by a render.
func Extend(descs ...Descriptor) error {
	reg := Default()
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
