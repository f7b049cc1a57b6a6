package expr

// Scope is one frame of the variable lookup chain. Frames are never mutated
// after creation; Push returns a new innermost frame.
type Scope struct {
	vars   map[string]interface{}
	parent *Scope
}

// NewScope creates a root scope over vars. The map is read, never written.
func NewScope(vars map[string]interface{}) *Scope {
	return &Scope{vars: vars}
}

// Push returns a child scope whose bindings shadow s.
func (s *Scope) Push(vars map[string]interface{}) *Scope {
	return &Scope{vars: vars, parent: s}
}

// Lookup resolves name from the innermost frame outwards.
func (s *Scope) Lookup(name string) (interface{}, bool) {
	for frame := s; frame != nil; frame = frame.parent {
		if v, ok := frame.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Root returns the outermost frame.
func (s *Scope) Root() *Scope {
	frame := s
	for frame.parent != nil {
		frame = frame.parent
	}
	return frame
}

// Depth reports how many frames are on the chain.
func (s *Scope) Depth() int {
	n := 0
	for frame := s; frame != nil; frame = frame.parent {
		n++
	}
	return n
}
