// Package expr implements the side-effect-free expression language used in
// template interpolations and directive arguments.
//
// Expressions read from a Scope and never write to it. The only callable
// functions are the helpers registered in this package.
package expr

import (
	"fmt"
	"math"
	"sync"

	"github.com/conneroisu/vellum/internal/errors"
)

// Program is a compiled expression. It is immutable and safe for concurrent
// use.
type Program struct {
	src  string
	root node
}

// Source returns the expression text the program was compiled from.
func (p *Program) Source() string {
	return p.src
}

// Eval evaluates the program against scope.
func (p *Program) Eval(scope *Scope) (interface{}, error) {
	if scope == nil {
		scope = NewScope(nil)
	}
	v, err := p.root.eval(scope)
	if err != nil {
		if te, ok := err.(*errors.TemplateError); ok && te.Context == nil {
			te.WithContext("expression", p.src)
		}
		return nil, err
	}
	return v, nil
}

// maxCachedPrograms bounds the program cache. Templates are edited live in
// development, so distinct sources keep arriving for the life of the process.
const maxCachedPrograms = 4096

var (
	programs      = make(map[string]*Program)
	programsMutex sync.RWMutex
)

// Compile parses src into a Program. Compiled programs are cached by source
// text since node trees are shared across renders. A full cache is emptied
// before the next insert.
func Compile(src string) (*Program, error) {
	programsMutex.RLock()
	cached, ok := programs[src]
	programsMutex.RUnlock()
	if ok {
		return cached, nil
	}

	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	prog := &Program{src: src, root: root}

	programsMutex.Lock()
	defer programsMutex.Unlock()
	if existing, ok := programs[src]; ok {
		return existing, nil
	}
	if len(programs) >= maxCachedPrograms {
		clear(programs)
	}
	programs[src] = prog
	return prog, nil
}

func cachedPrograms() int {
	programsMutex.RLock()
	defer programsMutex.RUnlock()
	return len(programs)
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, scope *Scope) (interface{}, error) {
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return prog.Eval(scope)
}

func (n *literalNode) eval(*Scope) (interface{}, error) {
	return n.value, nil
}

func (n *identNode) eval(s *Scope) (interface{}, error) {
	v, ok := s.Lookup(n.name)
	if !ok {
		return nil, errors.NewExpressionError(errors.ErrCodeUnboundIdentifier,
			fmt.Sprintf("unbound identifier %q", n.name))
	}
	return Normalize(v), nil
}

func (n *memberNode) eval(s *Scope) (interface{}, error) {
	target, err := n.target.eval(s)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.NewExpressionError(errors.ErrCodeInvalidExpression,
			fmt.Sprintf("cannot read property %q of null", n.name))
	}
	return Normalize(property(target, n.name)), nil
}

func (n *indexNode) eval(s *Scope) (interface{}, error) {
	target, err := n.target.eval(s)
	if err != nil {
		return nil, err
	}
	key, err := n.key.eval(s)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.NewExpressionError(errors.ErrCodeInvalidExpression,
			fmt.Sprintf("cannot read index %s of null", ToString(key)))
	}
	return Normalize(index(target, key)), nil
}

func (n *callNode) eval(s *Scope) (interface{}, error) {
	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(s)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	v, err := n.helper(args)
	if err != nil {
		return nil, errors.NewExpressionError(errors.ErrCodeInvalidArgs,
			fmt.Sprintf("%s(): %v", n.name, err))
	}
	return Normalize(v), nil
}

func (n *unaryNode) eval(s *Scope) (interface{}, error) {
	v, err := n.operand.eval(s)
	if err != nil {
		return nil, err
	}

	if n.op == "!" {
		return !Truthy(v), nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, errors.NewExpressionError(errors.ErrCodeInvalidExpression,
			fmt.Sprintf("cannot negate %s", TypeName(v)))
	}
	return -f, nil
}

func (n *logicalNode) eval(s *Scope) (interface{}, error) {
	left, err := n.left.eval(s)
	if err != nil {
		return nil, err
	}
	// Short-circuit and yield the deciding operand, not a bool.
	if n.op == "&&" && !Truthy(left) {
		return left, nil
	}
	if n.op == "||" && Truthy(left) {
		return left, nil
	}
	return n.right.eval(s)
}

func (n *conditionalNode) eval(s *Scope) (interface{}, error) {
	test, err := n.test.eval(s)
	if err != nil {
		return nil, err
	}
	if Truthy(test) {
		return n.then.eval(s)
	}
	return n.otherwise.eval(s)
}

func (n *arrayNode) eval(s *Scope) (interface{}, error) {
	out := make([]interface{}, len(n.items))
	for i, item := range n.items {
		v, err := item.eval(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (n *objectNode) eval(s *Scope) (interface{}, error) {
	obj := NewObject()
	for i, key := range n.keys {
		v, err := n.values[i].eval(s)
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
	return obj, nil
}

func (n *binaryNode) eval(s *Scope) (interface{}, error) {
	left, err := n.left.eval(s)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(s)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==", "===":
		return StrictEqual(left, right), nil
	case "!=", "!==":
		return !StrictEqual(left, right), nil
	case "+":
		return add(left, right)
	case "<", "<=", ">", ">=":
		return compare(n.op, left, right)
	}

	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return nil, typeError(n.op, left, right)
	}
	switch n.op {
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	}
	return nil, errors.NewInternalError(errors.ErrCodeInternalError,
		fmt.Sprintf("unhandled operator %q", n.op), nil)
}

func add(left, right interface{}) (interface{}, error) {
	_, ls := left.(string)
	_, rs := right.(string)
	if ls || rs {
		return ToString(left) + ToString(right), nil
	}
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if lok && rok {
		return lf + rf, nil
	}
	return nil, typeError("+", left, right)
}

func compare(op string, left, right interface{}) (interface{}, error) {
	var cmp int
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		if !ok {
			return nil, typeError(op, left, right)
		}
		if math.IsNaN(l) || math.IsNaN(r) {
			return false, nil
		}
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	case string:
		r, ok := right.(string)
		if !ok {
			return nil, typeError(op, left, right)
		}
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	default:
		return nil, typeError(op, left, right)
	}

	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func typeError(op string, left, right interface{}) error {
	return errors.NewExpressionError(errors.ErrCodeInvalidExpression,
		fmt.Sprintf("unsupported operands for %s: %s and %s", op, TypeName(left), TypeName(right)))
}
