package expr

import (
	"fmt"

	"github.com/conneroisu/vellum/internal/errors"
)

type node interface {
	eval(s *Scope) (interface{}, error)
}

type literalNode struct{ value interface{} }

type identNode struct{ name string }

type memberNode struct {
	target node
	name   string
}

type indexNode struct {
	target node
	key    node
}

type callNode struct {
	name   string
	helper Helper
	args   []node
}

type unaryNode struct {
	op      string
	operand node
}

type binaryNode struct {
	op          string
	left, right node
}

type logicalNode struct {
	op          string
	left, right node
}

type conditionalNode struct {
	test, then, otherwise node
}

type arrayNode struct{ items []node }

type objectNode struct {
	keys   []string
	values []node
}

// parser is a precedence-climbing recursive descent parser over the token
// stream. Each level handles one tier of binary operators.
type parser struct {
	src    string
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, invalid(src, err.Error())
	}

	p := &parser{src: src, tokens: tokens}
	if p.peek().typ == tokenEOF {
		return nil, invalid(src, "empty expression")
	}

	n, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.typ != tokenEOF {
		return nil, p.errorf(tok, "unexpected %s", tok.describe())
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isPunct(values ...string) bool {
	tok := p.peek()
	if tok.typ != tokenPunct {
		return false
	}
	for _, v := range values {
		if tok.value == v {
			return true
		}
	}
	return false
}

func (p *parser) expect(value string) error {
	if !p.isPunct(value) {
		tok := p.peek()
		return p.errorf(tok, "expected `%s`, found %s", value, tok.describe())
	}
	p.advance()
	return nil
}

func (p *parser) parseTernary() (node, error) {
	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isPunct("?") {
		return test, nil
	}
	p.advance()

	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	otherwise, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &conditionalNode{test: test, then: then, otherwise: otherwise}, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isPunct("&&") {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (node, error) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for p.isPunct("==", "!=", "===", "!==") {
		op := p.advance().value
		right, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isPunct("<", "<=", ">", ">=") {
		op := p.advance().value
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+", "-") {
		op := p.advance().value
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*", "/", "%") {
		op := p.advance().value
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isPunct("!", "-") {
		op := p.advance().value
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.isPunct("."):
			p.advance()
			tok := p.advance()
			if tok.typ != tokenIdent {
				return nil, p.errorf(tok, "expected property name after `.`, found %s", tok.describe())
			}
			n = &memberNode{target: n, name: tok.value}
		case p.isPunct("["):
			p.advance()
			key, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &indexNode{target: n, key: key}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.advance()

	switch tok.typ {
	case tokenNumber:
		return &literalNode{value: tok.num}, nil
	case tokenString:
		return &literalNode{value: tok.value}, nil
	case tokenIdent:
		switch tok.value {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "undefined":
			return &literalNode{value: nil}, nil
		}
		if p.isPunct("(") {
			return p.parseCall(tok)
		}
		return &identNode{name: tok.value}, nil
	case tokenPunct:
		switch tok.value {
		case "(":
			n, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil
		case "[":
			return p.parseArray()
		case "{":
			return p.parseObject()
		}
	}

	return nil, p.errorf(tok, "unexpected %s", tok.describe())
}

func (p *parser) parseCall(name token) (node, error) {
	helper, ok := lookupHelper(name.value)
	if !ok {
		return nil, p.errorf(name, "unknown function %q", name.value)
	}
	p.advance() // (

	call := &callNode{name: name.value, helper: helper}
	for !p.isPunct(")") {
		if len(call.args) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
	}
	p.advance() // )
	return call, nil
}

func (p *parser) parseArray() (node, error) {
	arr := &arrayNode{}
	for !p.isPunct("]") {
		if len(arr.items) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
			// trailing comma
			if p.isPunct("]") {
				break
			}
		}
		item, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		arr.items = append(arr.items, item)
	}
	p.advance()
	return arr, nil
}

func (p *parser) parseObject() (node, error) {
	obj := &objectNode{}
	for !p.isPunct("}") {
		if len(obj.keys) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
			if p.isPunct("}") {
				break
			}
		}

		keyTok := p.advance()
		var key string
		switch keyTok.typ {
		case tokenIdent, tokenString:
			key = keyTok.value
		case tokenNumber:
			key = formatNumber(keyTok.num)
		default:
			return nil, p.errorf(keyTok, "expected object key, found %s", keyTok.describe())
		}

		if err := p.expect(":"); err != nil {
			return nil, err
		}
		value, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, key)
		obj.values = append(obj.values, value)
	}
	p.advance()
	return obj, nil
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return invalid(p.src, fmt.Sprintf("%s at offset %d", msg, tok.pos))
}

func invalid(src, msg string) *errors.TemplateError {
	return errors.NewExpressionError(errors.ErrCodeInvalidExpression,
		fmt.Sprintf("invalid expression %q: %s", src, msg)).
		WithContext("expression", src)
}
