package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenPunct
)

func (t tokenType) String() string {
	switch t {
	case tokenEOF:
		return "end of expression"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	case tokenIdent:
		return "identifier"
	default:
		return "operator"
	}
}

type token struct {
	typ   tokenType
	value string
	num   float64
	pos   int
}

func (t token) describe() string {
	switch t.typ {
	case tokenEOF:
		return "end of expression"
	case tokenString:
		return strconv.Quote(t.value)
	default:
		return "`" + t.value + "`"
	}
}

// Longest operators first so "===" wins over "==" and "=".
var punctuators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", "?",
	"!", "+", "-", "*", "/", "%", "<", ">",
}

type lexer struct {
	src string
	pos int
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src}
	var tokens []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.typ == tokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipWhitespace()
	if l.pos >= len(l.src) {
		return token{typ: tokenEOF, pos: l.pos}, nil
	}

	ch := l.src[l.pos]
	switch {
	case isDigit(ch) || (ch == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.lexNumber()
	case ch == '\'' || ch == '"':
		return l.lexString(ch)
	case isIdentStart(ch):
		return l.lexIdent(), nil
	}

	rest := l.src[l.pos:]
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			tok := token{typ: tokenPunct, value: p, pos: l.pos}
			l.pos += len(p)
			return tok, nil
		}
	}

	return token{}, l.errorf("unexpected character %q", ch)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		save := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		} else {
			l.pos = save
		}
	}

	text := l.src[start:l.pos]
	n, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
	if err != nil {
		return token{}, fmt.Errorf("invalid number %q at offset %d", text, start)
	}
	return token{typ: tokenNumber, value: text, num: n, pos: start}, nil
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++

	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == quote {
			l.pos++
			return token{typ: tokenString, value: sb.String(), pos: start}, nil
		}
		if ch != '\\' {
			sb.WriteByte(ch)
			l.pos++
			continue
		}

		l.pos++
		if l.pos >= len(l.src) {
			break
		}
		escaped := l.src[l.pos]
		l.pos++
		switch escaped {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '\\', '\'', '"':
			sb.WriteByte(escaped)
		case 'u':
			if l.pos+4 > len(l.src) {
				return token{}, l.errorf("invalid unicode escape")
			}
			val, err := strconv.ParseUint(l.src[l.pos:l.pos+4], 16, 32)
			if err != nil {
				return token{}, l.errorf("invalid unicode escape")
			}
			sb.WriteRune(rune(val))
			l.pos += 4
		default:
			sb.WriteByte('\\')
			sb.WriteByte(escaped)
		}
	}

	l.pos = start
	return token{}, l.errorf("unterminated string")
}

func (l *lexer) lexIdent() token {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return token{typ: tokenIdent, value: l.src[start:l.pos], pos: start}
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s at offset %d", fmt.Sprintf(format, args...), l.pos)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
