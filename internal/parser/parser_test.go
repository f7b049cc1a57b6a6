package parser

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/directive"
	"github.com/conneroisu/vellum/internal/errors"
)

func parse(t *testing.T, src string) *ast.Root {
	t.Helper()
	root, err := Parse("test.html", src, directive.Default())
	require.NoError(t, err)
	return root
}

func parseErr(t *testing.T, src string) *errors.TemplateError {
	t.Helper()
	_, err := Parse("test.html", src, directive.Default())
	require.Error(t, err)
	te, ok := err.(*errors.TemplateError)
	require.True(t, ok, "expected *errors.TemplateError, got %T", err)
	return te
}

func TestParseTextOnly(t *testing.T) {
	root := parse(t, "<p>hello</p>")
	require.Len(t, root.Children, 1)
	assert.Equal(t, "<p>hello</p>", root.Children[0].(*ast.Text).Content)
	assert.Equal(t, "test.html", root.Name)
}

func TestParseEmpty(t *testing.T) {
	root := parse(t, "")
	assert.Empty(t, root.Children)
}

func TestParseExpressions(t *testing.T) {
	root := parse(t, "Hi {{ user.name }}, {{{ bio }}}!")
	require.Len(t, root.Children, 5)

	escaped := root.Children[1].(*ast.Expression)
	assert.Equal(t, "user.name", escaped.Raw)
	assert.True(t, escaped.Escape)
	assert.Equal(t, ast.Pos{Line: 1, Column: 4}, escaped.Pos)

	raw := root.Children[3].(*ast.Expression)
	assert.Equal(t, "bio", raw.Raw)
	assert.False(t, raw.Escape)
}

func TestParseCommentDropped(t *testing.T) {
	root := parse(t, "a{{-- @if(x) never parsed --}}b")
	require.Len(t, root.Children, 1)
	assert.Equal(t, "ab", root.Children[0].(*ast.Text).Content)
}

func TestParseBlockDirective(t *testing.T) {
	root := parse(t, "@if(user.admin)<b>admin</b>@/if")
	require.Len(t, root.Children, 1)

	d := root.Children[0].(*ast.Directive)
	assert.Equal(t, "if", d.Name)
	assert.Equal(t, "user.admin", d.Args)
	assert.True(t, d.HasArgs)
	assert.False(t, d.SelfClosing)
	require.Len(t, d.Children, 1)
	assert.Equal(t, "<b>admin</b>", d.Children[0].(*ast.Text).Content)
}

func TestParseInlineDirective(t *testing.T) {
	root := parse(t, `<form>@csrf @method(PUT)</form>`)
	require.Len(t, root.Children, 5)

	csrf := root.Children[1].(*ast.Directive)
	assert.Equal(t, "csrf", csrf.Name)
	assert.True(t, csrf.SelfClosing)
	assert.False(t, csrf.HasArgs)

	method := root.Children[3].(*ast.Directive)
	assert.Equal(t, "PUT", method.Args)
	assert.True(t, method.SelfClosing)
}

func TestParseNestedSameName(t *testing.T) {
	root := parse(t, "@if(a)A@if(b)B@/if@/if")
	require.Len(t, root.Children, 1)

	outer := root.Children[0].(*ast.Directive)
	assert.Equal(t, "a", outer.Args)
	require.Len(t, outer.Children, 2)

	inner := outer.Children[1].(*ast.Directive)
	assert.Equal(t, "b", inner.Args)
	require.Len(t, inner.Children, 1)
	assert.Equal(t, "B", inner.Children[0].(*ast.Text).Content)
}

func TestParseArgsWithParensAndStrings(t *testing.T) {
	root := parse(t, `@if((a || b) && name == ")(")x@/if`)
	d := root.Children[0].(*ast.Directive)
	assert.Equal(t, `(a || b) && name == ")("`, d.Args)
}

func TestParseWhitespaceBeforeArgs(t *testing.T) {
	root := parse(t, "@each (item in items)x@/each")
	d := root.Children[0].(*ast.Directive)
	assert.Equal(t, "item in items", d.Args)

	// @dev takes no arguments so the parenthesis is text.
	root = parse(t, "@dev (beta)@/dev")
	d = root.Children[0].(*ast.Directive)
	assert.False(t, d.HasArgs)
	assert.Equal(t, " (beta)", d.Children[0].(*ast.Text).Content)
}

func TestParseLiteralAt(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		expected string
	}{
		{"email", "mail me at ada@example.com", "mail me at ada@example.com"},
		{"glued unknown name", "x@media", "x@media"},
		{"escaped", "@@media (max-width: 1px)", "@media (max-width: 1px)"},
		{"lone at", "a @ b", "a @ b"},
		{"trailing", "end@", "end@"},
		{"closer without name", "x @/ y", "x @/ y"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := parse(t, tc.src)
			require.Len(t, root.Children, 1)
			assert.Equal(t, tc.expected, root.Children[0].(*ast.Text).Content)
		})
	}
}

func TestParsePositions(t *testing.T) {
	root := parse(t, "line one\n  @if(x)\n    {{ y }}\n  @/if")
	d := root.Children[1].(*ast.Directive)
	assert.Equal(t, ast.Pos{Line: 2, Column: 3}, d.Pos)

	e := d.Children[1].(*ast.Expression)
	assert.Equal(t, ast.Pos{Line: 3, Column: 5}, e.Pos)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		errType errors.ErrorType
		code    string
		line    int
		column  int
		dirName string
	}{
		{"unterminated if", "@if(x)never closed", errors.ErrorTypeUnterminated, errors.ErrCodeUnterminated, 1, 1, "if"},
		{"outermost unterminated", "@each(i in l)\n@if(x)", errors.ErrorTypeUnterminated, errors.ErrCodeUnterminated, 1, 1, "each"},
		{"stray closer", "text @/foo", errors.ErrorTypeSyntax, errors.ErrCodeUnexpectedCloser, 1, 6, "foo"},
		{"closer for inline", "@csrf@/csrf", errors.ErrorTypeSyntax, errors.ErrCodeUnexpectedCloser, 1, 6, "csrf"},
		{"crossed closer", "@if(a)@each(x in y)@/if@/each", errors.ErrorTypeSyntax, errors.ErrCodeCrossedCloser, 1, 20, "if"},
		{"unknown directive", "\n  @iff(x)", errors.ErrorTypeUnknownDirective, errors.ErrCodeUnknownDirective, 2, 3, "iff"},
		{"unclosed args", "@if(a && (b)", errors.ErrorTypeSyntax, errors.ErrCodeUnclosedArgs, 1, 4, "if"},
		{"unterminated string in args", "@if(a == 'x)@/if", errors.ErrorTypeSyntax, errors.ErrCodeUnclosedArgs, 1, 10, "if"},
		{"missing args", "@if\nx@/if", errors.ErrorTypeSyntax, errors.ErrCodeMissingArgs, 1, 1, "if"},
		{"unexpected args", "@csrf(x)", errors.ErrorTypeSyntax, errors.ErrCodeUnexpectedArgs, 1, 1, "csrf"},
		{"unclosed output", "{{ name ", errors.ErrorTypeSyntax, errors.ErrCodeUnclosedOutput, 1, 1, ""},
		{"unclosed comment", "{{-- note", errors.ErrorTypeSyntax, errors.ErrCodeUnclosedOutput, 1, 1, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			te := parseErr(t, tc.src)
			assert.Equal(t, tc.errType, te.Type)
			assert.Equal(t, tc.code, te.Code)
			assert.Equal(t, tc.line, te.Line, "line")
			assert.Equal(t, tc.column, te.Column, "column")
			assert.Equal(t, tc.dirName, te.Directive)
			assert.Equal(t, "test.html", te.Template)
			assert.True(t, errors.IsParseError(te))
		})
	}
}

func TestParseRejectsMalformedExpressions(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		errType errors.ErrorType
		code    string
		line    int
		column  int
		dirName string
	}{
		{"dangling operator in output", "<p>\n  {{ 1 + }}</p>", errors.ErrorTypeExpression, errors.ErrCodeInvalidExpression, 2, 3, ""},
		{"unknown helper in raw output", "{{{ exec('ls') }}}", errors.ErrorTypeExpression, errors.ErrCodeInvalidExpression, 1, 1, ""},
		{"dangling operator in if", "x @if(1 +)y@/if", errors.ErrorTypeExpression, errors.ErrCodeInvalidExpression, 1, 3, "if"},
		{"each without source", "@each(item in )x@/each", errors.ErrorTypeSyntax, errors.ErrCodeInvalidArgs, 1, 1, "each"},
		{"each without binding", "@each(items)x@/each", errors.ErrorTypeSyntax, errors.ErrCodeInvalidArgs, 1, 1, "each"},
		{"each with bad source", "\n@each(x in [1, 2)x@/each", errors.ErrorTypeExpression, errors.ErrCodeInvalidExpression, 2, 1, "each"},
		{"missing property in json", "@json(user.)", errors.ErrorTypeExpression, errors.ErrCodeInvalidExpression, 1, 1, "json"},
		{"assignment in case", "@switch(a)@case(a = 1)x@/case@/switch", errors.ErrorTypeExpression, errors.ErrCodeInvalidExpression, 1, 11, "case"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			te := parseErr(t, tc.src)
			assert.Equal(t, tc.errType, te.Type)
			assert.Equal(t, tc.code, te.Code)
			assert.Equal(t, tc.line, te.Line, "line")
			assert.Equal(t, tc.column, te.Column, "column")
			assert.Equal(t, tc.dirName, te.Directive)
			assert.Equal(t, "test.html", te.Template)
		})
	}
}

func TestParseValidatesCustomDirectiveArgs(t *testing.T) {
	reg, err := directive.Default().With(directive.Descriptor{
		Name:    "badge",
		Kind:    directive.Inline,
		Args:    directive.ArgsRequired,
		Handler: func(_ context.Context, _ *directive.Call) (string, error) { return "", nil },
		Validate: func(args string) error {
			if args != "'ok'" {
				return stderrors.New("badge wants 'ok'")
			}
			return nil
		},
	})
	require.NoError(t, err)

	_, err = Parse("badge.html", "@badge('ok')", reg)
	require.NoError(t, err)

	_, err = Parse("badge.html", "\n @badge('no')", reg)
	require.Error(t, err)
	te, ok := err.(*errors.TemplateError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeInvalidArgs, te.Code)
	assert.Equal(t, "badge", te.Directive)
	assert.Equal(t, 2, te.Line)
	assert.Equal(t, 2, te.Column)
	assert.Contains(t, err.Error(), "badge wants 'ok'")
}

func TestParseCustomDirectives(t *testing.T) {
	reg, err := directive.Default().With(directive.Descriptor{
		Name:    "card",
		Kind:    directive.Block,
		Args:    directive.ArgsOptional,
		Handler: func(_ context.Context, _ *directive.Call) (string, error) { return "", nil },
	})
	require.NoError(t, err)

	root, err := Parse("custom.html", "@card<p>x</p>@/card @card('t')y@/card", reg)
	require.NoError(t, err)
	require.Len(t, root.Children, 3)
	assert.False(t, root.Children[0].(*ast.Directive).HasArgs)
	assert.Equal(t, "'t'", root.Children[2].(*ast.Directive).Args)

	_, err = Parse("custom.html", "@card@/card", directive.Default())
	assert.True(t, errors.IsUnknownDirective(err))
}

func TestParseTreesAreIndependent(t *testing.T) {
	src := "@if(a)x@/if"
	first := parse(t, src)
	second := parse(t, src)
	assert.NotSame(t, first.Children[0], second.Children[0])
	assert.Equal(t, first, second)
}

func TestParseGluedDirectives(t *testing.T) {
	root := parse(t, "@if(a)A@if(b)B@/if@/if")
	outer := root.Children[0].(*ast.Directive)
	require.Len(t, outer.Children, 2)
	assert.Equal(t, "A", outer.Children[0].(*ast.Text).Content)
	assert.Equal(t, "if", outer.Children[1].(*ast.Directive).Name)
}
