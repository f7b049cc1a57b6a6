package renderer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/directive"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/parser"
)

type renderCase struct {
	env    directive.Environment
	tokens directive.TokenProvider
}

func render(t *testing.T, src string, vars map[string]interface{}) string {
	t.Helper()
	out, err := renderWith(t, src, vars, renderCase{env: directive.Production})
	require.NoError(t, err)
	return out
}

func renderWith(t *testing.T, src string, vars map[string]interface{}, rc renderCase) (string, error) {
	t.Helper()
	root, err := parser.Parse("page.html", src, directive.Default())
	if err != nil {
		return "", err
	}

	r := New(nil, nil)
	return r.Render(context.Background(), root, vars, directive.NewContext(rc.env, rc.tokens))
}

func TestRenderText(t *testing.T) {
	assert.Equal(t, "<p>plain</p>", render(t, "<p>plain</p>", nil))
	assert.Equal(t, "", render(t, "", nil))
}

func TestRenderExpressions(t *testing.T) {
	vars := map[string]interface{}{
		"name":  "<Ada & Bob>",
		"count": 3,
	}

	assert.Equal(t, "Hi &lt;Ada &amp; Bob&gt;", render(t, "Hi {{ name }}", vars))
	assert.Equal(t, "Hi <Ada & Bob>", render(t, "Hi {{{ name }}}", vars))
	assert.Equal(t, "4 items", render(t, "{{ count + 1 }} items", vars))
}

func TestRenderDeterministic(t *testing.T) {
	src := `@each(k, i in tags)<li>{{ i }}:{{ k }}</li>@/each{{ json(meta) }}`
	vars := map[string]interface{}{
		"tags": []string{"x", "y"},
		"meta": map[string]interface{}{"b": 1, "a": 2},
	}

	first := render(t, src, vars)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, render(t, src, vars))
	}
}

func TestRenderIf(t *testing.T) {
	src := "@if(user.admin)<b>Admin</b>@/if"

	assert.Equal(t, "<b>Admin</b>", render(t, src, map[string]interface{}{
		"user": map[string]interface{}{"admin": true},
	}))
	assert.Equal(t, "", render(t, src, map[string]interface{}{
		"user": map[string]interface{}{"admin": false},
	}))
	assert.Equal(t, "", render(t, src, map[string]interface{}{
		"user": map[string]interface{}{},
	}))
}

func TestRenderEach(t *testing.T) {
	vars := map[string]interface{}{
		"items": []interface{}{"a", "b", "c"},
		"item":  "outer",
	}

	assert.Equal(t, "<li>a</li><li>b</li><li>c</li>",
		render(t, "@each(item in items)<li>{{ item }}</li>@/each", vars))

	assert.Equal(t, "0=a 1=b 2=c ",
		render(t, "@each(item, i in items){{ i }}={{ item }} @/each", vars))

	// The loop binding does not leak past the loop.
	assert.Equal(t, "abc|outer",
		render(t, "@each(item in items){{ item }}@/each|{{ item }}", vars))
}

func TestRenderEachMapSortedKeys(t *testing.T) {
	vars := map[string]interface{}{
		"scores": map[string]int{"carol": 3, "alice": 1, "bob": 2},
	}
	assert.Equal(t, "alice=1;bob=2;carol=3;",
		render(t, "@each(score, who in scores){{ who }}={{ score }};@/each", vars))
}

func TestRenderEachNested(t *testing.T) {
	vars := map[string]interface{}{
		"rows": []interface{}{
			[]interface{}{1, 2},
			[]interface{}{3},
		},
	}
	assert.Equal(t, "[12][3]",
		render(t, "@each(row in rows)[@each(cell in row){{ cell }}@/each]@/each", vars))
}

func TestRenderEachNotIterable(t *testing.T) {
	_, err := renderWith(t, "\n@each(x in count)x@/each", map[string]interface{}{"count": 5},
		renderCase{env: directive.Production})
	require.Error(t, err)
	assert.True(t, errors.IsDirectiveRuntime(err))
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeNotIterable))
	assert.Contains(t, err.Error(), "page.html:2:1")
}

func TestRenderEachBadArgs(t *testing.T) {
	_, err := renderWith(t, "@each(items)x@/each", map[string]interface{}{"items": []int{1}},
		renderCase{env: directive.Production})
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeInvalidArgs))
	assert.True(t, errors.IsSyntaxError(err))
}

func TestRenderSwitch(t *testing.T) {
	src := `@switch(role)` +
		`@case('admin')A@/case` +
		`@case('user')U@/case` +
		`@case('admin')second@/case` +
		`@/switch`

	assert.Equal(t, "A", render(t, src, map[string]interface{}{"role": "admin"}))
	assert.Equal(t, "U", render(t, src, map[string]interface{}{"role": "user"}))
	assert.Equal(t, "", render(t, src, map[string]interface{}{"role": "guest"}))
}

func TestRenderSwitchStrictAndDefault(t *testing.T) {
	src := `@switch(code) @case('1')string@/case @case(1)number@/case @default fallback@/default @/switch`

	assert.Equal(t, "number", render(t, src, map[string]interface{}{"code": 1}))
	assert.Equal(t, " fallback", render(t, src, map[string]interface{}{"code": 2}))
}

func TestRenderCaseOutsideSwitch(t *testing.T) {
	_, err := renderWith(t, "@case(1)x@/case", nil, renderCase{env: directive.Production})
	assert.True(t, errors.IsDirectiveRuntime(err))
}

func TestRenderStackBeforePush(t *testing.T) {
	src := `<head>@stack('scripts')</head>` +
		`<body>@push('scripts')<script src="a.js"></script>@/push` +
		`main` +
		`@push('scripts')<script src="{{ file }}"></script>@/push</body>`

	out := render(t, src, map[string]interface{}{"file": "b.js"})
	assert.Equal(t,
		`<head><script src="a.js"></script><script src="b.js"></script></head><body>main</body>`,
		out)
}

func TestRenderStackEmpty(t *testing.T) {
	assert.Equal(t, "[]", render(t, "[@stack('none')]", nil))
}

func TestRenderStackInsidePush(t *testing.T) {
	_, err := renderWith(t, "@push('a')@stack('b')@/push", nil, renderCase{env: directive.Production})
	require.Error(t, err)
	assert.True(t, errors.IsDirectiveRuntime(err))
}

func TestRenderPushUsesRootScope(t *testing.T) {
	_, err := renderWith(t, "@each(x in xs)@push('s'){{ x }}@/push@/each@stack('s')",
		map[string]interface{}{"xs": []int{1}}, renderCase{env: directive.Production})
	require.Error(t, err)
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeUnboundIdentifier))
}

func TestRenderEnvironment(t *testing.T) {
	src := "@dev D@/dev@prod P@/prod"

	prod, err := renderWith(t, src, nil, renderCase{env: directive.Production})
	require.NoError(t, err)
	assert.Equal(t, " P", prod)

	dev, err := renderWith(t, src, nil, renderCase{env: directive.Development})
	require.NoError(t, err)
	assert.Equal(t, " D", dev)
}

func TestRenderJSON(t *testing.T) {
	out := render(t, `<script>var d = @json({b: 1, a: [true, null], s: '</script>'});</script>`, nil)
	assert.Equal(t, `<script>var d = {"b":1,"a":[true,null],"s":"\u003c/script\u003e"};</script>`, out)
}

func TestRenderJSONGoValues(t *testing.T) {
	type item struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	out := render(t, "@json(items)", map[string]interface{}{
		"items": []item{{ID: 1, Name: "a"}},
	})
	assert.Equal(t, `[{"id":1,"name":"a"}]`, out)
}

func TestRenderCSRF(t *testing.T) {
	out, err := renderWith(t, "<form>@csrf</form>", nil, renderCase{
		env:    directive.Production,
		tokens: directive.StaticTokens{CSRF: `abc"123`},
	})
	require.NoError(t, err)
	assert.Equal(t, `<form><input type="hidden" name="_token" value="abc&#34;123"></form>`, out)

	_, err = renderWith(t, "@csrf", nil, renderCase{env: directive.Production})
	require.Error(t, err)
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeTokenUnavailable))
}

func TestRenderMethod(t *testing.T) {
	testCases := []struct {
		src      string
		vars     map[string]interface{}
		expected string
	}{
		{"@method(PUT)", nil, "PUT"},
		{"@method(patch)", nil, "PATCH"},
		{"@method('delete')", nil, "DELETE"},
		{"@method(verb)", map[string]interface{}{"verb": "put"}, "PUT"},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			out := render(t, tc.src, tc.vars)
			assert.Equal(t, `<input type="hidden" name="_method" value="`+tc.expected+`">`, out)
		})
	}

	_, err := renderWith(t, "@method('PUT; drop')", nil, renderCase{env: directive.Production})
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeInvalidArgs))
}

func TestRenderNonceAndHotReload(t *testing.T) {
	tokens := directive.StaticTokens{Nonce: "r4nd0m"}

	out, err := renderWith(t, "<script @nonceProp></script>", nil, renderCase{env: directive.Production, tokens: tokens})
	require.NoError(t, err)
	assert.Equal(t, `<script nonce="r4nd0m"></script>`, out)

	out, err = renderWith(t, "@hotReload", nil, renderCase{env: directive.Production, tokens: tokens})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = renderWith(t, "@hotReload", nil, renderCase{env: directive.Development, tokens: tokens})
	require.NoError(t, err)
	assert.Contains(t, out, `<script nonce="r4nd0m">`)
	assert.Contains(t, out, `"/__vellum/reload"`)
	assert.Contains(t, out, "full_reload")
}

func TestRenderUnboundIdentifier(t *testing.T) {
	_, err := renderWith(t, "line\n  {{ missing }}", nil, renderCase{env: directive.Production})
	require.Error(t, err)
	assert.True(t, errors.IsExpressionError(err))

	te, ok := err.(*errors.TemplateError)
	require.True(t, ok)
	assert.Equal(t, "page.html", te.Template)
	assert.Equal(t, 2, te.Line)
	assert.Equal(t, 3, te.Column)
}

func TestRenderNoPartialOutput(t *testing.T) {
	out, err := renderWith(t, "before {{ missing }} after", nil, renderCase{env: directive.Production})
	require.Error(t, err)
	assert.Empty(t, out)
}

func customRegistry(t *testing.T, descs ...directive.Descriptor) *directive.Registry {
	t.Helper()
	reg, err := directive.Default().With(descs...)
	require.NoError(t, err)
	return reg
}

func TestRenderCustomDirective(t *testing.T) {
	reg := customRegistry(t, directive.Descriptor{
		Name: "card",
		Kind: directive.Block,
		Args: directive.ArgsRequired,
		Handler: func(ctx context.Context, call *directive.Call) (string, error) {
			title, err := call.EvalArgs()
			if err != nil {
				return "", err
			}
			body, err := call.RenderChildren(ctx, map[string]interface{}{"title": title})
			if err != nil {
				return "", err
			}
			return `<div class="card">` + body + `</div>`, nil
		},
	})

	root, err := parser.Parse("card.html", "@card('Hello')<h2>{{ title }}</h2>@/card", reg)
	require.NoError(t, err)

	out, err := New(reg, nil).Render(context.Background(), root, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `<div class="card"><h2>Hello</h2></div>`, out)
}

func TestRenderHandlerErrors(t *testing.T) {
	reg := customRegistry(t,
		directive.Descriptor{
			Name: "fails", Kind: directive.Inline,
			Handler: func(context.Context, *directive.Call) (string, error) {
				return "", fmt.Errorf("backend down")
			},
		},
		directive.Descriptor{
			Name: "panics", Kind: directive.Inline,
			Handler: func(context.Context, *directive.Call) (string, error) {
				panic("boom")
			},
		},
	)

	for _, src := range []string{"@fails", "@panics"} {
		root, err := parser.Parse("h.html", src, reg)
		require.NoError(t, err)

		_, err = New(reg, nil).Render(context.Background(), root, nil, nil)
		require.Error(t, err, src)
		assert.True(t, errors.IsDirectiveRuntime(err), src)
		assert.True(t, errors.HasErrorCode(err, errors.ErrCodeHandlerFailed), src)
	}
}

func TestRenderAsyncCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	reg := customRegistry(t, directive.Descriptor{
		Name:  "slow",
		Kind:  directive.Inline,
		Async: true,
		Handler: func(ctx context.Context, _ *directive.Call) (string, error) {
			<-release
			return "late", nil
		},
	})

	root, err := parser.Parse("slow.html", "before @slow after", reg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := New(reg, nil).Render(ctx, root, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out)
}

func TestRenderAsyncCompletes(t *testing.T) {
	reg := customRegistry(t, directive.Descriptor{
		Name:  "later",
		Kind:  directive.Inline,
		Async: true,
		Handler: func(context.Context, *directive.Call) (string, error) {
			time.Sleep(time.Millisecond)
			return "done", nil
		},
	})

	root, err := parser.Parse("a.html", "[@later][@later]", reg)
	require.NoError(t, err)

	out, err := New(reg, nil).Render(context.Background(), root, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "[done][done]", out)
}

func TestRenderDevOnlySkipsHandler(t *testing.T) {
	called := false
	reg := customRegistry(t, directive.Descriptor{
		Name:    "debugbar",
		Kind:    directive.Inline,
		DevOnly: true,
		Handler: func(context.Context, *directive.Call) (string, error) {
			called = true
			return "bar", nil
		},
	})

	root, err := parser.Parse("d.html", "@debugbar", reg)
	require.NoError(t, err)

	out, err := New(reg, nil).Render(context.Background(), root, nil,
		directive.NewContext(directive.Production, nil))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, called)
}

func TestRenderSharedTreeConcurrently(t *testing.T) {
	root, err := parser.Parse("c.html", "@each(n in nums){{ n * factor }},@/each", directive.Default())
	require.NoError(t, err)
	r := New(nil, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(factor int) {
			defer wg.Done()
			out, err := r.Render(context.Background(), root, map[string]interface{}{
				"nums":   []int{1, 2},
				"factor": factor,
			}, nil)
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%d,%d,", factor, 2*factor), out)
		}(i)
	}
	wg.Wait()
}

func TestRenderFreezesRegistry(t *testing.T) {
	reg := directive.NewRegistry()
	r := New(reg, nil)

	_, err := r.Render(context.Background(), &ast.Root{Name: "empty"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, reg.Frozen())
}

func TestRenderLogsOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Output: &buf})

	root, err := parser.Parse("logged.html", "{{ missing }}", directive.Default())
	require.NoError(t, err)

	_, err = New(nil, logger).Render(context.Background(), root, nil, nil)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "operation=render")
	assert.Contains(t, buf.String(), "template=logged.html")
	assert.True(t, strings.Contains(buf.String(), "Operation failed"))
}
