package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/logging"
)

func rules(r *Report) []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Rule)
	}
	return out
}

func TestAudit(t *testing.T) {
	testCases := []struct {
		name     string
		html     string
		opts     AuditOptions
		expected []string
	}{
		{
			name:     "clean document",
			html:     `<form method="post"><input type="hidden" name="_token" value="t"><img src="a.png" alt="a"></form>`,
			expected: []string{},
		},
		{
			name:     "post form without token",
			html:     `<form method="POST" id="login"><input name="user"></form>`,
			expected: []string{RuleFormCSRF},
		},
		{
			name:     "get form needs no token",
			html:     `<form><input name="q"></form>`,
			expected: []string{},
		},
		{
			name:     "csrf check disabled",
			html:     `<form method="post"></form>`,
			opts:     AuditOptions{SkipCSRF: true},
			expected: []string{},
		},
		{
			name:     "script without nonce",
			html:     `<script>go()</script>`,
			opts:     AuditOptions{RequireNonce: true},
			expected: []string{RuleScriptNonce},
		},
		{
			name:     "script with wrong nonce",
			html:     `<script nonce="old">go()</script><script nonce="n1">ok()</script>`,
			opts:     AuditOptions{Nonce: "n1"},
			expected: []string{RuleScriptNonce},
		},
		{
			name:     "method override in get form",
			html:     `<form><input type="hidden" name="_method" value="PUT"></form>`,
			expected: []string{RuleMethodOverride},
		},
		{
			name:     "unsupported override verb",
			html:     `<form method="post"><input type="hidden" name="_token" value="t"><input type="hidden" name="_method" value="GET"></form>`,
			expected: []string{RuleMethodOverride},
		},
		{
			name:     "image without alt",
			html:     `<img src="x.png">`,
			expected: []string{RuleImageAlt},
		},
		{
			name:     "inline handler",
			html:     `<button onclick="go()">Go</button>`,
			expected: []string{RuleInlineHandler},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := Audit(context.Background(), logging.NewNopLogger(), tc.html, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, rules(report))
		})
	}
}

func TestAuditFindingDetails(t *testing.T) {
	report, err := Audit(context.Background(), nil, `<form method="post" id="checkout"></form>`, AuditOptions{})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)

	f := report.Findings[0]
	assert.Equal(t, SeverityCritical, f.Severity)
	assert.Equal(t, "form#checkout", f.Element)
	assert.Contains(t, f.Message, "@csrf")
	assert.True(t, report.HasCritical())
}
