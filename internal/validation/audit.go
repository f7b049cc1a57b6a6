package validation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/vellum/internal/logging"
)

// Severity ranks audit findings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeveritySerious  Severity = "serious"
	SeverityModerate Severity = "moderate"
)

// Rule identifiers reported by Audit.
const (
	RuleScriptNonce    = "script-missing-nonce"
	RuleFormCSRF       = "form-missing-csrf"
	RuleMethodOverride = "invalid-method-override"
	RuleImageAlt       = "missing-alt-text"
	RuleInlineHandler  = "inline-event-handler"
)

// Finding is one problem found in rendered HTML.
type Finding struct {
	Rule     string   `json:"rule" yaml:"rule"`
	Severity Severity `json:"severity" yaml:"severity"`
	Element  string   `json:"element" yaml:"element"`
	Message  string   `json:"message" yaml:"message"`
}

// AuditOptions selects the checks Audit runs.
type AuditOptions struct {
	// Nonce, when set, must appear on every <script>.
	Nonce string
	// RequireNonce flags scripts without any nonce attribute.
	RequireNonce bool
	// SkipCSRF disables the form token check.
	SkipCSRF bool
}

// Report is the outcome of auditing one document.
type Report struct {
	Findings []Finding `json:"findings" yaml:"findings"`
}

// HasCritical reports whether any finding is critical.
func (r *Report) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

var spoofableMethods = map[string]bool{"PUT": true, "PATCH": true, "DELETE": true}

// Audit parses rendered HTML and reports markup that defeats the CSP nonce
// or CSRF protections the directives provide.
func Audit(ctx context.Context, logger logging.Logger, document string, opts AuditOptions) (*Report, error) {
	doc, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	report := &Report{}
	add := func(rule string, severity Severity, n *html.Node, format string, args ...interface{}) {
		report.Findings = append(report.Findings, Finding{
			Rule:     rule,
			Severity: severity,
			Element:  describe(n),
			Message:  fmt.Sprintf(format, args...),
		})
	}

	var traverse func(*html.Node, *html.Node)
	traverse = func(n *html.Node, form *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script:
				nonce, ok := attr(n, "nonce")
				switch {
				case opts.Nonce != "" && nonce != opts.Nonce:
					add(RuleScriptNonce, SeveritySerious, n, "script nonce does not match the response nonce")
				case opts.RequireNonce && !ok:
					add(RuleScriptNonce, SeveritySerious, n, "script has no nonce attribute")
				}
			case atom.Form:
				form = n
				if !opts.SkipCSRF && formMethod(n) == "POST" && !hasHiddenInput(n, "_token") {
					add(RuleFormCSRF, SeverityCritical, n, "POST form has no _token field; add @csrf")
				}
			case atom.Input:
				if name, _ := attr(n, "name"); name == "_method" {
					value, _ := attr(n, "value")
					switch {
					case form == nil || formMethod(form) != "POST":
						add(RuleMethodOverride, SeveritySerious, n, "_method override outside a POST form")
					case !spoofableMethods[strings.ToUpper(value)]:
						add(RuleMethodOverride, SeveritySerious, n, "unsupported _method value %q", value)
					}
				}
			case atom.Img:
				if _, ok := attr(n, "alt"); !ok {
					add(RuleImageAlt, SeverityModerate, n, "image has no alt attribute")
				}
			}

			for _, a := range n.Attr {
				if strings.HasPrefix(strings.ToLower(a.Key), "on") {
					add(RuleInlineHandler, SeverityModerate, n, "inline %s handler is blocked by a nonce-based CSP", a.Key)
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c, form)
		}
	}
	traverse(doc, nil)

	if logger != nil {
		logger.Debug(ctx, "HTML audit completed", "findings", len(report.Findings))
	}
	return report, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func formMethod(form *html.Node) string {
	method, _ := attr(form, "method")
	if method == "" {
		return "GET"
	}
	return strings.ToUpper(method)
}

func hasHiddenInput(n *html.Node, name string) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Input {
			typ, _ := attr(c, "type")
			got, _ := attr(c, "name")
			if strings.EqualFold(typ, "hidden") && got == name {
				return true
			}
		}
		if hasHiddenInput(c, name) {
			return true
		}
	}
	return false
}

// describe renders a short selector-like label for n.
func describe(n *html.Node) string {
	label := n.Data
	if id, ok := attr(n, "id"); ok && id != "" {
		label += "#" + id
	}
	if name, ok := attr(n, "name"); ok && name != "" {
		label += fmt.Sprintf("[name=%s]", name)
	}
	return label
}
