package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/config"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/validation"
	"github.com/conneroisu/vellum/pkg/view"
)

// Placeholder tokens rendered during a check so the audit can verify that
// scripts carry the response nonce.
const (
	checkCSRFToken = "vellum-check-token"
	checkNonce     = "vellum-check-nonce"
)

type checkOptions struct {
	*rootOptions

	vars     string
	noRender bool
	strict   bool
	output   string
}

// checkResult is the outcome for one template.
type checkResult struct {
	File     string               `json:"file" yaml:"file"`
	Error    string               `json:"error,omitempty" yaml:"error,omitempty"`
	Findings []validation.Finding `json:"findings,omitempty" yaml:"findings,omitempty"`
}

func (r checkResult) failed(strict bool) bool {
	if r.Error != "" {
		return true
	}
	if strict {
		return len(r.Findings) > 0
	}
	for _, f := range r.Findings {
		if f.Severity == validation.SeverityCritical {
			return true
		}
	}
	return false
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	o := &checkOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:     "check [files...]",
		Aliases: []string{"c"},
		Short:   "Parse and audit templates",
		Long: `Parse templates and audit the HTML they render in production.

With no arguments every template under templates.dir is checked. Each
template is rendered with its data file (page.html -> page.yml) and the
output is audited for scripts missing the CSP nonce, POST forms without
@csrf, invalid _method overrides, images without alt text and inline
event handlers.

The command fails when a template does not parse or render, or when a
critical finding is reported. --strict fails on any finding.

Examples:
  vellum check
  vellum check templates/index.html templates/blog/post.html
  vellum check --no-render
  vellum check -o json`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(o.v, cmd.Flags(), map[string]string{"dir": "templates.dir"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args)
		},
	}

	cmd.Flags().String("dir", "", "Template directory (default from config)")
	cmd.Flags().StringVar(&o.vars, "vars", "", "Variables applied to every template")
	cmd.Flags().BoolVar(&o.noRender, "no-render", false, "Only parse, skip rendering and the audit")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "Fail on any finding")
	outputFlag(cmd, &o.output, FormatText, FormatText, FormatJSON, FormatYAML)

	return cmd
}

func (o *checkOptions) run(cmd *cobra.Command, files []string) error {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(files) == 0 {
		files, err = templateFiles(cfg, logger)
		if err != nil {
			return err
		}
	}

	results := make([]checkResult, 0, len(files))
	failed := 0
	for _, file := range files {
		result := o.checkFile(ctx, logger, cfg, file)
		if result.failed(o.strict) {
			failed++
		}
		results = append(results, result)
	}

	if o.output == FormatText {
		writeCheckText(cmd.OutOrStdout(), results)
	} else if err := writeStructured(cmd.OutOrStdout(), o.output, results); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("check failed: %d of %d templates have problems", failed, len(results))
	}
	return nil
}

func (o *checkOptions) checkFile(ctx context.Context, logger logging.Logger, cfg *config.Config, file string) checkResult {
	result := checkResult{File: file}

	if err := validation.ValidateFileExtension(file, []string{cfg.Templates.Extension}); err != nil {
		result.Error = err.Error()
		return result
	}

	source, err := os.ReadFile(file)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	tmpl, err := view.CompileTemplate(string(source), view.WithName(file))
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if o.noRender {
		return result
	}

	data, err := templateData(file, o.vars, nil, false)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	html, err := view.RenderTemplate(ctx, tmpl, data,
		view.WithEnvironment(view.Production),
		view.WithTokens(view.StaticTokens{CSRF: checkCSRFToken, Nonce: checkNonce}),
		view.WithLogger(logger))
	if err != nil {
		result.Error = err.Error()
		return result
	}

	report, err := validation.Audit(ctx, logger, html, validation.AuditOptions{Nonce: checkNonce})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Findings = report.Findings
	return result
}

// templateFiles lists every template under the configured directory.
func templateFiles(cfg *config.Config, logger logging.Logger) ([]string, error) {
	engine, err := view.NewEngine(view.EngineConfig{
		Dir:       cfg.Templates.Dir,
		Extension: cfg.Templates.Extension,
	}, view.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	names, err := engine.Names()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.NewIOError(errors.ErrCodeTemplateNotFound,
			fmt.Sprintf("no %s templates in %s", cfg.Templates.Extension, cfg.Templates.Dir), nil)
	}

	files := make([]string, len(names))
	for i, name := range names {
		files[i] = filepath.Join(cfg.Templates.Dir, filepath.FromSlash(name))
	}
	return files, nil
}

func writeCheckText(w io.Writer, results []checkResult) {
	for _, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "FAIL %s\n     %s\n", r.File, strings.ReplaceAll(r.Error, "\n", "\n     "))
		case len(r.Findings) == 0:
			fmt.Fprintf(w, "ok   %s\n", r.File)
		default:
			fmt.Fprintf(w, "warn %s\n", r.File)
			for _, f := range r.Findings {
				fmt.Fprintf(w, "     [%s] %s: %s (%s)\n", f.Severity, f.Rule, f.Message, f.Element)
			}
		}
	}
}
