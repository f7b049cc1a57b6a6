package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/vars"
	"github.com/conneroisu/vellum/pkg/view"
)

type renderOptions struct {
	*rootOptions

	vars      string
	assigns   []string
	noData    bool
	out       string
	csrfToken string
	nonce     string
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	o := &renderOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:     "render <file>",
		Aliases: []string{"r"},
		Short:   "Render a template to stdout",
		Long: `Render a single template file and print the HTML.

Variables come from, in increasing precedence:
  - a data file next to the template (page.html -> page.yml, page.yaml, page.json)
  - --vars, which takes a file path, @file, or an inline JSON/YAML document
  - --var key=value pairs; dotted keys nest and values are parsed as YAML scalars

Examples:
  vellum render index.html
  vellum render index.html --vars data.yml
  vellum render index.html --vars '{"user": {"name": "Ada"}}'
  vellum render index.html --var title=Home --var user.admin=true
  vellum render index.html --env production -w index.out.html`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(o.v, cmd.Flags(), map[string]string{"env": "server.environment"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&o.vars, "vars", "", "Variables file, @file, or inline JSON/YAML")
	cmd.Flags().StringArrayVar(&o.assigns, "var", nil, "Set a variable (key=value, repeatable)")
	cmd.Flags().BoolVar(&o.noData, "no-data", false, "Ignore the data file next to the template")
	cmd.Flags().String("env", "", "Environment (development|production)")
	cmd.Flags().StringVarP(&o.out, "write", "w", "", "Write output to a file instead of stdout")
	cmd.Flags().StringVar(&o.csrfToken, "csrf-token", "", "Token emitted by @csrf")
	cmd.Flags().StringVar(&o.nonce, "nonce", "", "Nonce emitted by @nonceProp and @hotReload")

	return cmd
}

func (o *renderOptions) run(cmd *cobra.Command, path string) error {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, err := templateData(path, o.vars, o.assigns, o.noData)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeTemplateNotFound,
			fmt.Sprintf("cannot read template %s", path), err)
	}

	op := logging.StartOperation(logger, "render", "template", path)
	tmpl, err := view.CompileTemplate(string(source), view.WithName(path))
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	opts := []view.Option{
		view.WithEnvironment(cfg),
		view.WithLogger(logger),
		view.WithLiveReloadURL(cfg.Development.ReloadPath),
	}
	if o.csrfToken != "" || o.nonce != "" {
		opts = append(opts, view.WithTokens(view.StaticTokens{CSRF: o.csrfToken, Nonce: o.nonce}))
	}

	html, err := view.RenderTemplate(ctx, tmpl, data, opts...)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}
	op.End(ctx)

	if o.out == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), html)
		return err
	}
	if err := os.WriteFile(o.out, []byte(html), 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeInvalidPath,
			fmt.Sprintf("cannot write %s", o.out), err)
	}
	return nil
}

// templateData merges the data file beside path, the --vars argument and
// the --var assignments, later sources winning.
func templateData(path, varsArg string, assigns []string, noData bool) (map[string]interface{}, error) {
	data := make(map[string]interface{})

	if !noData {
		if file := vars.DataFileFor(path); file != "" {
			fromFile, err := vars.LoadFile(file)
			if err != nil {
				return nil, err
			}
			vars.Merge(data, fromFile)
		}
	}

	if varsArg != "" {
		fromArg, err := vars.Argument(varsArg)
		if err != nil {
			return nil, err
		}
		vars.Merge(data, fromArg)
	}

	fromFlags, err := vars.ParseAssignments(assigns)
	if err != nil {
		return nil, err
	}
	vars.Merge(data, fromFlags)

	return data, nil
}
