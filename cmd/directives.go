package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/directive"
)

func newDirectivesCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "directives",
		Aliases: []string{"d"},
		Short:   "List the built-in directives",
		Long: `List every directive registered in the default registry with its kind
(block or inline), argument mode and description.

Examples:
  vellum directives
  vellum directives -o json
  vellum directives -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs := directive.Default().Descriptors()
			infos := make([]directive.Info, len(descs))
			for i, d := range descs {
				infos[i] = d.Info()
			}

			if output != FormatTable {
				return writeStructured(cmd.OutOrStdout(), output, infos)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tARGS\tFLAGS\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(w, "@%s\t%s\t%s\t%s\t%s\n",
					info.Name, info.Kind, info.Args, infoFlags(info), info.Description)
			}
			return w.Flush()
		},
	}
	outputFlag(cmd, &output, FormatTable, FormatTable, FormatJSON, FormatYAML)

	return cmd
}

func infoFlags(info directive.Info) string {
	switch {
	case info.Async && info.DevOnly:
		return "async,dev"
	case info.Async:
		return "async"
	case info.DevOnly:
		return "dev"
	}
	return "-"
}
