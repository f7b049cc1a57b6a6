package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/version"
)

func newVersionCmd() *cobra.Command {
	var (
		output string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the version, commit, build time, Go version and platform.

Examples:
  vellum version
  vellum version --short
  vellum version -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}

			info := version.Get()
			if output != FormatText {
				return writeStructured(cmd.OutOrStdout(), output, info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "vellum %s\n%s\n", version.Short(), info)
			return err
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Show the version only")
	outputFlag(cmd, &output, FormatText, FormatText, FormatJSON, FormatYAML)

	return cmd
}
