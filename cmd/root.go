// Package cmd provides the vellum command line.
//
// Configuration is resolved in this order, highest first:
//
//  1. command-line flags (--port, --env, ...)
//  2. VELLUM_<SECTION>_<KEY> environment variables
//  3. the file named by --config or VELLUM_CONFIG_FILE
//  4. .vellum.yml in the working directory
//  5. built-in defaults
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/vellum/internal/config"
	"github.com/conneroisu/vellum/internal/logging"
)

// rootOptions is shared by every subcommand. Each invocation gets its own
// Viper instance so flag bindings never leak between commands.
type rootOptions struct {
	v        *viper.Viper
	cfgFile  string
	logLevel string
	getenv   func(string) string
}

// NewRootCommand builds the vellum command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Getenv)
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	opts := &rootOptions{v: viper.New(), getenv: getenv}

	root := &cobra.Command{
		Use:   "vellum",
		Short: "Compile and serve @directive HTML templates",
		Long: `Vellum compiles HTML templates written with @directives and {{ expressions }}
and renders them from the command line or a hot-reloading development server.

Quick Start:
  vellum render templates/index.html --var title=Home
  vellum check                     Parse and audit every template
  vellum serve                     Start the development server
  vellum directives                List the available directives

Command Aliases:
  render (r), check (c), serve (s), directives (d)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.Setup(opts.v, opts.cfgFile, opts.getenv)
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "",
		"config file (default is .vellum.yml, can also use VELLUM_CONFIG_FILE)")
	root.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "",
		"log level (debug, info, warn, error)")

	root.AddCommand(
		newRenderCmd(opts),
		newCheckCmd(opts),
		newServeCmd(opts),
		newDirectivesCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// load resolves the configuration and a logger writing to the command's
// error stream.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	if o.logLevel != "" {
		o.v.Set("log.level", o.logLevel)
	}

	cfg, err := config.LoadFrom(o.v)
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	return cfg, logging.NewLogger(logCfg).WithComponent("cli"), nil
}
