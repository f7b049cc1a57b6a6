package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/server"
)

// shutdownTimeout bounds how long open requests may finish after a signal.
const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the development server with hot reload",
		Long: `Serve the template directory over HTTP. Request paths map to template
names: / renders index.html, /blog/ renders blog/index.html and
/about renders about.html. A data file next to a template supplies its
variables, and the request method, path, query and form are available as
"request".

In development, edited templates are recompiled and connected browsers
reload over a WebSocket. Compile and render errors are shown in an overlay
until the template is fixed.

Examples:
  vellum serve
  vellum serve --port 3000 --dir site
  vellum serve --env production --rate-limit 120`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(root.v, cmd.Flags(), map[string]string{
				"port":       "server.port",
				"host":       "server.host",
				"dir":        "templates.dir",
				"env":        "server.environment",
				"hot-reload": "development.hot_reload",
				"rate-limit": "server.rate_limit.requests_per_minute",
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	cmd.Flags().String("host", "localhost", "Host to bind to")
	cmd.Flags().StringP("dir", "d", "templates", "Template directory")
	cmd.Flags().String("env", "development", "Environment (development|production)")
	cmd.Flags().Bool("hot-reload", true, "Reload browsers when templates change")
	cmd.Flags().Int("rate-limit", 0, "Requests per minute per client IP (0 disables)")

	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s (%s)\n",
		cfg.Templates.Dir, cfg.Addr(), cfg.Server.Environment)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	return <-errCh
}
