// Package server runs the development server. It renders templates named by
// the request path, protects forms with CSRF tokens, sends CSP nonces and
// pushes live-reload notices when templates change.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/vellum/internal/config"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/security"
	"github.com/conneroisu/vellum/internal/watcher"
	"github.com/conneroisu/vellum/internal/websocket"
	"github.com/conneroisu/vellum/pkg/view"
)

// Server serves templates from the configured directory.
type Server struct {
	config       *config.Config
	engine       *view.Engine
	hub          *websocket.Hub
	watcher      *watcher.FileWatcher
	errors       *errors.ErrorCollector
	limiter      *RateLimiter
	reloadScript *view.Template
	logger       logging.Logger
	handler      http.Handler
	startedAt    time.Time

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// New builds a server for cfg. opts are applied to every render after the
// server's own defaults, so callers can register extra directives.
func New(cfg *config.Config, logger logging.Logger, opts ...view.Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	s := &Server{
		config:    cfg,
		errors:    errors.NewErrorCollector(),
		logger:    logger,
		startedAt: time.Now(),
	}

	engineOpts := []view.Option{
		view.WithEnvironment(cfg),
		view.WithLogger(logger),
	}
	if s.hotReloadEnabled() {
		engineOpts = append(engineOpts, view.WithLiveReloadURL(cfg.Development.ReloadPath))
		s.hub = websocket.NewHub(websocket.HubConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger,
		})

		fw, err := watcher.NewFileWatcher(cfg.Development.Debounce, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		s.watcher = fw
	}
	engineOpts = append(engineOpts, opts...)

	engine, err := view.NewEngine(view.EngineConfig{
		Dir:       cfg.Templates.Dir,
		Extension: cfg.Templates.Extension,
		CacheSize: cfg.Templates.CacheSize,
	}, engineOpts...)
	if err != nil {
		return nil, err
	}
	s.engine = engine

	s.reloadScript, err = view.CompileTemplate("@hotReload", view.WithName("live-reload"))
	if err != nil {
		return nil, err
	}

	if cfg.Server.RateLimit.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.Server.RateLimit, logger)
	}

	s.handler, err = s.buildHandler()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) hotReloadEnabled() bool {
	return s.config.IsDevelopment() && s.config.Development.HotReload
}

// buildHandler wires routes and middleware. CSP reports bypass CSRF since
// browsers post them without a token.
func (s *Server) buildHandler() (http.Handler, error) {
	csrfMiddleware, err := security.CSRFMiddleware(security.CSRFOptions{
		Key:            []byte(s.config.Security.CSRFKey),
		Secure:         s.config.Security.SecureCookies,
		TrustedOrigins: s.config.Server.AllowedOrigins,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, err
	}

	app := http.NewServeMux()
	app.HandleFunc("GET /__vellum/health", s.handleHealth)
	app.HandleFunc("GET /__vellum/templates", s.handleTemplates)
	app.HandleFunc("GET /__vellum/stats", s.handleStats)
	if s.hub != nil && strings.HasPrefix(s.config.Development.ReloadPath, "/") {
		app.Handle(s.config.Development.ReloadPath, s.hub)
	}
	app.HandleFunc("/", s.handleRender)

	root := http.NewServeMux()
	root.Handle(security.CSPViolationPath, security.CSPViolationHandler(s.logger))
	root.Handle("/", Chain(MethodOverride(), csrfMiddleware).Apply(app))

	outer := []Middleware{
		Recover(s.logger),
		RequestLogger(s.logger),
		CORS(s.config.Server.AllowedOrigins),
	}
	if s.limiter != nil {
		outer = append(outer, s.limiter.Middleware())
	}
	outer = append(outer, security.SecurityMiddleware(security.SecurityConfigFromAppConfig(s.config, s.logger)))

	return Chain(outer...).Apply(root), nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Engine returns the template engine.
func (s *Server) Engine() *view.Engine { return s.engine }

// Errors returns the collector behind the development error overlay.
func (s *Server) Errors() *errors.ErrorCollector { return s.errors }

// Hub returns the live-reload hub, or nil when hot reload is off.
func (s *Server) Hub() *websocket.Hub { return s.hub }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln. The template watcher runs until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.isShutdown.Load() {
		_ = ln.Close()
		return http.ErrServerClosed
	}

	if s.watcher != nil {
		if err := s.setupFileWatcher(ctx); err != nil {
			s.logger.Warn(ctx, err, "Template watcher disabled", "dir", s.engine.Dir())
		}
	}

	// WriteTimeout and ReadTimeout stay zero: they would also bound the
	// hijacked live-reload connections.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.serverMutex.Lock()
	s.httpServer = server
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving templates",
		"addr", ln.Addr().String(),
		"dir", s.engine.Dir(),
		"environment", s.config.Server.Environment,
		"hot_reload", s.hub != nil)

	if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) setupFileWatcher(ctx context.Context) error {
	s.watcher.AddFilter(watcher.NoGitFilter)
	s.watcher.AddFilter(watcher.NoHiddenFilter)
	s.watcher.AddFilter(s.isWatchedFile)
	s.watcher.AddHandler(s.handleFileChange)

	if err := s.watcher.AddRecursive(s.engine.Dir()); err != nil {
		return err
	}
	return s.watcher.Start(ctx)
}

// Shutdown stops the watcher, closes live-reload connections and drains
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.isShutdown.Store(true)
		s.logger.Info(ctx, "Shutting down server")

		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop template watcher")
			}
		}
		if s.hub != nil {
			if err := s.hub.Shutdown(ctx); err != nil {
				s.logger.Warn(ctx, err, "Failed to shut down live-reload hub")
			}
		}
		if s.limiter != nil {
			s.limiter.Stop()
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
