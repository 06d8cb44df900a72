// Package server serves the request handlers registered in a kernel over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mazrean/kiban"
)

// Config configures the HTTP server.
type Config struct {
	Addr              string        `yaml:"addr"`
	RateLimit         float64       `yaml:"rate_limit"`
	Burst             int           `yaml:"burst"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// Route is a request handler bound to the router.
type Route struct {
	Identity kiban.Identity `json:"-"`
	Handler  string         `json:"handler"`
	Method   string         `json:"method,omitempty"`
	Path     string         `json:"path"`
}

// Server binds RequestHandler registrations onto a chi router.
type Server struct {
	router  chi.Router
	logger  *slog.Logger
	limiter *RateLimiter
	routes  []Route
	cfg     Config
}

// Option configures a Server.
type Option func(*Server)

// WithMiddleware adds middleware in front of every route.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.router.Use(mw...)
	}
}

// New creates a server. Options run before any route is added.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		cfg:    cfg,
	}

	s.router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.Burst, logger)
		s.router.Use(s.limiter.Handler)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return s
}

// Mount serves h under pattern. The pattern prefix is stripped from the
// request path before h sees it.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, http.StripPrefix(strings.TrimSuffix(pattern, "/"), h))
}

// Handle serves h at pattern.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

// Bind resolves every RequestHandler registration of k and routes it by its
// path and method options. Each instance must implement http.Handler.
func (s *Server) Bind(k *kiban.Kernel) error {
	for _, id := range k.AllOfKind(kiban.KindRequestHandler) {
		reg, _ := k.Registration(id)
		if reg.Options.Path == "" {
			return fmt.Errorf("request handler %s: no path", id)
		}

		instance, err := k.Resolve(id)
		if err != nil {
			return fmt.Errorf("resolve request handler %s: %w", id, err)
		}

		h, ok := instance.(http.Handler)
		if !ok {
			return fmt.Errorf("request handler %s: %T does not implement http.Handler", id, instance)
		}

		method := strings.ToUpper(reg.Options.Method)
		if method == "" {
			s.router.Handle(reg.Options.Path, h)
		} else {
			s.router.Method(method, reg.Options.Path, h)
		}

		s.routes = append(s.routes, Route{
			Identity: id,
			Handler:  id.String(),
			Method:   method,
			Path:     reg.Options.Path,
		})
		s.logger.Debug("route bound", "handler", id, "method", method, "path", reg.Options.Path)
	}

	return nil
}

// Routes returns the routes bound so far.
func (s *Server) Routes() []Route {
	return s.routes
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	if s.limiter != nil {
		go s.cleanupLimiter(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String(), "routes", len(s.routes))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(5 * time.Minute); n > 0 {
				s.logger.Debug("rate limiters dropped", "count", n)
			}
		}
	}
}
