// Package app boots a kiban kernel together with the HTTP server, the
// realtime hub and the shared infrastructure services.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mazrean/kiban"
	"github.com/mazrean/kiban/internal/database"
	"github.com/mazrean/kiban/internal/logging"
	"github.com/mazrean/kiban/internal/metrics"
	"github.com/mazrean/kiban/internal/realtime"
	"github.com/mazrean/kiban/internal/server"
)

// Config is the application configuration.
type Config struct {
	Name     string          `yaml:"name"`
	Server   server.Config   `yaml:"server"`
	Logging  logging.Config  `yaml:"logging"`
	Database database.Config `yaml:"database"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Name: "kiban",
		Server: server.Config{
			Addr:              ":8080",
			ShutdownTimeout:   10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Buffer: 256,
		},
		Database: database.Config{
			Driver:         "postgres",
			ConnectRetries: 5,
			RetryBackoff:   500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "kiban",
			Path:      "/metrics",
		},
	}
}

// Module declares an application module in k and returns its identity.
type Module func(k *kiban.Kernel) kiban.Identity

type (
	// SystemModule holds the built-in handlers and endpoints.
	SystemModule struct{}
	// RootModule imports SystemModule and every application module.
	RootModule struct{}
)

// App is a booted application.
type App struct {
	kernel  *kiban.Kernel
	logs    *logging.Service
	logger  *slog.Logger
	hub     *realtime.Hub
	server  *server.Server
	db      *database.Service
	metrics *metrics.Observer
	cfg     Config
}

// New builds the kernel, registers the infrastructure services, composes the
// root module and resolves every registration. Log output goes to out.
func New(ctx context.Context, cfg Config, out io.Writer, modules ...Module) (*App, error) {
	logs := logging.NewService(cfg.Logging, out)
	logger := logs.Logger().With("app", cfg.Name)

	a := &App{
		cfg:    cfg,
		logs:   logs,
		logger: logger,
		hub:    realtime.NewHub(logger.With("component", "realtime")),
	}

	opts := []kiban.Option{kiban.WithLogger(logger.With("component", "kernel"))}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
		opts = append(opts, kiban.WithObserver(a.metrics))
	}
	a.kernel = kiban.New(opts...)

	if err := a.boot(ctx, modules); err != nil {
		if a.db != nil {
			_ = a.db.Close()
		}
		return nil, err
	}

	return a, nil
}

func (a *App) boot(ctx context.Context, modules []Module) error {
	k := a.kernel

	if err := k.Provide(
		kiban.Value(k),
		kiban.Value(a.cfg),
		kiban.Value(a.logs),
		kiban.Value(a.logger),
		kiban.Value(a.hub),
	); err != nil {
		return fmt.Errorf("register infrastructure: %w", err)
	}

	if a.cfg.Database.Enabled() {
		db, err := database.Open(ctx, a.cfg.Database, a.logger.With("component", "database"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if err := k.Provide(kiban.Value(db, kiban.WithTags(server.HealthTag))); err != nil {
			return fmt.Errorf("register database: %w", err)
		}
	}

	imports := []kiban.Identity{declareSystem(k)}
	for _, m := range modules {
		imports = append(imports, m(k))
	}
	root := kiban.DeclareModule[RootModule](k, kiban.ModuleDescriptor{Imports: imports})

	if err := k.Compose(root); err != nil {
		return fmt.Errorf("compose modules: %w", err)
	}
	if err := k.ResolveAll(); err != nil {
		return fmt.Errorf("resolve registrations: %w", err)
	}

	var opts []server.Option
	if a.metrics != nil {
		opts = append(opts, server.WithMiddleware(a.metrics.InstrumentHandler))
	}
	a.server = server.New(a.cfg.Server, a.logger.With("component", "http"), opts...)

	if err := a.server.Bind(k); err != nil {
		return fmt.Errorf("bind request handlers: %w", err)
	}
	if err := a.hub.Bind(k); err != nil {
		return fmt.Errorf("bind realtime endpoints: %w", err)
	}
	a.server.Mount("/ws", a.hub)
	if a.metrics != nil {
		a.server.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
	}

	a.logger.Info("application composed",
		"registrations", len(k.All()),
		"routes", len(a.server.Routes()),
		"namespaces", a.hub.Namespaces(),
	)

	return nil
}

func declareSystem(k *kiban.Kernel) kiban.Identity {
	return kiban.DeclareModule[SystemModule](k, kiban.ModuleDescriptor{
		RequestHandlers: []kiban.Provider{
			kiban.Provide(server.NewHealthHandler, kiban.WithPath("/healthz"), kiban.WithMethod(http.MethodGet)),
			kiban.Provide(server.NewRegistryHandler, kiban.WithPath("/debug/registry"), kiban.WithMethod(http.MethodGet)),
		},
		RealtimeEndpoints: []kiban.Provider{
			kiban.Provide(realtime.NewLogsEndpoint, kiban.WithNamespace("/logs")),
		},
	})
}

// Kernel returns the application kernel.
func (a *App) Kernel() *kiban.Kernel {
	return a.kernel
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Run serves HTTP and realtime traffic until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return a.server.Run(ctx)
	})
	eg.Go(func() error {
		return realtime.RelayLogs(ctx, a.hub, a.logs)
	})
	eg.Go(func() error {
		<-ctx.Done()
		a.hub.Close()
		return nil
	})

	err := eg.Wait()

	if a.db != nil {
		if closeErr := a.db.Close(); closeErr != nil {
			a.logger.Warn("close database", "error", closeErr)
		}
	}
	a.logger.Info("application stopped")

	return err
}
