// Package database provides the SQL database service shared by application
// modules.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotConfigured is returned by Open when no DSN is set.
var ErrNotConfigured = errors.New("database: dsn not configured")

// Config configures the database connection.
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

// Enabled reports whether a DSN is configured.
func (c Config) Enabled() bool {
	return c.DSN != ""
}

// Service wraps a connection pool.
type Service struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens the configured database and waits until it answers a ping.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s, err := Connect(ctx, db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Connect pings db until it answers, retrying up to cfg.ConnectRetries times
// with a doubling backoff.
func Connect(ctx context.Context, db *sqlx.DB, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectRetries {
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempt+1, err)
		}

		logger.Warn("database not ready", "attempt", attempt+1, "retry_in", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("ping database: %w", ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}

	logger.Info("database connected", "driver", db.DriverName())

	return &Service{db: db, logger: logger}, nil
}

// DB returns the connection pool.
func (s *Service) DB() *sqlx.DB {
	return s.db
}

// Health pings the database.
func (s *Service) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Version returns the server version string.
func (s *Service) Version(ctx context.Context) (string, error) {
	var version string
	if err := s.db.GetContext(ctx, &version, "SELECT version()"); err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// Close closes the connection pool.
func (s *Service) Close() error {
	return s.db.Close()
}
