// Package config provides CLI configuration and application logic for kiban.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/mazrean/kiban/internal/app"
	"github.com/mazrean/kiban/internal/inspect"
	"github.com/mazrean/kiban/internal/logging"
)

const defaultLogLevel = "info"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI is the root command configuration with subcommands.
type CLI struct {
	LogLevel string           `kong:"short='l',help='Log level',enum='debug,info,warn,error',default='info'"`
	Serve    ServeCmd         `kong:"cmd,help='Boot the application and serve HTTP and realtime traffic'"`
	Inspect  InspectCmd       `kong:"cmd,default='withargs',help='Report the provider graph of Go packages (default)'"`
	Version  kong.VersionFlag `kong:"short='v',help='Show version and exit.'"`
}

// ServeCmd boots the built-in application.
type ServeCmd struct {
	Config   string   `kong:"short='c',type='path',help='YAML configuration file',env='KIBAN_CONFIG'"`
	EnvFiles []string `kong:"name='env-file',help='.env files to load before reading the environment'"`
	Addr     string   `kong:"help='Listen address, overrides the configuration file'"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := Load(c.Config, c.EnvFiles...)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	// --log-level only wins over the configuration when moved off its default.
	if cli.LogLevel != defaultLogLevel {
		cfg.Logging.Level = cli.LogLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(a.Logger())

	return a.Run(ctx)
}

// InspectCmd analyzes provider declarations without running them.
type InspectCmd struct {
	Patterns []string `kong:"arg,optional,help='Go package patterns to inspect',default='./...'"`
	Dir      string   `kong:"short='C',type='existingdir',help='Directory to resolve patterns from'"`
	Format   string   `kong:"short='f',enum='text,json,dot',default='text',help='Output format'"`
	Output   string   `kong:"short='o',help='Write the report to this file instead of stdout'"`
}

// Run executes the inspect command.
func (c *InspectCmd) Run(cli *CLI) error {
	setupLogger(cli.LogLevel)

	slog.Info("Inspecting provider declarations", "patterns", c.Patterns)

	decls, err := inspect.NewParser(c.Dir).Parse(c.Patterns...)
	if err != nil {
		return err
	}
	report := inspect.NewGraph(decls).Analyze()

	var w io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create file %s: %w", c.Output, err)
		}
		defer f.Close()
		w = f
	}

	switch c.Format {
	case "json":
		err = report.WriteJSON(w)
	case "dot":
		err = report.WriteDOT(w)
	default:
		err = report.WriteText(w)
	}
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return report.Err()
}

func Run() error {
	var cli CLI
	kongCtx := kong.Parse(&cli,
		kong.Name("kiban"),
		kong.Description("A backend composition kernel: dependency resolution, modules and their serving infrastructure"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s) released on %s", version, commit, date),
		},
	)

	return kongCtx.Run(&cli)
}

func setupLogger(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
