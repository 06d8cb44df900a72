package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mazrean/kiban/internal/app"
)

const envPrefix = "KIBAN_"

// Load builds the application configuration: defaults, then the YAML file at
// path when set, then KIBAN_* environment variables. envFiles are loaded into
// the environment first; when none are given a .env file in the working
// directory is loaded if present. Variables already set are not overwritten.
func Load(path string, envFiles ...string) (app.Config, error) {
	cfg := app.DefaultConfig()

	if err := loadEnvFiles(envFiles); err != nil {
		return cfg, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files %v: %w", files, err)
	}
	return nil
}

// applyEnv overrides cfg with the KIBAN_* variables that are set.
func applyEnv(cfg *app.Config) error {
	strs := map[string]*string{
		"NAME":            &cfg.Name,
		"ADDR":            &cfg.Server.Addr,
		"LOG_LEVEL":       &cfg.Logging.Level,
		"LOG_FORMAT":      &cfg.Logging.Format,
		"DATABASE_DRIVER": &cfg.Database.Driver,
		"DATABASE_DSN":    &cfg.Database.DSN,
		"METRICS_PATH":    &cfg.Metrics.Path,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "RATE_LIMIT"); ok {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT: %w", envPrefix, err)
		}
		cfg.Server.RateLimit = limit
	}

	if v, ok := os.LookupEnv(envPrefix + "SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", envPrefix, err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v, ok := os.LookupEnv(envPrefix + "METRICS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", envPrefix, err)
		}
		cfg.Metrics.Enabled = enabled
	}

	return nil
}
