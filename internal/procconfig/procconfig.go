// Package procconfig loads configuration shared by Rivulet's operator
// binaries (the CLI, the compaction daemon, and the ingest bridges) from
// environment variables, with an optional .env file for local
// development. Priority: real environment variables > .env file >
// struct defaults.
package procconfig

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the settings every operator binary needs to reach a
// backend and log consistently; binary-specific settings (topics,
// subjects, compaction interval) are parsed separately by each cmd.
type Config struct {
	BackendURL string `env:"RIVULET_BACKEND_URL" envDefault:"redis://localhost:6379/0"`

	LogLevel  string `env:"RIVULET_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RIVULET_LOG_FORMAT" envDefault:"json"`

	LockTimeout time.Duration `env:"RIVULET_LOCK_TIMEOUT" envDefault:"10s"`

	MetricsAddr string `env:"RIVULET_METRICS_ADDR" envDefault:":9477"`

	ResourceGuardEnabled   bool    `env:"RIVULET_GUARD_ENABLED" envDefault:"false"`
	ResourceGuardCPUPct    float64 `env:"RIVULET_GUARD_CPU_PERCENT" envDefault:"85.0"`
	ResourceGuardMemoryMB  float64 `env:"RIVULET_GUARD_MEMORY_MB" envDefault:"0"`
}

// Load reads configuration from a .env file (if present) and the process
// environment, then validates it. A missing .env file is not an error:
// operator binaries running under a container orchestrator supply
// environment variables directly.
func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file found, using environment variables only")
	} else {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("procconfig: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("procconfig: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks for values Load's defaults cannot guarantee a
// caller hasn't overridden into something nonsensical.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("RIVULET_BACKEND_URL is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("RIVULET_LOCK_TIMEOUT must be > 0, got %s", c.LockTimeout)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("RIVULET_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("RIVULET_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	if c.ResourceGuardEnabled && c.ResourceGuardCPUPct <= 0 && c.ResourceGuardMemoryMB <= 0 {
		return fmt.Errorf("RIVULET_GUARD_ENABLED requires at least one of RIVULET_GUARD_CPU_PERCENT or RIVULET_GUARD_MEMORY_MB to be set")
	}
	return nil
}

// Logger builds a zerolog.Logger per LogFormat/LogLevel.
func (c *Config) Logger() zerolog.Logger {
	var logger zerolog.Logger
	if c.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	logger = logger.With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// LogConfig emits the loaded configuration as a single structured event,
// for operators grepping startup logs.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("backend_url", redactURL(c.BackendURL)).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Dur("lock_timeout", c.LockTimeout).
		Str("metrics_addr", c.MetricsAddr).
		Bool("resource_guard_enabled", c.ResourceGuardEnabled).
		Float64("resource_guard_cpu_percent", c.ResourceGuardCPUPct).
		Float64("resource_guard_memory_mb", c.ResourceGuardMemoryMB).
		Msg("configuration loaded")
}

// redactURL strips a userinfo password before a backend URL ever hits a
// log line.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
		}
	}
	return u.String()
}
