package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/gridtune/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Store struct {
		// DSN of the SQLite trial store. Empty keeps experiments in memory only.
		DSN string `env:"STORE_DSN"`
	}
	Optimizer struct {
		MaxSuggestions    int    `env:"OPT_MAX_SUGGESTIONS" envDefault:"100"`
		MaxConfigs        int    `env:"OPT_MAX_CONFIGS" envDefault:"10000"`
		StartWithDefaults bool   `env:"OPT_START_WITH_DEFAULTS" envDefault:"true"`
		Targets           string `env:"OPT_TARGETS" envDefault:"score:min"`
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if _, err := cfg.OptimizerDefaults(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// OptimizerDefaults returns the optimizer settings new experiments start
// from when a request does not override them.
func (c *Config) OptimizerDefaults() (optimization.Config, error) {
	targets, err := optimization.ParseTargets(c.Optimizer.Targets)
	if err != nil {
		return optimization.Config{}, fmt.Errorf("OPT_TARGETS: %w", err)
	}
	oc := optimization.Config{
		MaxSuggestions:    c.Optimizer.MaxSuggestions,
		Targets:           targets,
		StartWithDefaults: c.Optimizer.StartWithDefaults,
		MaxConfigs:        c.Optimizer.MaxConfigs,
	}
	if err := oc.Validate(); err != nil {
		return optimization.Config{}, err
	}
	return oc, nil
}
