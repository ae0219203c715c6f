// Package config loads the runtime configuration for a job worker host
// process from its environment.
package config

import (
	"fmt"
	"time"

	"github.com/duracron/duracron/internal/env"
)

// RuntimeConfig configures one embedded job runtime instance.
type RuntimeConfig struct {
	// Driver selects the storage backend: "memory", "postgres", or
	// "sqlite".
	Driver string `env:"JOBS_DRIVER"`

	// DSN is the connection string for the postgres/sqlite drivers.
	// Ignored for the memory driver.
	DSN string `env:"JOBS_DSN"`

	Parallelism int `env:"JOBS_PARALLELISM"`

	PollingDelay time.Duration `env:"JOBS_POLLING_DELAY"`

	ShutdownTimeout time.Duration `env:"JOBS_SHUTDOWN_TIMEOUT"`

	ServiceName string `env:"JOBS_SERVICE_NAME"`

	ObservabilityEnabled bool `env:"JOBS_OBSERVABILITY_ENABLED"`
}

// Validate implements env.Validator.
func (c RuntimeConfig) Validate() error {
	switch c.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown JOBS_DRIVER %q", c.Driver)
	}
	if c.Driver != "memory" && c.DSN == "" {
		return fmt.Errorf("config: JOBS_DSN is required for driver %q", c.Driver)
	}
	return nil
}

// Load reads RuntimeConfig from the process environment, applying
// defaults for anything left unset.
func Load() (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		Driver:          "memory",
		PollingDelay:    15 * time.Second,
		ShutdownTimeout: 60 * time.Second,
		ServiceName:     "duracron",
	}
	if err := env.Load(&cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}
