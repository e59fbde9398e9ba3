// Package config defines the global configuration for the capacity
// controller service. Configuration is loaded once at process initialization
// and is immutable thereafter, following 12-Factor principles: values come
// from the OS environment, optionally seeded by a local .env file.
//
// Any missing required value or invalid format causes startup to fail fast.
package config

import (
	"time"

	"capacityd/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the capacity controller.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"capacityd"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server     ServerConfig
	Database   DatabaseConfig
	Provider   ProviderConfig
	Controller ControllerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ProviderConfig holds the capacity control-plane endpoint and credentials.
// The bearer token is refreshed by an external credential service; this
// process only consumes it.
type ProviderConfig struct {
	BaseURL  string        `envconfig:"PROVIDER_BASE_URL" default:"https://management.azure.com"`
	APIToken SecretString  `envconfig:"PROVIDER_API_TOKEN"`
	Timeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
}

// ControllerConfig holds the control-loop cadences and inactivity thresholds.
//
// CapacityIdleThreshold must be >= WarningThreshold: a session cannot be
// considered idle enough to pre-suspend before the user has even been
// warned. LoadConfig rejects configurations that violate this ordering.
type ControllerConfig struct {
	ActivityCheckInterval time.Duration `envconfig:"ACTIVITY_CHECK_INTERVAL" default:"5m"`
	ActivityWindow        time.Duration `envconfig:"ACTIVITY_WINDOW" default:"5m"`
	WarningThreshold      time.Duration `envconfig:"INACTIVITY_WARNING_THRESHOLD" default:"20m"`
	CapacityIdleThreshold time.Duration `envconfig:"CAPACITY_IDLE_THRESHOLD" default:"30m"`
	ResumePollAttempts    int           `envconfig:"RESUME_POLL_ATTEMPTS" default:"3"`
	ResumePollInterval    time.Duration `envconfig:"RESUME_POLL_INTERVAL" default:"10s"`
}
