// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in schedule arithmetic.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator plus the
//     cross-field threshold ordering rule.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrParsing indicates a failure parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads, parses, and validates the process configuration.
func LoadConfig() (*Config, error) {
	// All schedule arithmetic is defined in UTC; pin the process to it.
	time.Local = time.UTC

	// Seed environment from a local .env file when present. Missing files
	// are expected outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate applies struct tag validation and cross-field rules.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration failed validation",
			Err:     err,
		}
	}

	c := cfg.Controller
	if c.CapacityIdleThreshold < c.WarningThreshold {
		return &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf(
				"CAPACITY_IDLE_THRESHOLD (%s) must be >= INACTIVITY_WARNING_THRESHOLD (%s)",
				c.CapacityIdleThreshold, c.WarningThreshold,
			),
		}
	}
	if c.ActivityCheckInterval <= 0 || c.ActivityWindow <= 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "activity check interval and window must be positive",
		}
	}
	if c.ResumePollAttempts < 1 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "RESUME_POLL_ATTEMPTS must be at least 1",
		}
	}

	return nil
}
