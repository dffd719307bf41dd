// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load .env file via godotenv (non-fatal if absent, never overrides OS env).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct using go-playground/validator.
//  4. Apply cross-field rules that struct tags cannot express: schedule
//     boundary ordering, timezone resolution, watchdog budget range, and
//     channel capacity alignment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"quantcore/internal/types"
)

// ConfigError is a diagnostic error type returned by Load. A ConfigError is
// fatal: the caller must terminate the process rather than continue with a
// partial configuration.
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

// Load loads and validates the quantcore configuration from the environment.
func Load() (*Config, error) {
	// .env is a development convenience; it does NOT override existing
	// environment variables and its absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "processing environment", Err: err}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "validating configuration", Err: err}
	}

	if err := cfg.validateDomain(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateDomain applies cross-field rules on top of the struct tags.
func (c *Config) validateDomain() error {
	times, err := c.Schedule.Boundaries()
	if err != nil {
		return &ConfigError{Type: ErrValidation, Message: "parsing schedule boundaries", Err: err}
	}
	ordered := []types.TimeOfDay{times.Preparation, times.Active, times.Review, times.Evolution}
	names := []string{"preparation", "active", "review", "evolution"}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i-1].Before(ordered[i]) {
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("schedule boundary %s (%s) must be after %s (%s)", names[i], ordered[i], names[i-1], ordered[i-1]),
			}
		}
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "resolving schedule timezone", Err: err}
	}

	if c.Watchdog.RecoveryBudget < 30*time.Second || c.Watchdog.RecoveryBudget > 90*time.Second {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("watchdog recovery budget %s outside allowed range [30s, 90s]", c.Watchdog.RecoveryBudget),
		}
	}

	if c.Channel.Capacity%8 != 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("channel capacity %d must be a multiple of 8", c.Channel.Capacity),
		}
	}

	return nil
}

// ScheduleBoundaries is the parsed form of the four phase boundary times.
type ScheduleBoundaries struct {
	Preparation types.TimeOfDay
	Active      types.TimeOfDay
	Review      types.TimeOfDay
	Evolution   types.TimeOfDay
}

// Boundaries parses the configured "HH:MM" boundary strings.
func (s ScheduleConfig) Boundaries() (ScheduleBoundaries, error) {
	var b ScheduleBoundaries
	var err error
	if b.Preparation, err = types.ParseTimeOfDay(s.PreparationAt); err != nil {
		return b, err
	}
	if b.Active, err = types.ParseTimeOfDay(s.ActiveAt); err != nil {
		return b, err
	}
	if b.Review, err = types.ParseTimeOfDay(s.ReviewAt); err != nil {
		return b, err
	}
	if b.Evolution, err = types.ParseTimeOfDay(s.EvolutionAt); err != nil {
		return b, err
	}
	return b, nil
}

// Location resolves the configured schedule timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}
