// Package config defines the global configuration structure for the quantcore
// daemon. Configuration is loaded once at process initialization and is
// immutable thereafter. Values come from the OS environment, with a local
// .env file as a fallback for development.
//
// Any missing required value or invalid format terminates the process at
// startup (fail fast): schedule and threshold misconfiguration must never be
// recovered silently.
package config

import (
	"time"
)

// Config is the top-level configuration struct for the quantcore daemon.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain configurations
	Server   ServerConfig
	Schedule ScheduleConfig
	Calendar CalendarConfig
	Channel  ChannelConfig
	Watchdog WatchdogConfig
	Failover FailoverConfig
}

// ServerConfig holds the status/operator HTTP surface configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
}

// ScheduleConfig holds the time-of-day phase boundaries and scheduler tuning.
// All four boundary times are wall-clock "HH:MM" in Timezone and must be
// strictly ordered: Preparation < Active < Review < Evolution.
type ScheduleConfig struct {
	PreparationAt string `envconfig:"SCHEDULE_PREPARATION_AT" default:"08:30" validate:"required"`
	ActiveAt      string `envconfig:"SCHEDULE_ACTIVE_AT" default:"09:15" validate:"required"`
	ReviewAt      string `envconfig:"SCHEDULE_REVIEW_AT" default:"15:05" validate:"required"`
	EvolutionAt   string `envconfig:"SCHEDULE_EVOLUTION_AT" default:"20:00" validate:"required"`

	Timezone string `envconfig:"SCHEDULE_TIMEZONE" default:"UTC"`

	// TickInterval is how often the scheduler re-evaluates whether a
	// time-triggered transition is due. The check is cheap and never blocks
	// on task execution.
	TickInterval time.Duration `envconfig:"SCHEDULE_TICK_INTERVAL" default:"60s"`

	// Workers bounds the task dispatch pool so slow tasks cannot stall the
	// transition-checking loop.
	Workers int `envconfig:"SCHEDULE_WORKERS" default:"4" validate:"min=1"`
}

// CalendarConfig holds the trading-calendar source.
type CalendarConfig struct {
	// HolidayFile is an optional YAML file listing non-trading dates.
	// When empty, only weekends are non-trading days.
	HolidayFile string `envconfig:"CALENDAR_HOLIDAY_FILE"`
}

// ChannelConfig holds the shared-memory signal channel parameters.
type ChannelConfig struct {
	Name string `envconfig:"CHANNEL_NAME" default:"quantcore.signal" validate:"required"`
	// Capacity is the largest expected payload in bytes. Must be a multiple
	// of 8 so the frame trailer stays aligned.
	Capacity int `envconfig:"CHANNEL_CAPACITY" default:"65536" validate:"min=8"`
	// Dir is the directory backing named regions. /dev/shm keeps the region
	// memory-resident; tests point this at a temp dir.
	Dir string `envconfig:"CHANNEL_DIR" default:"/dev/shm"`
}

// WatchdogConfig holds local-backend health probing parameters.
type WatchdogConfig struct {
	ProbeInterval time.Duration `envconfig:"WATCHDOG_PROBE_INTERVAL" default:"30s"`
	// RecoveryBudget bounds a single recovery action. Operationally sane
	// values are 30s-90s; values outside that range are rejected at startup.
	RecoveryBudget      time.Duration `envconfig:"WATCHDOG_RECOVERY_BUDGET" default:"60s"`
	MaxRecoveryAttempts int           `envconfig:"WATCHDOG_MAX_RECOVERY_ATTEMPTS" default:"3" validate:"min=1"`
}

// FailoverConfig holds decision-routing thresholds and the remote backend
// endpoint.
type FailoverConfig struct {
	// FailureThreshold is the number of consecutive local failures that
	// triggers the switch to cloud routing. The transition fires exactly on
	// the Nth failure.
	FailureThreshold int `envconfig:"FAILOVER_FAILURE_THRESHOLD" default:"3" validate:"min=1"`
	// RecoverySamples is the number of consecutive healthy watchdog samples
	// required before reverting to local routing.
	RecoverySamples int `envconfig:"FAILOVER_RECOVERY_SAMPLES" default:"5" validate:"min=1"`
	// LocalBudget is the soft per-request budget for a local backend attempt.
	LocalBudget time.Duration `envconfig:"FAILOVER_LOCAL_BUDGET" default:"20ms"`
	// EagerRemote, when enabled, routes a request directly to the remote
	// backend if the local failure count is non-zero and the request deadline
	// leaves no room for a local attempt. Latency-vs-freshness trade-off;
	// off by default.
	EagerRemote bool `envconfig:"FAILOVER_EAGER_REMOTE" default:"false"`

	RemoteURL     string        `envconfig:"FAILOVER_REMOTE_URL" default:"http://localhost:9411" validate:"required,url"`
	RemoteTimeout time.Duration `envconfig:"FAILOVER_REMOTE_TIMEOUT" default:"150ms"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)
