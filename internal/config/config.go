// Package config defines the engine's runtime configuration: breaker
// thresholds, trust cut points, worker pool sizing, and decision-log sink
// selection. Values load from YAML with ${VAR_NAME} environment
// interpolation and validate before use.
package config

import (
	"time"
)

// Config is the root configuration for the verdict engine.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Breaker     BreakerConfig     `mapstructure:"breaker" yaml:"breaker" validate:"required"`
	Trust       TrustConfig       `mapstructure:"trust" yaml:"trust" validate:"required"`
	Engine      EngineConfig      `mapstructure:"engine" yaml:"engine" validate:"required"`
	DecisionLog DecisionLogConfig `mapstructure:"decision_log" yaml:"decision_log" validate:"required"`
	Workflows   WorkflowsConfig   `mapstructure:"workflows" yaml:"workflows"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

// TracingConfig controls OpenTelemetry span emission.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// BreakerConfig holds the per-tool circuit breaker defaults.
type BreakerConfig struct {
	// FailureThreshold is the unbroken failure streak that opens a circuit.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"min=1,max=100"`

	// OpenTimeout is how long an open circuit rejects calls before allowing
	// a half-open probe.
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout" validate:"min=1ms"`
}

// TrustConfig holds the confidence cut points for the trust gate.
type TrustConfig struct {
	AutoExecute         float64 `mapstructure:"auto_execute" yaml:"auto_execute" validate:"gt=0,lte=1"`
	ShowWithOverride    float64 `mapstructure:"show_with_override" yaml:"show_with_override" validate:"gt=0,lte=1"`
	RequireConfirmation float64 `mapstructure:"require_confirmation" yaml:"require_confirmation" validate:"gt=0,lte=1"`
}

// EngineConfig sizes the workflow engine.
type EngineConfig struct {
	// PoolSize is the process-wide cap on concurrently executing workflow
	// steps across all in-flight workflows.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size" validate:"min=1,max=1024"`
}

// DecisionLogConfig selects and tunes the decision-log sink.
type DecisionLogConfig struct {
	// Sink selects the persistence backend.
	Sink string `mapstructure:"sink" yaml:"sink" validate:"oneof=sqlite jsonl memory"`

	// Path is the database or log file location for file-backed sinks.
	Path string `mapstructure:"path" yaml:"path"`

	// BufferSize is the async writer's queue capacity.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"min=1"`

	// MaxRetries bounds write retries before a record is dropped.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`

	// RetryBackoff is the initial backoff between write retries.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" validate:"min=1ms"`
}

// WorkflowsConfig points at the workflow definition files.
type WorkflowsConfig struct {
	// Dir is scanned for *.yaml workflow definitions at startup.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DefaultConfig returns the built-in defaults. They are valid on their own,
// so a missing config file is not an error.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Trust: TrustConfig{
			AutoExecute:         0.90,
			ShowWithOverride:    0.75,
			RequireConfirmation: 0.60,
		},
		Engine: EngineConfig{
			PoolSize: 10,
		},
		DecisionLog: DecisionLogConfig{
			Sink:         "sqlite",
			Path:         "verdict.db",
			BufferSize:   10_000,
			MaxRetries:   3,
			RetryBackoff: 50 * time.Millisecond,
		},
	}
}
