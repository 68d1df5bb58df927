package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/server"
)

const (
	// DefaultPort is the TCP port the serve command listens on.
	DefaultPort = 7070

	// DefaultMetricsPort is the port of the /metrics endpoint.
	DefaultMetricsPort = 9090

	defaultBufferCapacity = 64
	defaultBufferSize     = 4096
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Component defaults (session timing, accept concurrency) come from the
//     components themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyEventLoopDefaults(&cfg.EventLoops)
	applyBuffersDefaults(&cfg.Buffers)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *server.Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	cfg.ApplyDefaults()
}

func applyEventLoopDefaults(cfg *eventloop.Config) {
	if cfg.Size < 0 {
		cfg.Size = 0
	}
}

func applyBuffersDefaults(cfg *BuffersConfig) {
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultBufferCapacity
	}
	if cfg.Size == 0 {
		cfg.Size = defaultBufferSize
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
