package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/resourcepool"
	"github.com/marmos91/dittonet/pkg/server"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. DITTONET_LOGGING_LEVEL.
const envPrefix = "DITTONET"

// Config represents the complete dittonet configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTONET_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Keys not modeled here remain reachable through Source, which is how
// connection handlers read their own sections.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the TCP listener and every accepted session
	Server server.Config `mapstructure:"server" yaml:"server"`

	// EventLoops sizes the shared event loop pool
	EventLoops eventloop.Config `mapstructure:"event_loops" yaml:"event_loops"`

	// Workers sizes the worker pool used for blocking message handling
	Workers WorkersConfig `mapstructure:"workers" yaml:"workers"`

	// Buffers configures the pool of reply buffers
	Buffers BuffersConfig `mapstructure:"buffers" yaml:"buffers"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	source *Source
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	// Count is the number of worker goroutines. 0 means runtime.NumCPU().
	Count int `mapstructure:"count" validate:"min=0" yaml:"count"`
}

// BuffersConfig configures the reply buffer pool.
type BuffersConfig struct {
	resourcepool.Config `mapstructure:",squash" yaml:",inline"`

	// Size is the initial capacity in bytes of each buffer
	Size int `mapstructure:"size" validate:"min=1" yaml:"size"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	// Enabled starts the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`
}

// Source returns the raw key lookup the config was loaded from. Configs not
// built by Load get an empty source that always answers with defaults.
func (c *Config) Source() *Source {
	if c.source == nil {
		return NewSource(viper.New())
	}
	return c.source
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.source = NewSource(v)
	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTONET_SERVER_SESSION_IDLE_TIMEOUT=5m
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only answers for keys viper already knows, so register
	// every modeled key to make env overrides work without a config file.
	for _, key := range configKeys() {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dittonet/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist falls back to defaults too.
		if configPath != "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittonet")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittonet")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
