package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := &Config{}
		cfg.Logging.Level = level
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should validate after normalization, got: %v", level, err)
		}
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port 70000")
	}
	if !strings.Contains(err.Error(), "Port") {
		t.Errorf("Expected error to name the port field, got: %v", err)
	}
}

func TestValidate_NegativeMaxConnections(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.MaxConnections = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative max_connections")
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Session.IdleTimeout = -time.Second

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative idle_timeout")
	}
}

func TestValidate_ZeroBufferCapacity(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Buffers.Capacity = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero buffer capacity")
	}
}

func TestValidate_HeartbeatNotShorterThanIdle(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Session.HeartbeatInterval = 2 * time.Minute
	cfg.Server.Session.IdleTimeout = time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when heartbeat >= idle timeout")
	}
	if !strings.Contains(err.Error(), "heartbeat_interval") {
		t.Errorf("Expected heartbeat_interval in error, got: %v", err)
	}
}

func TestValidate_MetricsPortClash(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error when metrics and server share a port")
	}

	cfg.Metrics.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("Disabled metrics should not clash, got: %v", err)
	}
}

func TestValidate_PinThreadsWithOwnLoops(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.OwnEventLoops = true
	cfg.EventLoops.PinThreads = true

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for pin_threads with own_event_loops")
	}
}

func TestValidate_AcceptConcurrencyAboveMaxConnections(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.MaxConnections = 2
	cfg.Server.AcceptConcurrency = 4

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error when accept_concurrency exceeds max_connections")
	}
}
