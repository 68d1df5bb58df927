package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics.port: %d is already used by server.port", cfg.Metrics.Port)
	}

	if cfg.Server.OwnEventLoops && cfg.EventLoops.PinThreads {
		return fmt.Errorf("event_loops.pin_threads: has no effect with server.own_event_loops")
	}

	// A heartbeat at or beyond the idle timeout cannot keep a quiet peer
	// from timing out on our side.
	sc := cfg.Server.Session
	if sc.HeartbeatInterval > 0 && sc.IdleTimeout > 0 && sc.HeartbeatInterval >= sc.IdleTimeout {
		return fmt.Errorf("server.session: heartbeat_interval (%v) must be shorter than idle_timeout (%v)",
			sc.HeartbeatInterval, sc.IdleTimeout)
	}

	if cfg.Server.MaxConnections > 0 && cfg.Server.AcceptConcurrency > cfg.Server.MaxConnections {
		return fmt.Errorf("server.accept_concurrency (%d) exceeds server.max_connections (%d)",
			cfg.Server.AcceptConcurrency, cfg.Server.MaxConnections)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
