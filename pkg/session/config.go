package session

import (
	"time"

	"github.com/marmos91/dittonet/pkg/frame"
)

// DefaultHeartbeatBody is the body of keepalive frames.
const DefaultHeartbeatBody = "HEARTBEAT"

// Config tunes session timing and limits.
type Config struct {
	// HeartbeatInterval is how often a keepalive frame is queued while the
	// session is established.
	// Default: 30s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"min=0" yaml:"heartbeat_interval"`

	// IdleTimeout closes the session when no frame header arrives in time.
	// Default: 120s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`

	// MaxBodyLength is the largest accepted inbound body.
	// Default: 10 MiB
	MaxBodyLength uint32 `mapstructure:"max_body_length" yaml:"max_body_length"`

	// HeartbeatBody is sent as the body of keepalive frames.
	// Default: "HEARTBEAT"
	HeartbeatBody string `mapstructure:"heartbeat_body" yaml:"heartbeat_body"`
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.MaxBodyLength == 0 {
		c.MaxBodyLength = frame.DefaultMaxBodyLength
	}
	if c.HeartbeatBody == "" {
		c.HeartbeatBody = DefaultHeartbeatBody
	}
}
