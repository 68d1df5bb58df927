package server

import (
	"fmt"
	"time"

	"github.com/marmos91/dittonet/pkg/session"
)

// Config holds the parameters of a TCP server.
//
// Default values (applied by New if zero):
//   - AcceptConcurrency: 4
//   - EventLoopThreads: runtime.NumCPU() (only with OwnEventLoops)
//   - MaxConnections: 0 (unlimited)
//   - AcceptRate: 0 (unlimited)
//   - ShutdownTimeout: 10s
//   - MetricsLogInterval: 0 (disabled)
type Config struct {
	// BindAddress is the interface to listen on. Empty means all.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// AcceptConcurrency is the number of accept operations kept pending at
	// once.
	AcceptConcurrency int `mapstructure:"accept_concurrency" validate:"min=0" yaml:"accept_concurrency"`

	// OwnEventLoops gives the server a private event loop pool of
	// EventLoopThreads loops, stopped together with the server. When false
	// the server runs on the shared pool handed to New.
	OwnEventLoops bool `mapstructure:"own_event_loops" yaml:"own_event_loops"`

	// EventLoopThreads sizes the private pool.
	EventLoopThreads int `mapstructure:"event_loop_threads" validate:"min=0" yaml:"event_loop_threads"`

	// BalanceSessions binds each new session to the next loop of the pool.
	// When false, sessions share the acceptor's loop.
	BalanceSessions bool `mapstructure:"balance_sessions" yaml:"balance_sessions"`

	// MaxConnections caps concurrent sessions. Accepts pause at the cap until
	// a session closes. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// AcceptRate limits new connections per second. 0 means unlimited.
	AcceptRate uint `mapstructure:"accept_rate" yaml:"accept_rate"`

	// AcceptBurst is the token bucket size for AcceptRate.
	AcceptBurst uint `mapstructure:"accept_burst" yaml:"accept_burst"`

	// ShutdownTimeout bounds how long Stop waits for sessions to finish
	// closing.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// MetricsLogInterval periodically logs the live session count.
	// 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`

	// Session configures every accepted session.
	Session session.Config `mapstructure:"session" yaml:"session"`
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.AcceptConcurrency <= 0 {
		c.AcceptConcurrency = 4
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.AcceptRate > 0 && c.AcceptBurst == 0 {
		c.AcceptBurst = c.AcceptRate
	}
	c.Session.ApplyDefaults()
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.EventLoopThreads < 0 {
		return fmt.Errorf("invalid EventLoopThreads %d: must be >= 0", c.EventLoopThreads)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}
