package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittonet configuration file
#
# Every key can be overridden with an environment variable: uppercase the
# dotted path, replace dots with underscores and prefix DITTONET_, e.g.
#   DITTONET_SERVER_PORT=7171
#   DITTONET_SERVER_SESSION_IDLE_TIMEOUT=5m
`

// InitConfig writes a default configuration file to the default location and
// returns its path. An existing file is only replaced with force.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as a YAML document with each section
// and key annotated.
func generateYAMLWithComments(cfg *Config) (string, error) {
	s := cfg.Server
	sc := s.Session

	doc := mapping(
		section("logging", "Log output",
			field("level", cfg.Logging.Level, "DEBUG, INFO, WARN or ERROR"),
			field("format", cfg.Logging.Format, "text or json"),
			field("output", cfg.Logging.Output, "stdout, stderr or a file path"),
		),
		section("server", "TCP listener",
			field("bind_address", s.BindAddress, "interface to listen on, empty for all"),
			field("port", s.Port, ""),
			field("accept_concurrency", s.AcceptConcurrency, "accepts kept pending at once"),
			field("own_event_loops", s.OwnEventLoops, "run on a private loop pool instead of event_loops"),
			field("event_loop_threads", s.EventLoopThreads, "private pool size, 0 for one per CPU"),
			field("balance_sessions", s.BalanceSessions, "spread sessions across loops instead of the acceptor's"),
			field("max_connections", s.MaxConnections, "0 for unlimited"),
			field("accept_rate", s.AcceptRate, "new connections per second, 0 for unlimited"),
			field("accept_burst", s.AcceptBurst, ""),
			field("shutdown_timeout", s.ShutdownTimeout, "how long stop waits for sessions to close"),
			field("metrics_log_interval", s.MetricsLogInterval, "0 disables periodic session count logs"),
			section("session", "Per-connection timing and limits",
				field("heartbeat_interval", sc.HeartbeatInterval, ""),
				field("idle_timeout", sc.IdleTimeout, "close when no frame header arrives in time"),
				field("max_body_length", sc.MaxBodyLength, "largest accepted inbound frame body in bytes"),
				field("heartbeat_body", sc.HeartbeatBody, ""),
			),
		),
		section("event_loops", "Shared event loop pool",
			field("size", cfg.EventLoops.Size, "0 for one loop per CPU"),
			field("pin_threads", cfg.EventLoops.PinThreads, "pin loop threads to CPUs (Linux)"),
		),
		section("workers", "Worker pool for blocking message handling",
			field("count", cfg.Workers.Count, "0 for one worker per CPU"),
		),
		section("buffers", "Reply buffer pool",
			field("capacity", cfg.Buffers.Capacity, "buffers kept for reuse"),
			field("strict", cfg.Buffers.Strict, "wait for a free buffer instead of allocating past capacity"),
			field("size", cfg.Buffers.Size, "initial size of each buffer in bytes"),
		),
		section("metrics", "Prometheus endpoint",
			field("enabled", cfg.Metrics.Enabled, ""),
			field("port", cfg.Metrics.Port, ""),
		),
	)

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{doc}}); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// keyValue is one entry of a YAML mapping.
type keyValue struct {
	key   *yaml.Node
	value *yaml.Node
}

func mapping(entries ...keyValue) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		n.Content = append(n.Content, e.key, e.value)
	}
	return n
}

func section(name, comment string, entries ...keyValue) keyValue {
	return keyValue{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: comment},
		value: mapping(entries...),
	}
}

func field(name string, value any, comment string) keyValue {
	return keyValue{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: name},
		value: scalar(value, comment),
	}
}

func scalar(value any, comment string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, LineComment: comment}
	switch v := value.(type) {
	case time.Duration:
		n.Value = v.String()
	case string:
		n.Value = v
		n.Style = yaml.DoubleQuotedStyle
	case bool:
		n.Value = strconv.FormatBool(v)
		n.Tag = "!!bool"
	default:
		n.Value = fmt.Sprint(v)
		n.Tag = "!!int"
	}
	return n
}

// configKeys returns the dotted path of every key in the default document.
func configKeys() []string {
	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return nil
	}

	var root map[string]any
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil
	}

	var keys []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if child, ok := v.(map[string]any); ok {
				walk(prefix+k+".", child)
				continue
			}
			keys = append(keys, prefix+k)
		}
	}
	walk("", root)
	return keys
}
