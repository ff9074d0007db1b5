// ABOUTME: Configuration loading and parsing for pnm-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pnm-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Agents   AgentsConfig   `yaml:"agents"`
	Capture  CaptureConfig  `yaml:"capture"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds authentication configuration.
// AgentToken is the shared secret agents present in their auth message.
// JWTSecret, when set, protects the /api endpoints with bearer tokens.
type AuthConfig struct {
	AgentToken string `yaml:"agent_token"`
	JWTSecret  string `yaml:"jwt_secret"`
}

// AgentsConfig holds agent-related timing configuration
type AgentsConfig struct {
	HandshakeTimeout   time.Duration `yaml:"-"`
	HeartbeatInterval  time.Duration `yaml:"-"`
	LivenessWindow     time.Duration `yaml:"-"`
	DefaultTaskTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HandshakeTimeoutRaw   string `yaml:"handshake_timeout"`
	HeartbeatIntervalRaw  string `yaml:"heartbeat_interval"`
	LivenessWindowRaw     string `yaml:"liveness_window"`
	DefaultTaskTimeoutRaw string `yaml:"default_task_timeout"`
}

// CaptureConfig holds live UTSC capture settings
type CaptureConfig struct {
	// TFTPDir is a local mount of the TFTP root. When empty, capture files
	// are fetched through an agent.
	TFTPDir        string `yaml:"tftp_dir"`
	TFTPIPv4       string `yaml:"tftp_ipv4"`
	Community      string `yaml:"community"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	InitialFill    int    `yaml:"initial_fill"`
	LowWatermark   int    `yaml:"low_watermark"`

	PollInterval         time.Duration `yaml:"-"`
	StatusPollInterval   time.Duration `yaml:"-"`
	RefreshInterval      time.Duration `yaml:"-"`
	HeartbeatInterval    time.Duration `yaml:"-"`
	MinRetriggerInterval time.Duration `yaml:"-"`
	MaxDuration          time.Duration `yaml:"-"`
	FileSettleTime       time.Duration `yaml:"-"`

	PollIntervalRaw         string `yaml:"poll_interval"`
	StatusPollIntervalRaw   string `yaml:"status_poll_interval"`
	RefreshIntervalRaw      string `yaml:"refresh_interval"`
	HeartbeatIntervalRaw    string `yaml:"heartbeat_interval"`
	MinRetriggerIntervalRaw string `yaml:"min_retrigger_interval"`
	MaxDurationRaw          string `yaml:"max_duration"`
	FileSettleTimeRaw       string `yaml:"file_settle_time"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset values
func (c *Config) applyDefaults() {
	if c.Agents.HandshakeTimeout == 0 {
		c.Agents.HandshakeTimeout = 30 * time.Second
	}
	if c.Agents.HeartbeatInterval == 0 {
		c.Agents.HeartbeatInterval = 30 * time.Second
	}
	if c.Agents.LivenessWindow == 0 {
		c.Agents.LivenessWindow = 3 * c.Agents.HeartbeatInterval
	}
	if c.Agents.DefaultTaskTimeout == 0 {
		c.Agents.DefaultTaskTimeout = 30 * time.Second
	}

	if c.Capture.Community == "" {
		c.Capture.Community = "private"
	}
	if c.Capture.BufferCapacity == 0 {
		c.Capture.BufferCapacity = 500
	}
	if c.Capture.InitialFill == 0 {
		c.Capture.InitialFill = 20
	}
	if c.Capture.LowWatermark == 0 {
		c.Capture.LowWatermark = 5
	}
	if c.Capture.PollInterval == 0 {
		c.Capture.PollInterval = 50 * time.Millisecond
	}
	if c.Capture.StatusPollInterval == 0 {
		c.Capture.StatusPollInterval = time.Second
	}
	if c.Capture.RefreshInterval == 0 {
		c.Capture.RefreshInterval = 500 * time.Millisecond
	}
	if c.Capture.HeartbeatInterval == 0 {
		c.Capture.HeartbeatInterval = 10 * time.Second
	}
	if c.Capture.MinRetriggerInterval == 0 {
		c.Capture.MinRetriggerInterval = 2 * time.Second
	}
	if c.Capture.MaxDuration == 0 {
		c.Capture.MaxDuration = 10 * time.Minute
	}
	if c.Capture.FileSettleTime == 0 {
		c.Capture.FileSettleTime = 2 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Auth.AgentToken == "" {
		return fmt.Errorf("auth.agent_token is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Capture.InitialFill > c.Capture.BufferCapacity {
		return fmt.Errorf("capture.initial_fill (%d) exceeds capture.buffer_capacity (%d)",
			c.Capture.InitialFill, c.Capture.BufferCapacity)
	}

	if c.Capture.LowWatermark >= c.Capture.BufferCapacity {
		return fmt.Errorf("capture.low_watermark must be below capture.buffer_capacity")
	}

	if err := validateLogging(c.Logging); err != nil {
		return err
	}

	return nil
}

func validateLogging(l LoggingConfig) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", l.Format)
	}
	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurationFields converts each raw duration string into its destination
func parseDurationFields(fields []durationField) error {
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	a, c := &cfg.Agents, &cfg.Capture
	return parseDurationFields([]durationField{
		{"handshake_timeout", a.HandshakeTimeoutRaw, &a.HandshakeTimeout},
		{"heartbeat_interval", a.HeartbeatIntervalRaw, &a.HeartbeatInterval},
		{"liveness_window", a.LivenessWindowRaw, &a.LivenessWindow},
		{"default_task_timeout", a.DefaultTaskTimeoutRaw, &a.DefaultTaskTimeout},
		{"poll_interval", c.PollIntervalRaw, &c.PollInterval},
		{"status_poll_interval", c.StatusPollIntervalRaw, &c.StatusPollInterval},
		{"refresh_interval", c.RefreshIntervalRaw, &c.RefreshInterval},
		{"capture heartbeat_interval", c.HeartbeatIntervalRaw, &c.HeartbeatInterval},
		{"min_retrigger_interval", c.MinRetriggerIntervalRaw, &c.MinRetriggerInterval},
		{"max_duration", c.MaxDurationRaw, &c.MaxDuration},
		{"file_settle_time", c.FileSettleTimeRaw, &c.FileSettleTime},
	})
}
