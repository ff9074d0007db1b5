// ABOUTME: Configuration for the pnm-agent jump-host process
// ABOUTME: Same YAML conventions as the gateway config, plus ~ expansion for key files

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig represents the complete pnm-agent configuration
type AgentConfig struct {
	AgentID    string           `yaml:"agent_id"`
	Server     AgentServer      `yaml:"server"`
	CMTSAccess CMTSAccessConfig `yaml:"cmts_access"`
	CMProxy    SSHHostConfig    `yaml:"cm_proxy"`
	TFTPServer TFTPServerConfig `yaml:"tftp_server"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Workers bounds how many commands run concurrently
	Workers int `yaml:"workers"`
}

// AgentServer describes how the agent reaches the gateway
type AgentServer struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`

	ReconnectInterval time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`

	ReconnectIntervalRaw string `yaml:"reconnect_interval"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// CMTSAccessConfig controls how the agent talks to CMTSes
type CMTSAccessConfig struct {
	SNMPDirect bool   `yaml:"snmp_direct"`
	SSHEnabled bool   `yaml:"ssh_enabled"`
	SSHUser    string `yaml:"ssh_user"`
	SSHKeyFile string `yaml:"ssh_key_file"`
}

// SSHHostConfig identifies a host reached over SSH with key auth
type SSHHostConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a host is configured
func (h SSHHostConfig) Enabled() bool {
	return h.Host != ""
}

// Addr returns host:port
func (h SSHHostConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// TFTPServerConfig locates the host where capture files land
type TFTPServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	KeyFile  string `yaml:"key_file"`
	TFTPPath string `yaml:"tftp_path"`
}

// SSH returns the SSH coordinates of the TFTP host
func (t TFTPServerConfig) SSH() SSHHostConfig {
	return SSHHostConfig{Host: t.Host, Port: t.Port, Username: t.Username, KeyFile: t.KeyFile}
}

// LoadAgent reads an agent configuration file
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// snmp_direct defaults to true; absent keys keep this value
	cfg := AgentConfig{CMTSAccess: CMTSAccessConfig{SNMPDirect: true}}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	err = parseDurationFields([]durationField{
		{"reconnect_interval", cfg.Server.ReconnectIntervalRaw, &cfg.Server.ReconnectInterval},
		{"heartbeat_interval", cfg.Server.HeartbeatIntervalRaw, &cfg.Server.HeartbeatInterval},
	})
	if err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in unset values. Exported so flag-only setups can use it.
func (c *AgentConfig) ApplyDefaults() {
	if c.Server.ReconnectInterval == 0 {
		c.Server.ReconnectInterval = 5 * time.Second
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.CMProxy.Port == 0 {
		c.CMProxy.Port = 22
	}
	if c.TFTPServer.Port == 0 {
		c.TFTPServer.Port = 22
	}
	if c.TFTPServer.TFTPPath == "" {
		c.TFTPServer.TFTPPath = "/tftpboot"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.CMTSAccess.SSHKeyFile = expandHome(c.CMTSAccess.SSHKeyFile)
	c.CMProxy.KeyFile = expandHome(c.CMProxy.KeyFile)
	c.TFTPServer.KeyFile = expandHome(c.TFTPServer.KeyFile)
}

// Validate checks that the agent can reach and authenticate to the gateway
func (c *AgentConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("server.url %q must be a ws:// or wss:// URL", c.Server.URL)
	}
	if c.Server.AuthToken == "" {
		return fmt.Errorf("server.auth_token is required")
	}
	if c.CMTSAccess.SSHEnabled && c.CMTSAccess.SSHUser == "" {
		return fmt.Errorf("cmts_access.ssh_user is required when ssh_enabled is set")
	}
	return validateLogging(c.Logging)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
