// ABOUTME: Locates configuration files for the gateway and agent binaries
// ABOUTME: Checks an env override, then XDG_CONFIG_HOME, then ~/.config/pnm

package config

import (
	"os"
	"path/filepath"
)

// Environment variables naming a config file explicitly
const (
	GatewayConfigEnv = "PNM_GATEWAY_CONFIG"
	AgentConfigEnv   = "PNM_AGENT_CONFIG"
)

// GatewayPath returns the gateway config path to use when --config is not given.
func GatewayPath() string {
	return resolvePath(GatewayConfigEnv, "gateway.yaml")
}

// AgentPath returns the agent config path to use when --config is not given.
func AgentPath() string {
	return resolvePath(AgentConfigEnv, "agent.yaml")
}

// resolvePath returns the env override if set, otherwise the first existing
// candidate, otherwise the XDG location so error messages name a real path.
func resolvePath(envVar, name string) string {
	if p := os.Getenv(envVar); p != "" {
		return p
	}

	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "pnm", name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pnm", name))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return name
}
