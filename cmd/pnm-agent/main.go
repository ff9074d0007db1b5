// ABOUTME: Entry point for pnm-agent, the jump-host process that runs commands for the gateway
// ABOUTME: Usage: pnm-agent [--config agent.yaml] [--url ws://gw/ws/agent] [--token T] [--agent-id ID]

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/svdleer/PyPNMGui-sub000/internal/agentd"
	"github.com/svdleer/PyPNMGui-sub000/internal/config"
	"github.com/svdleer/PyPNMGui-sub000/internal/logging"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("pnm-agent", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.AgentPath(), "path to agent config file")
	url := fs.String("url", "", "gateway websocket URL (overrides server.url)")
	token := fs.String("token", "", "gateway auth token (overrides server.auth_token)")
	agentID := fs.String("agent-id", "", "agent id (overrides agent_id)")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := loadConfig(*configPath, fs.Changed("config"), *url, *token, *agentID)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	toolkit, closeToolkit := agentd.NewToolkit(cfg, logger)
	defer closeToolkit()

	registry := agentd.NewRegistry()
	toolkit.Register(registry)
	caps := toolkit.Capabilities()

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("pnm-agent %s as %s\n", version, cfg.AgentID)
	green.Print("▶ ")
	fmt.Printf("gateway:      %s\n", cfg.Server.URL)
	green.Print("▶ ")
	fmt.Printf("capabilities: %v\n\n", caps)

	rt := agentd.New(agentd.Options{
		AgentID:           cfg.AgentID,
		Token:             cfg.Server.AuthToken,
		Capabilities:      caps,
		ReconnectInterval: cfg.Server.ReconnectInterval,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		Workers:           cfg.Workers,
	}, agentd.WebSocketDialer(cfg.Server.URL), registry, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("agent starting", "commands", registry.Names())
	if err := rt.Run(ctx); err != nil {
		return err
	}
	logger.Info("agent stopped")
	return nil
}

// loadConfig reads the config file when present and applies flag overrides.
// Without a file, flags alone must name the gateway, token, and agent id.
func loadConfig(path string, explicit bool, url, token, agentID string) (*config.AgentConfig, error) {
	var cfg *config.AgentConfig
	if _, statErr := os.Stat(path); statErr == nil {
		loaded, err := config.LoadAgent(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, statErr)
	} else {
		cfg = &config.AgentConfig{CMTSAccess: config.CMTSAccessConfig{SNMPDirect: true}}
	}

	if url != "" {
		cfg.Server.URL = url
	}
	if token != "" {
		cfg.Server.AuthToken = token
	}
	if agentID != "" {
		cfg.AgentID = agentID
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
