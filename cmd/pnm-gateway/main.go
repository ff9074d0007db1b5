// ABOUTME: Entry point for pnm-gateway, the PNM control-plane server
// ABOUTME: Serves agents and capture subscribers; also has health, agents, and token helpers

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
	"github.com/svdleer/PyPNMGui-sub000/internal/auth"
	"github.com/svdleer/PyPNMGui-sub000/internal/config"
	"github.com/svdleer/PyPNMGui-sub000/internal/gateway"
	"github.com/svdleer/PyPNMGui-sub000/internal/logging"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _ __  _ __  _ __ ___         __ _  __ _| |_ _____      ____ _ _   _
 | '_ \| '_ \| '_ ' _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_) | | | | | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 | .__/|_| |_|_| |_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
 |_|                          |___/                             |___/
`

func usage() {
	fmt.Println("Usage: pnm-gateway <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                     Start the gateway server")
	fmt.Println("  health                    Check gateway health")
	fmt.Println("  agents                    List connected agents")
	fmt.Println("  token --subject NAME [--scope read,tasks]  Print an API bearer token")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "agents":
		err = runAgents(ctx, args)
	case "token":
		err = runToken(args)
	case "version", "--version":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the shared --config flag plus any extra flags registered by
// the caller, then loads the gateway config.
func loadConfig(name string, args []string, extra func(*pflag.FlagSet)) (*config.Config, string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.GatewayPath(), "path to gateway config file")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, *configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, configPath, err := loadConfig("serve", args, nil)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Capture.TFTPDir != "" {
		green.Print("    ▶ ")
		fmt.Printf("TFTP dir:  %s\n", cfg.Capture.TFTPDir)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API auth disabled (no jwt_secret)")
	}
	fmt.Println()

	logger := logging.New(cfg.Logging, os.Stdout)
	logger.Info("starting pnm-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// apiClient calls the gateway HTTP API, attaching a bearer token when given.
type apiClient struct {
	base  string
	token string
}

func (c apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return http.DefaultClient.Do(req)
}

// baseURL turns a listen address into a dialable URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig("health", args, nil)
	if err != nil {
		return err
	}

	resp, err := apiClient{base: baseURL(cfg.Server.HTTPAddr)}.get(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

func runAgents(ctx context.Context, args []string) error {
	var token string
	cfg, _, err := loadConfig("agents", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&token, "token", os.Getenv("PNM_API_TOKEN"), "API bearer token (default $PNM_API_TOKEN)")
	})
	if err != nil {
		return err
	}

	resp, err := apiClient{base: baseURL(cfg.Server.HTTPAddr), token: token}.get(ctx, "/api/agents")
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing agents: status %d", resp.StatusCode)
	}

	var out gateway.ListAgentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	printAgents(out.Agents)
	return nil
}

func printAgents(agents []*agent.AgentInfo) {
	if len(agents) == 0 {
		color.New(color.FgHiBlack).Println("no agents connected")
		return
	}

	bold := color.New(color.Bold)
	bold.Printf("%-20s %-8s %-22s %-10s %s\n", "AGENT", "STATUS", "REMOTE", "CONNECTED", "CAPABILITIES")
	for _, a := range agents {
		status := color.GreenString("%-8s", "alive")
		if !a.Alive {
			status = color.YellowString("%-8s", "stale")
		}
		fmt.Printf("%-20s %s %-22s %-10s %s\n",
			a.ID,
			status,
			a.RemoteAddr,
			time.Since(a.ConnectedAt).Round(time.Second),
			strings.Join(a.Capabilities, ","),
		)
	}
}

func runToken(args []string) error {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cfg, _, err := loadConfig("token", args, func(fs *pflag.FlagSet) {
		fs.StringVarP(&subject, "subject", "s", "", "token subject (operator name)")
		fs.StringSliceVar(&scopes, "scope", []string{"read"}, "granted scopes: read, tasks")
		fs.DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	})
	if err != nil {
		return err
	}
	if subject == "" {
		return errors.New("--subject is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	granted, err := auth.ParseScopes(scopes)
	if err != nil {
		return err
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, granted, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
