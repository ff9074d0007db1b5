// ABOUTME: SSH client for reaching the CM proxy, CMTS CLI, and TFTP host
// ABOUTME: Dials lazily with key auth and redials once when a cached connection has gone stale

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig identifies a remote host.
type SSHConfig struct {
	Addr           string // host:port
	User           string
	KeyFile        string
	KnownHostsFile string // empty accepts any host key
	DialTimeout    time.Duration
}

// SSHClient runs command lines on one remote host.
type SSHClient struct {
	cfg    SSHConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHClient returns a client that connects on first use.
func NewSSHClient(cfg SSHConfig, logger *slog.Logger) *SSHClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SSHClient{cfg: cfg, logger: logger.With("component", "ssh", "host", cfg.Addr)}
}

func (c *SSHClient) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.cfg.KnownHostsFile != "" {
		hostKey, err = knownhosts.New(c.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.DialTimeout,
	}, nil
}

func (c *SSHClient) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.cfg.Addr, err)
	}
	conn, chans, reqs, err := ssh.NewClientConn(nc, c.cfg.Addr, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.cfg.Addr, err)
	}

	c.client = ssh.NewClient(conn, chans, reqs)
	c.logger.Info("ssh connected", "user", c.cfg.User)
	return c.client, nil
}

// drop forgets client if it is still the cached one.
func (c *SSHClient) drop(client *ssh.Client) {
	c.mu.Lock()
	if c.client == client {
		c.client = nil
	}
	c.mu.Unlock()
	client.Close()
}

// Run executes cmdline in a new session and returns stdout. A non-zero exit
// status is returned as *ExecError.
func (c *SSHClient) Run(ctx context.Context, cmdline string) ([]byte, error) {
	out, err := c.runOnce(ctx, cmdline)
	var stale *staleError
	if errors.As(err, &stale) && ctx.Err() == nil {
		c.logger.Debug("ssh session failed, redialing", "error", stale.err)
		out, err = c.runOnce(ctx, cmdline)
	}
	if errors.As(err, &stale) {
		return nil, stale.err
	}
	return out, err
}

// staleError marks a failure to open a session on a cached connection.
type staleError struct{ err error }

func (e *staleError) Error() string { return e.err.Error() }

func (c *SSHClient) runOnce(ctx context.Context, cmdline string) ([]byte, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		c.drop(client)
		return nil, &staleError{err: fmt.Errorf("opening ssh session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmdline) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err := <-done:
		if err == nil {
			return stdout.Bytes(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			name, _, _ := strings.Cut(cmdline, " ")
			return stdout.Bytes(), &ExecError{Command: strings.Trim(name, "'"), ExitCode: exitErr.ExitStatus(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("running ssh command: %w", err)
	}
}

// Close closes the cached connection, if any.
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// SSH executes allow-listed programs on a remote host.
type SSH struct {
	client *SSHClient
	allow  AllowList
}

// NewSSH returns an Executor that runs commands through client.
func NewSSH(client *SSHClient, allow AllowList) *SSH {
	return &SSH{client: client, allow: allow}
}

// Execute runs cmd on the remote host with every argument single-quoted.
func (s *SSH) Execute(ctx context.Context, cmd Command) Result {
	if err := s.allow.Check(cmd.Name); err != nil {
		return failure(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOf(cmd))
	defer cancel()

	out, err := s.client.Run(runCtx, QuoteCommand(cmd.Name, cmd.Args...))
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, Output: string(out)}
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteCommand builds a shell command line with every word quoted.
func QuoteCommand(name string, args ...string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, Quote(name))
	for _, a := range args {
		words = append(words, Quote(a))
	}
	return strings.Join(words, " ")
}
