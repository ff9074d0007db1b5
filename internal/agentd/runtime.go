// ABOUTME: Agent side of the control channel: connect, authenticate, serve commands
// ABOUTME: Reconnects after any failure until the context is cancelled

package agentd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/svdleer/PyPNMGui-sub000/internal/dedupe"
	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
)

// ErrAuthRejected is returned when the gateway refuses the agent's credentials.
var ErrAuthRejected = errors.New("authentication rejected")

// Dialer opens a new control-channel connection.
type Dialer func(ctx context.Context) (transport.Conn, error)

// WebSocketDialer dials the gateway's agent endpoint at url.
func WebSocketDialer(url string) Dialer {
	return func(ctx context.Context) (transport.Conn, error) {
		conn, err := transport.Dial(ctx, url, http.Header{})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Options configure a Runtime.
type Options struct {
	AgentID      string
	Token        string
	Capabilities []string

	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	AuthTimeout       time.Duration

	// Workers bounds concurrently running commands.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 30 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

// Runtime keeps an agent connected to its gateway.
type Runtime struct {
	opts     Options
	dial     Dialer
	registry *Registry
	logger   *slog.Logger

	sem  *semaphore.Weighted
	seen *dedupe.Cache
}

// New creates a Runtime. Commands are looked up in registry.
func New(opts Options, dial Dialer, registry *Registry, logger *slog.Logger) *Runtime {
	opts = opts.withDefaults()
	return &Runtime{
		opts:     opts,
		dial:     dial,
		registry: registry,
		logger:   logger.With("component", "agent", "agent_id", opts.AgentID),
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		seen:     dedupe.New(10*time.Minute, 10000),
	}
}

// Run connects and serves until ctx is cancelled, reconnecting after
// ReconnectInterval whenever a connection ends.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("connection ended", "error", err, "retry_in", r.opts.ReconnectInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.opts.ReconnectInterval):
		}
	}
}

// RunOnce handles a single connection: dial, authenticate, then serve
// commands until the connection drops or ctx is cancelled.
func (r *Runtime) RunOnce(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close(transport.CloseGoingAway, "agent shutting down")
	})
	defer stop()

	if err := r.authenticate(conn); err != nil {
		_ = conn.Close(transport.CloseNormal, "")
		return err
	}
	return r.serve(ctx, conn)
}

func (r *Runtime) authenticate(conn transport.Conn) error {
	err := conn.Send(&protocol.Auth{
		AgentID:      r.opts.AgentID,
		Token:        r.opts.Token,
		Capabilities: r.opts.Capabilities,
	})
	if err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	timer := time.AfterFunc(r.opts.AuthTimeout, func() {
		_ = conn.Close(transport.CloseHandshakeTimeout, "no auth reply")
	})
	defer timer.Stop()

	for {
		msg, err := conn.Recv()
		if err != nil {
			if transport.IsDecodeError(err) {
				r.logger.Warn("ignoring malformed message during auth", "error", err)
				continue
			}
			if transport.CloseCode(err) == transport.CloseAuthFailed {
				return fmt.Errorf("%w: %v", ErrAuthRejected, err)
			}
			return fmt.Errorf("waiting for auth reply: %w", err)
		}

		switch m := msg.(type) {
		case *protocol.AuthSuccess:
			r.logger.Info("authenticated", "message", m.Message, "capabilities", r.opts.Capabilities)
			return nil
		case *protocol.AuthResponse:
			if m.Success {
				r.logger.Info("authenticated", "capabilities", r.opts.Capabilities)
				return nil
			}
			return fmt.Errorf("%w: %s", ErrAuthRejected, m.Error)
		case *protocol.Error:
			return fmt.Errorf("%w: %s", ErrAuthRejected, m.Error)
		default:
			r.logger.Debug("ignoring message before auth reply", "type", msg.Kind())
		}
	}
}

func (r *Runtime) serve(ctx context.Context, conn transport.Conn) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.heartbeat(sessCtx, conn)
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			if transport.IsDecodeError(err) {
				r.logger.Warn("ignoring malformed message", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}

		switch m := msg.(type) {
		case *protocol.Command:
			r.startCommand(sessCtx, conn, m, &wg)
		case *protocol.Ping:
			if err := conn.Send(&protocol.Pong{Timestamp: protocol.Timestamp(time.Now())}); err != nil {
				r.logger.Warn("failed to send pong", "error", err)
			}
		case *protocol.HeartbeatAck:
		default:
			r.logger.Debug("ignoring message", "type", msg.Kind())
		}
	}
}

func (r *Runtime) heartbeat(ctx context.Context, conn transport.Conn) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := conn.Send(&protocol.Heartbeat{Timestamp: protocol.Timestamp(t)}); err != nil {
				r.logger.Debug("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

// startCommand runs cmd in its own goroutine so the read loop keeps
// answering pings while slow commands wait for a worker slot.
func (r *Runtime) startCommand(ctx context.Context, conn transport.Conn, cmd *protocol.Command, wg *sync.WaitGroup) {
	if cmd.TaskID != "" && r.seen.CheckAndMark(cmd.TaskID) {
		r.logger.Debug("dropping duplicate command", "task_id", cmd.TaskID)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)

		start := time.Now()
		result, err := r.registry.Handle(ctx, cmd.Command, cmd.Params)

		var reply protocol.Message
		if err != nil {
			r.logger.Warn("command failed", "task_id", cmd.TaskID, "command", cmd.Command, "error", err)
			reply = &protocol.Error{TaskID: cmd.TaskID, Error: err.Error()}
		} else {
			r.logger.Debug("command completed", "task_id", cmd.TaskID, "command", cmd.Command, "duration", time.Since(start))
			reply = &protocol.Response{TaskID: cmd.TaskID, Result: result}
		}
		if err := conn.Send(reply); err != nil {
			r.logger.Warn("failed to send reply", "task_id", cmd.TaskID, "error", err)
		}
	}()
}
