// ABOUTME: Tests for the SSH client and executor against an in-process SSH server
// ABOUTME: The server answers exec requests from a handler and reports exit status

package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type execReply struct {
	stdout string
	stderr string
	status uint32
	delay  time.Duration
}

type testSSHServer struct {
	addr    string
	keyFile string

	mu       sync.Mutex
	commands []string
	conns    atomic.Int32
}

func (s *testSSHServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func startSSHServer(t *testing.T, handler func(cmd string) execReply) *testSSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authorized, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0600))

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testSSHServer{addr: ln.Addr().String(), keyFile: keyFile}

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			srv.conns.Add(1)
			go srv.serveConn(nc, cfg, handler)
		}
	}()
	return srv
}

func (s *testSSHServer) serveConn(nc net.Conn, cfg *ssh.ServerConfig, handler func(string) execReply) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					_ = req.Reply(false, nil)
					return
				}
				_ = req.Reply(true, nil)

				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()

				reply := handler(payload.Command)
				if reply.delay > 0 {
					time.Sleep(reply.delay)
				}
				_, _ = ch.Write([]byte(reply.stdout))
				_, _ = ch.Stderr().Write([]byte(reply.stderr))
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{reply.status}))
				return
			}
		}()
	}
}

func newTestClient(t *testing.T, srv *testSSHServer) *SSHClient {
	t.Helper()
	c := NewSSHClient(SSHConfig{Addr: srv.addr, User: "pnm", KeyFile: srv.keyFile}, slog.Default())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSSHClientRun(t *testing.T) {
	srv := startSSHServer(t, func(cmd string) execReply {
		switch cmd {
		case "cat '/tftpboot/utsc_1'":
			return execReply{stdout: "capture-bytes"}
		default:
			return execReply{stderr: "cat: no such file\n", status: 1}
		}
	})
	c := newTestClient(t, srv)
	ctx := context.Background()

	out, err := c.Run(ctx, "cat "+Quote("/tftpboot/utsc_1"))
	require.NoError(t, err)
	assert.Equal(t, "capture-bytes", string(out))

	_, err = c.Run(ctx, "cat '/tftpboot/missing'")
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.ExitCode)
	assert.Equal(t, "cat", ee.Command)
	assert.Contains(t, ee.Stderr, "no such file")

	assert.Equal(t, int32(1), srv.conns.Load(), "connection is reused across commands")
}

func TestSSHExecutorQuotesArguments(t *testing.T) {
	srv := startSSHServer(t, func(string) execReply {
		return execReply{stdout: "ok"}
	})
	e := NewSSH(newTestClient(t, srv), DefaultAllowList())

	res := e.Execute(context.Background(), Command{
		Name: "snmpget",
		Args: []string{"-c", "it's; reboot", "10.0.0.1", "1.3.6"},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{`'snmpget' '-c' 'it'\''s; reboot' '10.0.0.1' '1.3.6'`}, srv.seen())

	res = e.Execute(context.Background(), Command{Name: "reboot"})
	assert.False(t, res.Success)
	assert.Len(t, srv.seen(), 1, "disallowed commands never reach the host")
}

func TestSSHClientContextCancel(t *testing.T) {
	srv := startSSHServer(t, func(string) execReply {
		return execReply{stdout: "late", delay: 2 * time.Second}
	})
	c := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Run(ctx, "sleep 2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSSHClientRedialsAfterClose(t *testing.T) {
	srv := startSSHServer(t, func(string) execReply { return execReply{stdout: "ok"} })
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.Run(ctx, "true")
	require.NoError(t, err)

	// Break the cached connection underneath the client.
	c.mu.Lock()
	require.NotNil(t, c.client)
	c.client.Close()
	c.mu.Unlock()

	out, err := c.Run(ctx, "true")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
	assert.Equal(t, int32(2), srv.conns.Load())
}

func TestSSHClientBadKeyFile(t *testing.T) {
	c := NewSSHClient(SSHConfig{Addr: "127.0.0.1:1", User: "x", KeyFile: "/nonexistent/key"}, slog.Default())
	_, err := c.Run(context.Background(), "true")
	assert.ErrorContains(t, err, "reading key file")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, Quote("plain"))
	assert.Equal(t, `''`, Quote(""))
	assert.Equal(t, `'a'\''b'`, Quote("a'b"))
	assert.Equal(t, `'$(id)'`, Quote("$(id)"))
	assert.Equal(t, `'cat' '/tftpboot/x y'`, QuoteCommand("cat", "/tftpboot/x y"))
}
