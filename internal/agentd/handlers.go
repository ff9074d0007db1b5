// ABOUTME: Built-in agent commands: reachability, SNMP, CMTS CLI, and file access
// ABOUTME: Toolkit holds the executors each command needs and derives the capability list

package agentd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/svdleer/PyPNMGui-sub000/internal/config"
	"github.com/svdleer/PyPNMGui-sub000/internal/executor"
	"github.com/svdleer/PyPNMGui-sub000/internal/utsc"
)

// Shell runs a raw command line on a remote host. *executor.SSHClient implements it.
type Shell interface {
	Run(ctx context.Context, cmdline string) ([]byte, error)
}

// Toolkit is the set of executors the built-in commands run on. Nil fields
// disable the commands that depend on them.
type Toolkit struct {
	// Local runs ping and direct CMTS SNMP on the agent host.
	Local executor.Executor
	// Modem runs SNMP against cable modems, through the CM proxy when one is configured.
	Modem executor.Executor
	// Files reads capture files from the TFTP root.
	Files utsc.FileStore
	// CMTSShell opens a CLI session to a CMTS.
	CMTSShell func(host string) Shell

	SNMPDirect bool
	CMProxy    bool
	Workers    int

	Logger *slog.Logger
}

// NewToolkit builds executors from cfg. The returned func closes any SSH
// connections the toolkit opened.
func NewToolkit(cfg *config.AgentConfig, logger *slog.Logger) (*Toolkit, func()) {
	local := executor.NewLocal(executor.DefaultAllowList())
	t := &Toolkit{
		Local:      local,
		Modem:      local,
		SNMPDirect: cfg.CMTSAccess.SNMPDirect,
		Workers:    cfg.Workers,
		Logger:     logger,
	}

	var clients []*executor.SSHClient
	sshClient := func(h config.SSHHostConfig) *executor.SSHClient {
		c := executor.NewSSHClient(executor.SSHConfig{
			Addr:    h.Addr(),
			User:    h.Username,
			KeyFile: h.KeyFile,
		}, logger)
		clients = append(clients, c)
		return c
	}

	if cfg.CMProxy.Enabled() {
		t.Modem = executor.NewSSH(sshClient(cfg.CMProxy), executor.DefaultAllowList())
		t.CMProxy = true
	}

	if cfg.TFTPServer.Host != "" {
		t.Files = NewShellFileStore(sshClient(cfg.TFTPServer.SSH()), cfg.TFTPServer.TFTPPath)
	} else if cfg.TFTPServer.TFTPPath != "" {
		t.Files = utsc.DirStore{Dir: cfg.TFTPServer.TFTPPath}
	}

	if cfg.CMTSAccess.SSHEnabled {
		var mu sync.Mutex
		cmts := make(map[string]*executor.SSHClient)
		t.CMTSShell = func(host string) Shell {
			mu.Lock()
			defer mu.Unlock()
			if c, ok := cmts[host]; ok {
				return c
			}
			c := sshClient(config.SSHHostConfig{
				Host:     host,
				Port:     22,
				Username: cfg.CMTSAccess.SSHUser,
				KeyFile:  cfg.CMTSAccess.SSHKeyFile,
			})
			cmts[host] = c
			return c
		}
	}

	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
	return t, closeAll
}

// Capabilities lists what this agent can do, in the order agents have
// always advertised them.
func (t *Toolkit) Capabilities() []string {
	caps := []string{"snmp_get", "snmp_walk", "snmp_set", "snmp_bulk_get", "ping"}
	if t.SNMPDirect {
		caps = append(caps, "cmts_snmp_direct", utsc.CapabilityUTSC)
	}
	if t.CMProxy {
		caps = append(caps, "cm_proxy")
	}
	if t.Files != nil {
		caps = append(caps, utsc.CapabilityTFTP)
	}
	if t.CMTSShell != nil {
		caps = append(caps, "cmts_command")
	}
	return caps
}

// Register adds every command the toolkit supports to r.
func (t *Toolkit) Register(r *Registry) {
	r.Register("ping", t.ping)
	r.Register("snmp_get", t.snmp("snmpget"))
	r.Register("snmp_walk", t.snmp("snmpwalk"))
	r.Register("snmp_set", t.snmp("snmpset"))
	r.Register("snmp_bulk_get", t.snmpBulkGet)
	if t.Files != nil {
		r.Register(utsc.CommandTFTPGet, t.tftpGet)
		r.Register(utsc.CommandTFTPLs, t.tftpList)
	}
	r.Register("cmts_command", t.cmtsCommand)
	if t.SNMPDirect {
		r.Register(utsc.CommandConfigure, t.utscConfigure)
		r.Register(utsc.CommandStart, t.utscStart)
		r.Register(utsc.CommandStop, t.utscStop)
		r.Register(utsc.CommandStatus, t.utscStatus)
	}
}

func (t *Toolkit) ping(ctx context.Context, p Params) (map[string]any, error) {
	if err := p.Require("target"); err != nil {
		return nil, err
	}
	target := p.String("target")
	if err := executor.CheckOperand("target", target); err != nil {
		return nil, err
	}
	res := t.Local.Execute(ctx, executor.Command{
		Name:    "ping",
		Args:    []string{"-c", "1", "-W", "2", target},
		Timeout: 10 * time.Second,
	})
	return map[string]any{
		"success":   res.Success,
		"reachable": res.Success,
		"target":    target,
		"output":    res.Output,
	}, nil
}

func snmpRequest(p Params) (executor.SNMPRequest, error) {
	req := executor.SNMPRequest{
		Target:    p.String("target_ip"),
		OID:       p.String("oid"),
		Community: p.String("community"),
		Version:   p.String("version"),
		Type:      p.String("type"),
		Value:     p.String("value"),
	}
	var err error
	if req.Timeout, err = p.Int("timeout", 5); err != nil {
		return req, err
	}
	if req.Retries, err = p.Int("retries", 1); err != nil {
		return req, err
	}
	return req, nil
}

// snmpResult renders an SNMP execution. A command that ran and failed is a
// result with success false rather than a handler error.
func snmpResult(cmd executor.Command, res executor.Result) map[string]any {
	out := map[string]any{
		"success": res.Success,
		"output":  res.Output,
		"command": cmd.Name,
	}
	if res.Success {
		out["varbinds"] = executor.ParseVarBinds(res.Output)
	} else {
		out["error"] = res.Error
		out["exit_code"] = res.ExitCode
	}
	return out
}

func (t *Toolkit) snmp(program string) HandlerFunc {
	return func(ctx context.Context, p Params) (map[string]any, error) {
		req, err := snmpRequest(p)
		if err != nil {
			return nil, err
		}
		cmd, err := req.Command(program)
		if err != nil {
			return nil, err
		}
		return snmpResult(cmd, t.Modem.Execute(ctx, cmd)), nil
	}
}

func (t *Toolkit) snmpBulkGet(ctx context.Context, p Params) (map[string]any, error) {
	if err := p.Require("target_ip"); err != nil {
		return nil, err
	}
	oids, err := p.Strings("oids")
	if err != nil {
		return nil, err
	}
	base, err := snmpRequest(p)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]any, len(oids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(t.Workers, 1))
	for _, oid := range oids {
		g.Go(func() error {
			req := base
			req.OID = oid
			cmd, err := req.Command("snmpget")
			var r map[string]any
			if err != nil {
				r = map[string]any{"success": false, "error": err.Error()}
			} else {
				r = snmpResult(cmd, t.Modem.Execute(gctx, cmd))
			}
			mu.Lock()
			results[oid] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return map[string]any{"success": true, "results": results}, nil
}

func (t *Toolkit) cmtsCommand(ctx context.Context, p Params) (map[string]any, error) {
	host, command := p.String("cmts_host"), p.String("command")
	if host == "" || command == "" {
		return nil, fmt.Errorf("cmts_host and command required")
	}
	if t.CMTSShell == nil {
		return nil, fmt.Errorf("CMTS SSH not enabled")
	}

	timeout, err := p.Int("timeout", 30)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	out, err := t.CMTSShell(host).Run(runCtx, command)
	result := map[string]any{
		"success":   err == nil,
		"cmts_host": host,
		"command":   command,
		"output":    string(out),
	}
	if err != nil {
		result["error"] = strings.TrimSpace(err.Error())
	}
	return result, nil
}
