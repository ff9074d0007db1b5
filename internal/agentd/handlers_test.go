// ABOUTME: Tests for the built-in ping, SNMP, and CMTS CLI commands
// ABOUTME: Also checks capability derivation from agent configuration

package agentd

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svdleer/PyPNMGui-sub000/internal/config"
	"github.com/svdleer/PyPNMGui-sub000/internal/executor"
)

func TestPingHandler(t *testing.T) {
	exec := &fakeExec{respond: func(executor.Command) executor.Result {
		return executor.Result{Success: true, Output: "1 packets transmitted, 1 received"}
	}}
	tk := newTestToolkit(exec)

	res, err := tk.ping(context.Background(), Params{"target": "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, true, res["reachable"])
	assert.Equal(t, "10.0.0.1", res["target"])

	cmds := exec.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "ping", cmds[0].Name)
	assert.Equal(t, []string{"-c", "1", "-W", "2", "10.0.0.1"}, cmds[0].Args)
}

func TestPingHandlerRejectsOptionLikeTarget(t *testing.T) {
	exec := &fakeExec{}
	tk := newTestToolkit(exec)

	_, err := tk.ping(context.Background(), Params{"target": "-f"})
	assert.ErrorIs(t, err, executor.ErrOptionLike)
	assert.Empty(t, exec.commands(), "nothing is executed")
}

func TestSNMPHandlerRejectsOptionLikeOID(t *testing.T) {
	exec := &fakeExec{}
	tk := newTestToolkit(exec)

	_, err := tk.snmp("snmpget")(context.Background(), Params{"target_ip": "10.0.0.1", "oid": "-Ob"})
	assert.ErrorIs(t, err, executor.ErrOptionLike)
	assert.Empty(t, exec.commands())
}

func TestPingHandlerUnreachable(t *testing.T) {
	exec := &fakeExec{respond: func(executor.Command) executor.Result {
		return executor.Result{Success: false, Error: "exit 1", ExitCode: 1}
	}}
	tk := newTestToolkit(exec)

	res, err := tk.ping(context.Background(), Params{"target": "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, false, res["reachable"])

	_, err = tk.ping(context.Background(), Params{})
	assert.Error(t, err)
}

func TestSNMPGetHandler(t *testing.T) {
	exec := &fakeExec{respond: func(executor.Command) executor.Result {
		return executor.Result{Success: true, Output: "SNMPv2-MIB::sysDescr.0 = STRING: \"CMTS\"\n"}
	}}
	tk := newTestToolkit(exec)

	res, err := tk.snmp("snmpget")(context.Background(), Params{
		"target_ip": "10.1.1.1",
		"oid":       "1.3.6.1.2.1.1.1.0",
		"community": "lab",
	})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])
	binds, ok := res["varbinds"].([]executor.VarBind)
	require.True(t, ok)
	require.Len(t, binds, 1)
	assert.Equal(t, "CMTS", binds[0].Value)

	cmd := exec.commands()[0]
	assert.Equal(t, "snmpget", cmd.Name)
	assert.Equal(t, []string{"-v2c", "-c", "lab", "-t", "5", "-r", "1", "10.1.1.1", "1.3.6.1.2.1.1.1.0"}, cmd.Args)
}

func TestSNMPSetHandler(t *testing.T) {
	exec := &fakeExec{}
	tk := newTestToolkit(exec)

	_, err := tk.snmp("snmpset")(context.Background(), Params{
		"target_ip": "10.1.1.1",
		"oid":       "1.3.6.1.2.1.1.5.0",
		"type":      "i",
		"value":     float64(3),
	})
	require.NoError(t, err)
	cmd := exec.commands()[0]
	assert.Equal(t, "snmpset", cmd.Name)
	assert.Equal(t, []string{"1.3.6.1.2.1.1.5.0", "i", "3"}, cmd.Args[len(cmd.Args)-3:])

	_, err = tk.snmp("snmpset")(context.Background(), Params{"target_ip": "10.1.1.1", "oid": "1.3"})
	assert.Error(t, err, "value is required")
}

func TestSNMPFailureIsAResult(t *testing.T) {
	exec := &fakeExec{respond: func(executor.Command) executor.Result {
		return executor.Result{Success: false, Error: "Timeout: No Response from 10.1.1.1", ExitCode: 1}
	}}
	tk := newTestToolkit(exec)

	res, err := tk.snmp("snmpwalk")(context.Background(), Params{"target_ip": "10.1.1.1", "oid": "1.3"})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "Timeout")
}

func TestSNMPMissingTarget(t *testing.T) {
	tk := newTestToolkit(&fakeExec{})

	_, err := tk.snmp("snmpget")(context.Background(), Params{"oid": "1.3"})
	assert.Error(t, err)
}

func TestSNMPBulkGet(t *testing.T) {
	exec := &fakeExec{respond: func(c executor.Command) executor.Result {
		oid := lastArg(c)
		if oid == "1.3.bad" {
			return executor.Result{Success: false, Error: "No Such Object"}
		}
		return executor.Result{Success: true, Output: oid + " = INTEGER: 1"}
	}}
	tk := newTestToolkit(exec)

	res, err := tk.snmpBulkGet(context.Background(), Params{
		"target_ip": "10.1.1.1",
		"oids":      []any{"1.3.a", "1.3.b", "1.3.bad"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])

	results, ok := res["results"].(map[string]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, true, results["1.3.a"].(map[string]any)["success"])
	assert.Equal(t, false, results["1.3.bad"].(map[string]any)["success"])
	assert.Len(t, exec.commands(), 3)
}

func TestCMTSCommand(t *testing.T) {
	shell := &fakeShell{out: map[string][]byte{"show": []byte("cable modem summary")}}
	var hosts []string
	tk := newTestToolkit(&fakeExec{})
	tk.CMTSShell = func(host string) Shell {
		hosts = append(hosts, host)
		return shell
	}

	res, err := tk.cmtsCommand(context.Background(), Params{"cmts_host": "cmts1", "command": "show cable modem"})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "cable modem summary", res["output"])
	assert.Equal(t, []string{"cmts1"}, hosts)
	assert.Equal(t, []string{"show cable modem"}, shell.lines)
}

func TestCMTSCommandFailure(t *testing.T) {
	shell := &fakeShell{err: errors.New("permission denied")}
	tk := newTestToolkit(&fakeExec{})
	tk.CMTSShell = func(string) Shell { return shell }

	res, err := tk.cmtsCommand(context.Background(), Params{"cmts_host": "cmts1", "command": "reload"})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "permission denied", res["error"])
}

func TestCMTSCommandRequirements(t *testing.T) {
	tk := newTestToolkit(&fakeExec{})

	_, err := tk.cmtsCommand(context.Background(), Params{"cmts_host": "cmts1"})
	assert.EqualError(t, err, "cmts_host and command required")

	_, err = tk.cmtsCommand(context.Background(), Params{"cmts_host": "cmts1", "command": "show"})
	assert.EqualError(t, err, "CMTS SSH not enabled")
}

func TestCapabilitiesFromConfig(t *testing.T) {
	cfg := &config.AgentConfig{AgentID: "a1", Workers: 2}
	cfg.CMTSAccess.SNMPDirect = true

	tk, closeAll := NewToolkit(cfg, slog.Default())
	defer closeAll()
	assert.Equal(t, []string{"snmp_get", "snmp_walk", "snmp_set", "snmp_bulk_get", "ping", "cmts_snmp_direct", "pnm_utsc"}, tk.Capabilities())

	cfg.CMTSAccess.SNMPDirect = false
	cfg.CMTSAccess.SSHEnabled = true
	cfg.CMTSAccess.SSHUser = "admin"
	cfg.CMProxy = config.SSHHostConfig{Host: "proxy", Port: 22, Username: "u"}
	cfg.TFTPServer = config.TFTPServerConfig{Host: "tftp", Port: 22, Username: "u", TFTPPath: "/tftpboot"}

	tk, closeAll2 := NewToolkit(cfg, slog.Default())
	defer closeAll2()
	caps := tk.Capabilities()
	assert.Contains(t, caps, "cm_proxy")
	assert.Contains(t, caps, "tftp_get")
	assert.Contains(t, caps, "cmts_command")
	assert.NotContains(t, caps, "pnm_utsc")
	assert.IsType(t, &ShellFileStore{}, tk.Files)
	assert.IsType(t, &executor.SSH{}, tk.Modem)
}

func TestLocalTFTPDirWithoutHost(t *testing.T) {
	cfg := &config.AgentConfig{AgentID: "a1"}
	cfg.TFTPServer.TFTPPath = t.TempDir()

	tk, closeAll := NewToolkit(cfg, slog.Default())
	defer closeAll()
	assert.Contains(t, tk.Capabilities(), "tftp_get")
	assert.NotNil(t, tk.Files)
}

func TestRegisterHonoursToolkit(t *testing.T) {
	tk := newTestToolkit(&fakeExec{})
	tk.SNMPDirect = false
	r := NewRegistry()
	tk.Register(r)

	names := strings.Join(r.Names(), ",")
	assert.Contains(t, names, "snmp_get")
	assert.Contains(t, names, "cmts_command")
	assert.NotContains(t, names, "pnm_utsc_start")
	assert.NotContains(t, names, "tftp_get")
}
