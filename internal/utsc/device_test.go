// ABOUTME: Tests for the agent-backed device and file store.
// ABOUTME: A scripted executor stands in for the dispatcher.

package utsc

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	agentID    string
	capability string
	command    string
	params     map[string]any
}

type scriptedExec struct {
	calls  []execCall
	result map[string]map[string]any
	err    error
}

func (e *scriptedExec) Execute(_ context.Context, agentID, command string, params map[string]any, _ time.Duration) (map[string]any, error) {
	e.calls = append(e.calls, execCall{agentID: agentID, command: command, params: params})
	return e.result[command], e.err
}

func (e *scriptedExec) ExecuteByCapability(_ context.Context, capability, command string, params map[string]any, _ time.Duration) (map[string]any, error) {
	e.calls = append(e.calls, execCall{capability: capability, command: command, params: params})
	return e.result[command], e.err
}

func TestAgentDeviceCommands(t *testing.T) {
	exec := &scriptedExec{result: map[string]map[string]any{
		CommandConfigure: {"success": true},
		CommandStart:     {"success": true},
		CommandStop:      {"success": true},
		CommandStatus:    {"success": true, "meas_status": float64(4)},
	}}
	dev := NewAgentDevice(exec, "agent-1", time.Second)
	ctx := context.Background()

	p := validParams()
	require.NoError(t, dev.Configure(ctx, p))
	require.NoError(t, dev.Trigger(ctx))
	status, err := dev.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSampleReady, status)
	require.NoError(t, dev.Stop(ctx))

	require.Len(t, exec.calls, 4)
	assert.Equal(t, CommandConfigure, exec.calls[0].command)
	assert.Equal(t, "agent-1", exec.calls[0].agentID)
	assert.Equal(t, p.CenterFreqHz, exec.calls[0].params["center_freq_hz"])
	assert.Equal(t, p.CMTSIP, exec.calls[1].params["cmts_ip"])
	assert.Equal(t, p.RFPortIfIndex, exec.calls[1].params["rf_port_ifindex"])
}

func TestAgentDeviceByCapability(t *testing.T) {
	exec := &scriptedExec{result: map[string]map[string]any{CommandStart: {"success": true}}}
	dev := NewAgentDevice(exec, "", 0)

	require.NoError(t, dev.Trigger(context.Background()))
	assert.Equal(t, CapabilityUTSC, exec.calls[0].capability)
}

func TestAgentDeviceReportsFailure(t *testing.T) {
	exec := &scriptedExec{result: map[string]map[string]any{
		CommandStart:  {"success": false, "error": "noSuchName"},
		CommandStatus: {"success": true},
	}}
	dev := NewAgentDevice(exec, "a", 0)

	err := dev.Trigger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "noSuchName")

	_, err = dev.Status(context.Background())
	assert.ErrorContains(t, err, "missing meas_status")

	boom := errors.New("agent offline")
	exec.err = boom
	assert.ErrorIs(t, dev.Stop(context.Background()), boom)
}

func TestAgentStore(t *testing.T) {
	payload := Encode([]float64{1, 2})
	exec := &scriptedExec{result: map[string]map[string]any{
		CommandTFTPLs: {"success": true, "files": []any{
			map[string]any{"name": "utsc_b", "size": float64(10), "mtime": float64(1_700_000_001.5)},
			map[string]any{"name": "utsc_a", "size": float64(10), "mtime": float64(1_700_000_000)},
			map[string]any{"size": float64(1)},
		}},
		CommandTFTPGet: {"success": true, "content_base64": base64.StdEncoding.EncodeToString(payload)},
	}}
	store := NewAgentStore(exec, "", time.Second)

	files, err := store.List(context.Background(), "utsc_")
	require.NoError(t, err)
	require.Len(t, files, 2)
	SortByModTime(files)
	assert.Equal(t, "utsc_a", files[0].Name)
	assert.Equal(t, int64(1_700_000_001_500_000_000), files[1].ModTime.UnixNano())

	data, err := store.Read(context.Background(), "utsc_a")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	assert.Equal(t, CapabilityTFTP, exec.calls[0].capability)
	assert.Equal(t, "utsc_", exec.calls[0].params["prefix"])
	assert.Equal(t, "utsc_a", exec.calls[1].params["path"])
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "utsc_1"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "utsc_2"), []byte("two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "utsc_dir"), 0o755))

	older := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "utsc_2"), older, older))

	store := DirStore{Dir: dir}
	files, err := store.List(context.Background(), "utsc_")
	require.NoError(t, err)
	SortByModTime(files)
	require.Len(t, files, 2)
	assert.Equal(t, "utsc_2", files[0].Name)

	data, err := store.Read(context.Background(), "../../utsc_1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}
