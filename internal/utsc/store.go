// ABOUTME: Access to the shared store where the CMTS drops capture files.
// ABOUTME: DirStore reads a locally mounted TFTP root; AgentStore goes through an agent.

package utsc

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo describes one capture file.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// FileStore lists and reads capture files.
type FileStore interface {
	List(ctx context.Context, prefix string) ([]FileInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// SortByModTime orders files oldest first, breaking ties by name.
func SortByModTime(files []FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
}

// DirStore reads capture files from a local directory.
type DirStore struct {
	Dir string
}

// List returns regular files in the directory whose names start with prefix.
func (s DirStore) List(_ context.Context, prefix string) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.Dir, err)
	}

	var out []FileInfo
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// Read returns the contents of name. Path components in name are ignored.
func (s DirStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("reading capture file: %w", err)
	}
	return data, nil
}

// AgentStore reads capture files through an agent's tftp_list and tftp_get commands.
type AgentStore struct {
	exec    Executor
	agentID string
	timeout time.Duration
}

// Agent commands used by AgentStore.
const (
	CapabilityTFTP = "tftp_get"
	CommandTFTPGet = "tftp_get"
	CommandTFTPLs  = "tftp_list"
)

// NewAgentStore returns a FileStore backed by an agent. With an empty agentID
// any agent advertising CapabilityTFTP is used.
func NewAgentStore(exec Executor, agentID string, timeout time.Duration) *AgentStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AgentStore{exec: exec, agentID: agentID, timeout: timeout}
}

func (s *AgentStore) run(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	var (
		res map[string]any
		err error
	)
	if s.agentID != "" {
		res, err = s.exec.Execute(ctx, s.agentID, command, params, s.timeout)
	} else {
		res, err = s.exec.ExecuteByCapability(ctx, CapabilityTFTP, command, params, s.timeout)
	}
	if err != nil {
		return nil, err
	}
	if ok, present := res["success"].(bool); present && !ok {
		msg, _ := res["error"].(string)
		return nil, fmt.Errorf("%s: %s", command, msg)
	}
	return res, nil
}

// List asks the agent for files matching prefix.
func (s *AgentStore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	res, err := s.run(ctx, CommandTFTPLs, map[string]any{"prefix": prefix})
	if err != nil {
		return nil, err
	}

	raw, _ := res["files"].([]any)
	out := make([]FileInfo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		size, _ := m["size"].(float64)
		mtime, _ := m["mtime"].(float64)
		if name == "" {
			continue
		}
		out = append(out, FileInfo{
			Name:    name,
			Size:    int64(size),
			ModTime: time.Unix(0, int64(mtime*float64(time.Second))),
		})
	}
	return out, nil
}

// Read fetches a file through the agent.
func (s *AgentStore) Read(ctx context.Context, name string) ([]byte, error) {
	res, err := s.run(ctx, CommandTFTPGet, map[string]any{"path": name})
	if err != nil {
		return nil, err
	}
	enc, _ := res["content_base64"].(string)
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return data, nil
}
