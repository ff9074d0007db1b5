// ABOUTME: tftp_get and tftp_list commands plus a FileStore that reads over a remote shell
// ABOUTME: File contents travel base64-encoded inside the JSON result

package agentd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/executor"
	"github.com/svdleer/PyPNMGui-sub000/internal/utsc"
)

// ShellFileStore lists and reads files under dir on a remote host.
type ShellFileStore struct {
	shell Shell
	dir   string
}

// NewShellFileStore returns a utsc.FileStore backed by shell commands on a remote host.
func NewShellFileStore(shell Shell, dir string) *ShellFileStore {
	if dir == "" {
		dir = "/tftpboot"
	}
	return &ShellFileStore{shell: shell, dir: dir}
}

// List returns regular files in the directory whose names start with prefix.
func (s *ShellFileStore) List(ctx context.Context, prefix string) ([]utsc.FileInfo, error) {
	if strings.ContainsAny(prefix, "/*?[]\\") {
		return nil, fmt.Errorf("invalid file prefix %q", prefix)
	}
	cmdline := executor.QuoteCommand("find", s.dir, "-maxdepth", "1", "-type", "f",
		"-name", prefix+"*", "-printf", `%f\t%s\t%T@\n`)
	out, err := s.shell.Run(ctx, cmdline)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	return parseListing(out), nil
}

// parseListing reads "name<TAB>size<TAB>mtime" lines; malformed lines are skipped.
func parseListing(out []byte) []utsc.FileInfo {
	var files []utsc.FileInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != 3 || fields[0] == "" {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		secs, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		files = append(files, utsc.FileInfo{
			Name:    fields[0],
			Size:    size,
			ModTime: time.Unix(0, int64(secs*float64(time.Second))),
		})
	}
	return files
}

// Read returns the contents of name relative to the directory.
func (s *ShellFileStore) Read(ctx context.Context, name string) ([]byte, error) {
	rel, err := cleanRelative(name)
	if err != nil {
		return nil, err
	}
	out, err := s.shell.Run(ctx, executor.QuoteCommand("cat", path.Join(s.dir, rel)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return out, nil
}

// cleanRelative rejects paths that would escape the TFTP root.
func cleanRelative(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid file path %q", name)
	}
	return strings.TrimPrefix(clean, "/"), nil
}

func (t *Toolkit) tftpGet(ctx context.Context, p Params) (map[string]any, error) {
	if err := p.Require("path"); err != nil {
		return nil, err
	}
	name := p.String("path")
	if _, err := cleanRelative(name); err != nil {
		return nil, err
	}

	data, err := t.Files.Read(ctx, name)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{
		"success":        true,
		"filename":       path.Base(name),
		"path":           name,
		"size":           len(data),
		"content_base64": base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (t *Toolkit) tftpList(ctx context.Context, p Params) (map[string]any, error) {
	files, err := t.Files.List(ctx, p.String("prefix"))
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	utsc.SortByModTime(files)

	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]any{
			"name":  f.Name,
			"size":  f.Size,
			"mtime": float64(f.ModTime.UnixNano()) / float64(time.Second),
		})
	}
	return map[string]any{"success": true, "files": out, "count": len(out)}, nil
}
