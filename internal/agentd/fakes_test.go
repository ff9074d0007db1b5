// ABOUTME: Scripted executor and shell fakes shared by the handler tests
// ABOUTME: Both record what they were asked to run

package agentd

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/svdleer/PyPNMGui-sub000/internal/executor"
)

type fakeExec struct {
	mu      sync.Mutex
	cmds    []executor.Command
	respond func(executor.Command) executor.Result
}

func (f *fakeExec) Execute(_ context.Context, cmd executor.Command) executor.Result {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return executor.Result{Success: true}
	}
	return respond(cmd)
}

func (f *fakeExec) commands() []executor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Command(nil), f.cmds...)
}

// lastArg returns the final argv element, which is the OID for gets and the value for sets.
func lastArg(c executor.Command) string {
	return c.Args[len(c.Args)-1]
}

type fakeShell struct {
	mu    sync.Mutex
	lines []string
	out   map[string][]byte
	err   error
}

func (f *fakeShell) Run(_ context.Context, cmdline string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, cmdline)
	if f.err != nil {
		return nil, f.err
	}
	for prefix, out := range f.out {
		if strings.HasPrefix(cmdline, prefix) {
			return out, nil
		}
	}
	return nil, nil
}

func newTestToolkit(exec *fakeExec) *Toolkit {
	return &Toolkit{
		Local:      exec,
		Modem:      exec,
		SNMPDirect: true,
		Workers:    4,
		Logger:     slog.Default(),
	}
}
