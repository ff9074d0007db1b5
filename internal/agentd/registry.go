// ABOUTME: Command name to handler table used by the agent runtime
// ABOUTME: Handle turns unknown names and handler panics into ordinary errors

package agentd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCommand is returned for a command with no registered handler.
var ErrUnknownCommand = errors.New("unknown command")

// HandlerFunc runs one command. A returned error is reported to the gateway
// as an error message; a result map is sent back as the response.
type HandlerFunc func(ctx context.Context, params Params) (map[string]any, error)

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to h, replacing any previous handler.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handle runs the handler for command.
func (r *Registry) Handle(ctx context.Context, command string, params map[string]any) (result map[string]any, err error) {
	r.mu.RLock()
	h, ok := r.handlers[command]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("command %s failed: %v", command, rec)
		}
	}()

	if params == nil {
		params = map[string]any{}
	}
	result, err = h(ctx, Params(params))
	if err == nil && result == nil {
		result = map[string]any{}
	}
	return result, err
}
