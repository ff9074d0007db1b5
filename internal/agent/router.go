// ABOUTME: Round-robin selection among agents that can serve a capability.
// ABOUTME: Spreads tasks for a shared capability across equivalent agents.

package agent

import (
	"errors"
	"sync/atomic"
)

// ErrNoAgentsAvailable indicates no agents are available to handle a request.
var ErrNoAgentsAvailable = errors.New("no agents available")

// Router selects agents using a round-robin strategy.
type Router struct {
	current atomic.Uint64
}

// NewRouter creates a new Router instance.
func NewRouter() *Router {
	return &Router{}
}

// SelectAgent picks an agent from the candidates using round-robin selection.
// Returns ErrNoAgentsAvailable if no candidates are provided.
func (r *Router) SelectAgent(agents []*Connection) (*Connection, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgentsAvailable
	}

	idx := r.current.Add(1) - 1
	return agents[idx%uint64(len(agents))], nil
}
