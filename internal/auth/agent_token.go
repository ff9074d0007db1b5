// ABOUTME: Shared-secret check for agents authenticating over the websocket
// ABOUTME: Comparison runs in constant time regardless of where the tokens differ

package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrAuthFailed is returned when an agent presents a wrong or empty token.
var ErrAuthFailed = errors.New("invalid token")

// AgentTokenChecker validates the token in an agent's auth message.
type AgentTokenChecker struct {
	token []byte
}

// NewAgentTokenChecker returns a checker for the configured shared token.
func NewAgentTokenChecker(token string) *AgentTokenChecker {
	return &AgentTokenChecker{token: []byte(token)}
}

// Check returns ErrAuthFailed unless presented equals the configured token.
// An empty configured token rejects everything.
func (c *AgentTokenChecker) Check(presented string) error {
	if len(c.token) == 0 {
		return ErrAuthFailed
	}
	if subtle.ConstantTimeCompare([]byte(presented), c.token) != 1 {
		return ErrAuthFailed
	}
	return nil
}
