// Package dispatch sends commands to connected agents and waits for the
// matching response or error, correlated by task id.
package dispatch
