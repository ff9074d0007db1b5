// Package protocol defines the JSON messages carried on the agent control
// channel.
//
// Every message is a flat object whose "type" field names its kind. Decode
// maps the kind to a concrete struct and fails with ErrUnknownMessageType for
// anything else, so a new message kind has to be added here before either
// side can use it.
//
// Replies are correlated by task_id. Agents that predate task_id send
// request_id instead; Response.CorrelationID and Error.CorrelationID accept
// either.
package protocol
