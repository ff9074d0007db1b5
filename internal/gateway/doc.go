// Package gateway wires the PNM control-plane server together.
//
// # Overview
//
// The Gateway owns every server-side component: the agent manager, the task
// dispatcher, the UTSC capture service, the audit store, the Prometheus
// registry, and the HTTP server that fronts them.
//
// # Agent Channel
//
// Agents connect to /ws/agent. The first message must be an auth request
// carrying agent_id, token, and capabilities. On success the gateway replies
// with auth_success and only then registers the connection, so no command can
// overtake the auth reply. A bad token is answered with auth_response
// {success:false} and close code 4001; silence past the handshake timeout is
// closed with 4002. A second connection with the same agent_id supersedes the
// first, which is closed with 4003.
//
// After authentication the read loop answers heartbeat and ping, and routes
// response and error messages to the dispatcher by task id.
//
// # Live Capture
//
// GET /ws/utsc/{mac} starts one capture session per subscriber. Capture
// parameters come from the query string; the session streams buffering,
// spectrum, heartbeat, and complete messages until its duration elapses or the
// subscriber goes away.
//
// # HTTP API
//
//   - GET /api/agents - List connected agents
//   - POST /api/tasks - Run a command on an agent and wait for its result
//   - GET /api/captures - List running capture sessions
//   - DELETE /api/captures/{id} - Stop a capture session
//   - GET /api/audit - Query the audit log
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (audit store reachable)
//
// The /api routes require a bearer JWT when auth.jwt_secret is configured.
package gateway
