// Package auth authenticates agents and API callers of pnm-gateway.
//
// Agents present a shared token in their first websocket message;
// AgentTokenChecker compares it in constant time.
//
// HTTP API callers present an HS256 JWT as a bearer token when
// auth.jwt_secret is configured. HTTPAuthMiddleware verifies it and stores
// the claims in the request context; RequireScope then gates each route on
// pnm:read or pnm:tasks. Tokens are minted with
// `pnm-gateway token --subject NAME --scope read,tasks`.
package auth
