// ABOUTME: HTTP JSON API for listing agents, dispatching tasks, and inspecting captures
// ABOUTME: Task results use a discriminated {success, result|error} envelope

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
	"github.com/svdleer/PyPNMGui-sub000/internal/dispatch"
	"github.com/svdleer/PyPNMGui-sub000/internal/store"
	"github.com/svdleer/PyPNMGui-sub000/internal/utsc"
)

// maxTaskBody bounds POST /api/tasks bodies.
const maxTaskBody = 1 << 20

// ListAgentsResponse is the JSON response for GET /api/agents.
type ListAgentsResponse struct {
	Agents []*agent.AgentInfo `json:"agents"`
	Count  int                `json:"count"`
}

// TaskRequest is the JSON body for POST /api/tasks. Exactly one of AgentID
// or Capability selects the target agent.
type TaskRequest struct {
	AgentID    string         `json:"agent_id,omitempty"`
	Capability string         `json:"capability,omitempty"`
	Command    string         `json:"command"`
	Params     map[string]any `json:"params,omitempty"`
	TimeoutS   float64        `json:"timeout_s,omitempty"`
}

// TaskResponse is the JSON response for POST /api/tasks.
type TaskResponse struct {
	Success bool           `json:"success"`
	TaskID  string         `json:"task_id,omitempty"`
	AgentID string         `json:"agent_id,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ListCapturesResponse is the JSON response for GET /api/captures.
type ListCapturesResponse struct {
	Sessions []utsc.SessionInfo `json:"sessions"`
}

// ListAuditResponse is the JSON response for GET /api/audit.
type ListAuditResponse struct {
	Entries []store.AuditEntry `json:"entries"`
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := g.agentManager.ListAgents()
	g.sendJSON(w, http.StatusOK, ListAgentsResponse{Agents: agents, Count: len(agents)})
}

// handleSubmitTask handles POST /api/tasks. It submits the command, waits for
// the agent's reply, and maps dispatch failures onto HTTP status codes.
func (g *Gateway) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	req, err := parseTaskRequest(http.MaxBytesReader(w, r.Body, maxTaskBody))
	if err != nil {
		g.sendJSON(w, http.StatusBadRequest, TaskResponse{Error: err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutS * float64(time.Second))
	ctx := r.Context()

	var taskID string
	if req.AgentID != "" {
		taskID, err = g.dispatcher.Submit(ctx, req.AgentID, req.Command, req.Params, timeout)
	} else {
		taskID, err = g.dispatcher.SubmitByCapability(ctx, req.Capability, req.Command, req.Params, timeout)
	}
	if err != nil {
		g.sendJSON(w, taskErrorStatus(err), TaskResponse{AgentID: req.AgentID, Error: err.Error()})
		return
	}

	result, err := g.dispatcher.Await(ctx, taskID, timeout)
	if err != nil {
		g.sendJSON(w, taskErrorStatus(err), TaskResponse{TaskID: taskID, AgentID: req.AgentID, Error: err.Error()})
		return
	}

	g.sendJSON(w, http.StatusOK, TaskResponse{Success: true, TaskID: taskID, AgentID: req.AgentID, Result: result})
}

// parseTaskRequest decodes and validates a TaskRequest.
func parseTaskRequest(body io.Reader) (*TaskRequest, error) {
	var req TaskRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Command == "" {
		return nil, errors.New("command is required")
	}
	if req.AgentID == "" && req.Capability == "" {
		return nil, errors.New("agent_id or capability is required")
	}
	if req.TimeoutS < 0 {
		return nil, errors.New("timeout_s must not be negative")
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	return &req, nil
}

// taskErrorStatus maps dispatch errors to HTTP status codes.
func taskErrorStatus(err error) int {
	var agentErr *dispatch.AgentError
	switch {
	case errors.Is(err, dispatch.ErrAgentNotConnected), errors.Is(err, dispatch.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrAgentNotAuthenticated):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNoAgentAvailable):
		return http.StatusServiceUnavailable
	case dispatch.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &agentErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleListCaptures handles GET /api/captures.
func (g *Gateway) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, ListCapturesResponse{Sessions: g.captures.Active()})
}

// handleStopCapture handles DELETE /api/captures/{id}.
func (g *Gateway) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.captures.Stop(id) {
		g.sendJSONError(w, http.StatusNotFound, "capture session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAudit handles GET /api/audit with optional action, agent_id,
// since (RFC3339), and limit filters.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.AuditFilter

	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		filter.Action = &action
	}
	if v := q.Get("agent_id"); v != "" {
		filter.AgentID = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid since: expected RFC3339")
			return
		}
		filter.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	entries, err := g.store.ListAudit(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list audit log", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	g.sendJSON(w, http.StatusOK, ListAuditResponse{Entries: entries})
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
