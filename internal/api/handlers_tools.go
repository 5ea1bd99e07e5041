package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coachloop/coachloop/internal/store"
	"github.com/coachloop/coachloop/internal/toolrun"
)

// ExecuteRequest is the JSON body for POST /v1/tools/execute.
type ExecuteRequest struct {
	ToolID    string          `json:"tool_id"`
	SessionID *string         `json:"session_id,omitempty"`
	Input     json.RawMessage `json:"input"`
}

// ExecuteResponse is returned by the execute endpoint. The execution token is
// only present while the run is pending (client-owned tools); server-owned
// tools come back already terminal with output instead.
type ExecuteResponse struct {
	ToolRunID      string          `json:"tool_run_id"`
	Status         string          `json:"status"`
	ExecutionToken *string         `json:"execution_token,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// ResultRequest is the JSON body for POST /v1/tools/result.
type ResultRequest struct {
	ToolRunID      string          `json:"tool_run_id"`
	ExecutionToken string          `json:"execution_token"`
	Status         string          `json:"status"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// ResultResponse is returned by the result endpoint.
type ResultResponse struct {
	Status string `json:"status"`
}

// handleToolExecute handles POST /v1/tools/execute.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToolID == "" {
		s.writeError(w, http.StatusBadRequest, "tool_id is required")
		return
	}

	run, err := s.tools.Execute(r.Context(), caller, req.ToolID, req.SessionID, req.Input)
	if err != nil {
		s.writeToolError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ExecuteResponse{
		ToolRunID:      run.ID,
		Status:         string(run.Status),
		ExecutionToken: run.ExecutionToken,
		Output:         run.Output,
		Error:          run.Error,
	})
}

// handleToolResult handles POST /v1/tools/result.
func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToolRunID == "" || req.ExecutionToken == "" {
		s.writeError(w, http.StatusBadRequest, "tool_run_id and execution_token are required")
		return
	}

	run, err := s.tools.Report(r.Context(), caller, req.ToolRunID, req.ExecutionToken,
		store.RunStatus(req.Status), req.Output, req.Error)
	if err != nil {
		s.writeToolError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ResultResponse{Status: string(run.Status)})
}

// PendingRun is one staged run as returned by the pending endpoint. The
// execution token is included here deliberately: the listing is scoped to
// the authenticated owner, and resuming an interrupted handshake needs the
// original token.
type PendingRun struct {
	ToolRunID      string          `json:"tool_run_id"`
	ToolID         string          `json:"tool_id"`
	SessionID      *string         `json:"session_id,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	ExecutionToken string          `json:"execution_token"`
	CreatedAt      time.Time       `json:"created_at"`
}

// handleToolsPending handles GET /v1/tools/pending.
func (s *Server) handleToolsPending(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	runs, err := s.tools.Pending(r.Context(), caller)
	if err != nil {
		s.logger.Error("failed to list pending tool runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]PendingRun, 0, len(runs))
	for _, run := range runs {
		pr := PendingRun{
			ToolRunID: run.ID,
			ToolID:    run.ToolID,
			SessionID: run.SessionID,
			Input:     run.Input,
			CreatedAt: run.CreatedAt,
		}
		if run.ExecutionToken != nil {
			pr.ExecutionToken = *run.ExecutionToken
		}
		out = append(out, pr)
	}
	respondJSON(w, http.StatusOK, out)
}

// writeToolError maps tool service errors onto the error taxonomy:
// validation 400, authorization 403, not-found 404, terminal conflict 409,
// rate 429.
func (s *Server) writeToolError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, toolrun.ErrUnknownTool):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, toolrun.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, toolrun.ErrNotEntitled):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, toolrun.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.writeStoreError(w, err)
	}
}
