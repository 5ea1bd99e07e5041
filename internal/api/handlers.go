package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachloop/coachloop/internal/store"
)

// CreateSessionRequest is the JSON body for POST /v1/sessions.
type CreateSessionRequest struct {
	CoachID *string `json:"coach_id,omitempty"`
	Title   string  `json:"title,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleCreateSession handles POST /v1/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := req.Title
	if title == "" {
		title = "New session"
	}

	sess, err := s.sessions.Create(r.Context(), caller.UserID, req.CoachID, title)
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// handleGetSession handles GET /v1/sessions/{session_id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	sess, err := s.sessions.GetOwned(r.Context(), chi.URLParam(r, "session_id"), caller.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// writeStoreError maps store sentinels onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrForbidden), errors.Is(err, store.ErrTokenMismatch):
		s.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrTerminal):
		s.writeError(w, http.StatusConflict, "tool run already terminal")
	default:
		s.logger.Error("store operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
