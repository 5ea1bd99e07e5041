package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/coachloop/coachloop/internal/event"
	"github.com/coachloop/coachloop/internal/stream"
)

// StreamRequest is the JSON body for POST /v1/sessions/{session_id}/stream.
type StreamRequest struct {
	Message string `json:"message"`
}

// handleStream handles one chat turn as a server-sent event stream.
// Ownership is checked before the response is committed so auth failures
// stay plain HTTP statuses; everything after the first byte is reported
// through envelopes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, err := s.pipeline.Authorize(r.Context(), chi.URLParam(r, "session_id"), caller.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	srv := &stream.Server{
		KeepAlive: s.config.StreamKeepAlive,
		Budget:    s.config.StreamBudget,
		Logger:    s.logger,
	}
	seq := &event.Sequencer{}
	srv.Stream(w, r, seq, func(ctx context.Context, emit func(event.Envelope) bool) {
		s.pipeline.Run(ctx, sess, req.Message, seq, emit)
	})
}
