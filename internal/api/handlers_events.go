package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachloop/coachloop/internal/store"
)

// PutRecordRequest is the JSON body for POST /v1/events/{kind}: the client
// persisting the durable record of an executed tool. The record id is the
// tool input's idempotency key, so a retried write overwrites in place.
type PutRecordRequest struct {
	ID        string  `json:"id"`
	CoachID   *string `json:"coach_id,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
	ToolRunID *string `json:"tool_run_id,omitempty"`
	Title     string  `json:"title"`
	Body      *string `json:"body,omitempty"`
	StartsAt  *string `json:"starts_at,omitempty"`
	EndsAt    *string `json:"ends_at,omitempty"`
	FireAt    *string `json:"fire_at,omitempty"`
}

func parseTimestamp(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var kindByPath = map[string]store.RecordKind{
	"calendar":      store.RecordKindCalendar,
	"reminders":     store.RecordKindReminder,
	"notifications": store.RecordKindNotification,
}

// handleListRecords handles GET /v1/events/{kind}.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	kind, ok := kindByPath[chi.URLParam(r, "kind")]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown record kind")
		return
	}

	q := r.URL.Query()
	filter := store.RecordFilter{}
	if v := q.Get("coach_id"); v != "" {
		filter.CoachID = &v
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	recs, err := s.records.List(r.Context(), kind, caller.UserID, filter)
	if err != nil {
		s.logger.Error("failed to list records", "kind", kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []*store.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// handlePutRecord handles POST /v1/events/{kind}.
func (s *Server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	kind, ok := kindByPath[chi.URLParam(r, "kind")]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown record kind")
		return
	}

	var req PutRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Title == "" {
		s.writeError(w, http.StatusBadRequest, "id and title are required")
		return
	}

	rec := &store.Record{
		Kind:      kind,
		ID:        req.ID,
		UserID:    caller.UserID,
		CoachID:   req.CoachID,
		SessionID: req.SessionID,
		ToolRunID: req.ToolRunID,
		Title:     req.Title,
		Body:      req.Body,
	}
	var err error
	if rec.StartsAt, err = parseTimestamp(req.StartsAt); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid starts_at")
		return
	}
	if rec.EndsAt, err = parseTimestamp(req.EndsAt); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid ends_at")
		return
	}
	if rec.FireAt, err = parseTimestamp(req.FireAt); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid fire_at")
		return
	}

	saved, err := s.records.Put(r.Context(), rec)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// handleCompleteReminder handles PUT /v1/events/reminders/{record_id}/complete.
func (s *Server) handleCompleteReminder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	rec, err := s.records.CompleteReminder(r.Context(), chi.URLParam(r, "record_id"), caller.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleCancelNotification handles DELETE /v1/events/notifications/{record_id}.
func (s *Server) handleCancelNotification(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	if err := s.records.CancelNotification(r.Context(), chi.URLParam(r, "record_id"), caller.UserID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
