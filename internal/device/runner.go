package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coachloop/coachloop/internal/client"
	"github.com/coachloop/coachloop/internal/event"
	"github.com/coachloop/coachloop/internal/store"
	"github.com/coachloop/coachloop/internal/toolrun"
)

// Outcome classifies how a handshake ended on the device. A permission
// denial is its own kind: nothing ran, and it would be wrong to show it as
// a failure of the action itself.
type Outcome string

const (
	OutcomeExecuted         Outcome = "executed"
	OutcomeFailed           Outcome = "failed"
	OutcomeDeclined         Outcome = "declined"
	OutcomePermissionDenied Outcome = "permission_denied"
)

// ConfirmFunc asks the user to approve one staged tool run.
type ConfirmFunc func(toolID string, input json.RawMessage) bool

// Runner drives the request-confirm-execute-report handshake for
// client-owned tools.
type Runner struct {
	api     *client.Client
	actions Actions
	gate    *Gate
	confirm ConfirmFunc
	logger  *slog.Logger
}

// NewRunner creates a handshake runner.
func NewRunner(api *client.Client, actions Actions, gate *Gate, confirm ConfirmFunc, logger *slog.Logger) *Runner {
	return &Runner{
		api:     api,
		actions: actions,
		gate:    gate,
		confirm: confirm,
		logger:  logger,
	}
}

// Handle runs the full handshake for one tool.request event: stage the run
// on the server, confirm with the user, gate on permissions, perform the
// native action, persist the durable record, report the result.
func (r *Runner) Handle(ctx context.Context, req event.ToolRequest) (Outcome, error) {
	var sessionID *string
	if req.SessionID != "" {
		sessionID = &req.SessionID
	}

	resp, err := r.api.ExecuteTool(ctx, client.ExecuteToolRequest{
		ToolID:    req.ToolID,
		SessionID: sessionID,
		Input:     req.Input,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("stage tool run: %w", err)
	}

	// Server-owned tools come back already terminal; nothing to do locally.
	if resp.Status != string(store.RunStatusPending) {
		if resp.Status == string(store.RunStatusExecuted) {
			return OutcomeExecuted, nil
		}
		return OutcomeFailed, nil
	}

	token := ""
	if resp.ExecutionToken != nil {
		token = *resp.ExecutionToken
	}
	return r.finish(ctx, resp.ToolRunID, token, req.ToolID, sessionID, req.Input)
}

// Resume picks up runs staged before a crash or disconnect and walks each
// one through confirm-onwards. Runs the user never answered stay pending.
func (r *Runner) Resume(ctx context.Context) error {
	pending, err := r.api.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("resume pending runs: %w", err)
	}

	for _, run := range pending {
		outcome, err := r.finish(ctx, run.ToolRunID, run.ExecutionToken, run.ToolID, run.SessionID, run.Input)
		if err != nil {
			r.logger.Warn("resumed tool run failed", "tool_run_id", run.ToolRunID, "error", err)
			continue
		}
		r.logger.Info("resumed tool run", "tool_run_id", run.ToolRunID, "tool_id", run.ToolID, "outcome", string(outcome))
	}
	return nil
}

// finish runs confirm, permission check, native action, record write and
// report for an already-staged run.
func (r *Runner) finish(ctx context.Context, runID, token, toolID string, sessionID *string, input json.RawMessage) (Outcome, error) {
	if r.confirm == nil || !r.confirm(toolID, input) {
		err := r.api.ReportResult(ctx, client.ReportResultRequest{
			ToolRunID:      runID,
			ExecutionToken: token,
			Status:         string(store.RunStatusDeclined),
		})
		if err != nil {
			return OutcomeDeclined, fmt.Errorf("report declined: %w", err)
		}
		return OutcomeDeclined, nil
	}

	// A permission denial is the user saying no, not the action breaking:
	// report it as declined so the server never shows it as a failure.
	if !r.gate.Allowed(capabilityFor(toolID)) {
		msg := "permission denied by user"
		err := r.api.ReportResult(ctx, client.ReportResultRequest{
			ToolRunID:      runID,
			ExecutionToken: token,
			Status:         string(store.RunStatusDeclined),
			Error:          &msg,
		})
		if err != nil {
			return OutcomePermissionDenied, fmt.Errorf("report permission denial: %w", err)
		}
		return OutcomePermissionDenied, nil
	}

	recordID, actErr := r.perform(ctx, runID, toolID, sessionID, input)
	if actErr != nil {
		msg := actErr.Error()
		err := r.api.ReportResult(ctx, client.ReportResultRequest{
			ToolRunID:      runID,
			ExecutionToken: token,
			Status:         string(store.RunStatusFailed),
			Error:          &msg,
		})
		if err != nil {
			return OutcomeFailed, fmt.Errorf("report failure: %w", err)
		}
		return OutcomeFailed, nil
	}

	output, _ := json.Marshal(map[string]string{"record_id": recordID})
	err := r.api.ReportResult(ctx, client.ReportResultRequest{
		ToolRunID:      runID,
		ExecutionToken: token,
		Status:         string(store.RunStatusExecuted),
		Output:         output,
	})
	if err != nil {
		return OutcomeExecuted, fmt.Errorf("report success: %w", err)
	}
	return OutcomeExecuted, nil
}

type notificationInput struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	FireAt         time.Time `json:"fire_at"`
}

type calendarInput struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Title          string    `json:"title"`
	Notes          string    `json:"notes"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
}

type reminderInput struct {
	IdempotencyKey string     `json:"idempotency_key"`
	Title          string     `json:"title"`
	Notes          string     `json:"notes"`
	DueAt          *time.Time `json:"due_at,omitempty"`
}

// perform runs the native action for one tool and writes the durable record.
// The record id is the input's idempotency key, so a retried handshake
// overwrites the same record. A record-write failure is logged and swallowed:
// the action already happened.
func (r *Runner) perform(ctx context.Context, runID, toolID string, sessionID *string, input json.RawMessage) (string, error) {
	base := map[string]any{
		"session_id":  sessionID,
		"tool_run_id": runID,
	}
	// Records are filterable by coach; resolve the session's coach so the
	// tag survives onto the durable record. Resolution failures only cost
	// the tag, never the action.
	if sessionID != nil {
		sess, err := r.api.GetSession(ctx, *sessionID)
		if err != nil {
			r.logger.Warn("failed to resolve session coach", "session_id", *sessionID, "error", err)
		} else if sess.CoachID != nil {
			base["coach_id"] = *sess.CoachID
		}
	}

	switch toolID {
	case toolrun.ToolNotificationSchedule:
		var in notificationInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("parse notification input: %w", err)
		}
		if err := r.actions.Notifier.Schedule(ctx, in.Title, in.Body, in.FireAt); err != nil {
			return "", err
		}
		base["id"] = in.IdempotencyKey
		base["title"] = in.Title
		if in.Body != "" {
			base["body"] = in.Body
		}
		base["fire_at"] = in.FireAt.Format(time.RFC3339)
		r.putRecord(ctx, store.RecordKindNotification, in.IdempotencyKey, base)
		return in.IdempotencyKey, nil

	case toolrun.ToolCalendarEventCreate:
		var in calendarInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("parse calendar input: %w", err)
		}
		if err := r.actions.Calendar.CreateEvent(ctx, in.Title, in.Notes, in.StartsAt, in.EndsAt); err != nil {
			return "", err
		}
		base["id"] = in.IdempotencyKey
		base["title"] = in.Title
		if in.Notes != "" {
			base["body"] = in.Notes
		}
		base["starts_at"] = in.StartsAt.Format(time.RFC3339)
		base["ends_at"] = in.EndsAt.Format(time.RFC3339)
		r.putRecord(ctx, store.RecordKindCalendar, in.IdempotencyKey, base)
		return in.IdempotencyKey, nil

	case toolrun.ToolReminderCreate:
		var in reminderInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("parse reminder input: %w", err)
		}
		if err := r.actions.Reminders.CreateReminder(ctx, in.Title, in.Notes, in.DueAt); err != nil {
			return "", err
		}
		base["id"] = in.IdempotencyKey
		base["title"] = in.Title
		if in.Notes != "" {
			base["body"] = in.Notes
		}
		if in.DueAt != nil {
			base["fire_at"] = in.DueAt.Format(time.RFC3339)
		}
		r.putRecord(ctx, store.RecordKindReminder, in.IdempotencyKey, base)
		return in.IdempotencyKey, nil

	default:
		return "", fmt.Errorf("no device action for tool %s", toolID)
	}
}

func (r *Runner) putRecord(ctx context.Context, kind store.RecordKind, id string, rec map[string]any) {
	if _, err := r.api.PutRecord(ctx, kind, rec); err != nil {
		r.logger.Warn("failed to persist effect record", "kind", string(kind), "record_id", id, "error", err)
	}
}

func capabilityFor(toolID string) Capability {
	switch toolID {
	case toolrun.ToolCalendarEventCreate:
		return CapabilityCalendar
	case toolrun.ToolReminderCreate:
		return CapabilityReminders
	default:
		return CapabilityNotifications
	}
}
