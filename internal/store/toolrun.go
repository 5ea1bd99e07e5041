package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a tool run. Everything except
// pending is terminal; once a run leaves pending no further transition is
// accepted.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusExecuted RunStatus = "executed"
	RunStatusFailed   RunStatus = "failed"
	RunStatusDeclined RunStatus = "declined"
)

// Terminal reports whether st ends the run.
func (st RunStatus) Terminal() bool {
	return st == RunStatusExecuted || st == RunStatusFailed || st == RunStatusDeclined
}

// ToolRun is one request-confirm-execute-report handshake. The execution
// token is generated exactly once at creation and cleared when the run
// leaves pending.
type ToolRun struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	ToolID         string          `json:"tool_id"`
	SessionID      *string         `json:"session_id,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Status         RunStatus       `json:"status"`
	ExecutionToken *string         `json:"-"`
	Error          *string         `json:"error,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolRunStore provides operations on the tool_runs table.
type ToolRunStore struct {
	db *sql.DB
}

// NewToolRunStore creates a new ToolRunStore.
func NewToolRunStore(db *sql.DB) *ToolRunStore {
	return &ToolRunStore{db: db}
}

// CreatePending inserts a pending run with a freshly generated execution
// token. The token is never regenerated for the life of the run.
func (s *ToolRunStore) CreatePending(ctx context.Context, userID, toolID string, sessionID *string, input json.RawMessage) (*ToolRun, error) {
	now := time.Now().UTC()
	token := uuid.New().String()
	run := &ToolRun{
		ID:             uuid.New().String(),
		UserID:         userID,
		ToolID:         toolID,
		SessionID:      sessionID,
		Input:          input,
		Status:         RunStatusPending,
		ExecutionToken: &token,
		UpdatedAt:      now,
		CreatedAt:      now,
	}
	if err := s.insert(ctx, run, nil); err != nil {
		return nil, err
	}
	return run, nil
}

// CreateTerminal inserts a run that executed synchronously on the server.
// No execution token is stored; there is nothing left to confirm.
func (s *ToolRunStore) CreateTerminal(ctx context.Context, userID, toolID string, sessionID *string, input, output json.RawMessage, status RunStatus, errMsg *string) (*ToolRun, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("create terminal run: status %q is not terminal", status)
	}
	now := time.Now().UTC()
	run := &ToolRun{
		ID:        uuid.New().String(),
		UserID:    userID,
		ToolID:    toolID,
		SessionID: sessionID,
		Input:     input,
		Output:    output,
		Status:    status,
		Error:     errMsg,
		UpdatedAt: now,
		CreatedAt: now,
	}
	if err := s.insert(ctx, run, output); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *ToolRunStore) insert(ctx context.Context, run *ToolRun, output json.RawMessage) error {
	ts := run.CreatedAt.Format(time.RFC3339Nano)
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tool_runs (id, user_id, tool_id, session_id, input, output, status, execution_token, error, updated_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.UserID, run.ToolID, run.SessionID, run.Input, output,
			string(run.Status), run.ExecutionToken, run.Error, ts, ts,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert tool run: %w", err)
	}
	return nil
}

// GetByID retrieves a tool run by its ID.
func (s *ToolRunStore) GetByID(ctx context.Context, id string) (*ToolRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, tool_id, session_id, input, output, status, execution_token, error, updated_at, created_at
		 FROM tool_runs WHERE id = ?`, id)
	run, err := scanToolRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListPending retrieves a user's pending runs, oldest first. A client that
// was interrupted mid-handshake uses this to resume and report.
func (s *ToolRunStore) ListPending(ctx context.Context, userID string) ([]*ToolRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, tool_id, session_id, input, output, status, execution_token, error, updated_at, created_at
		 FROM tool_runs WHERE user_id = ? AND status = ? ORDER BY created_at ASC`,
		userID, string(RunStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending tool runs: %w", err)
	}
	defer rows.Close()

	var runs []*ToolRun
	for rows.Next() {
		run, err := scanToolRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Finish moves a pending run to a terminal status. The caller's uid must
// match the run owner and token must exactly equal the stored execution
// token; a run that already left pending is rejected, never overwritten.
func (s *ToolRunStore) Finish(ctx context.Context, id, userID, token string, status RunStatus, output json.RawMessage, errMsg *string) (*ToolRun, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish tool run: status %q is not terminal", status)
	}

	run, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, ErrForbidden
	}
	if run.Status.Terminal() {
		return nil, ErrTerminal
	}
	if run.ExecutionToken == nil ||
		subtle.ConstantTimeCompare([]byte(*run.ExecutionToken), []byte(token)) != 1 {
		return nil, ErrTokenMismatch
	}

	now := time.Now().UTC()
	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tool_runs SET status = ?, output = ?, error = ?, execution_token = NULL, updated_at = ?
			 WHERE id = ? AND status = ? AND execution_token = ?`,
			string(status), output, errMsg, now.Format(time.RFC3339Nano),
			id, string(RunStatusPending), token,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Lost a race with another report between the load and the
			// guarded update.
			return ErrTerminal
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTerminal) {
			return nil, ErrTerminal
		}
		return nil, fmt.Errorf("finish tool run: %w", err)
	}

	run.Status = status
	run.Output = output
	run.Error = errMsg
	run.ExecutionToken = nil
	run.UpdatedAt = now
	return run, nil
}

func scanToolRun(sc scanner) (*ToolRun, error) {
	var run ToolRun
	var status string
	var sessionID, token, errMsg sql.NullString
	var input, output sql.NullString
	var updatedAt, createdAt *string

	err := sc.Scan(&run.ID, &run.UserID, &run.ToolID, &sessionID, &input, &output,
		&status, &token, &errMsg, &updatedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tool run: %w", err)
	}

	if sessionID.Valid {
		v := sessionID.String
		run.SessionID = &v
	}
	if input.Valid && input.String != "" {
		run.Input = json.RawMessage(input.String)
	}
	if output.Valid && output.String != "" {
		run.Output = json.RawMessage(output.String)
	}
	if token.Valid {
		v := token.String
		run.ExecutionToken = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		run.Error = &v
	}

	run.Status = RunStatus(status)
	if t := parseTime(updatedAt); t != nil {
		run.UpdatedAt = *t
	}
	if t := parseTime(createdAt); t != nil {
		run.CreatedAt = *t
	}
	return &run, nil
}
