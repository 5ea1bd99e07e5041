package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coachloop/coachloop/internal/store"
	"github.com/coachloop/coachloop/internal/stream"
)

// Client is an HTTP client for the coachloop API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new API client. The zero timeout on the underlying
// http.Client is deliberate: turn streams are long-lived and are cancelled
// through their context instead.
func New(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// CreateSessionRequest is the JSON body for POST /v1/sessions.
type CreateSessionRequest struct {
	CoachID *string `json:"coach_id,omitempty"`
	Title   string  `json:"title,omitempty"`
}

// ExecuteToolRequest is the JSON body for POST /v1/tools/execute.
type ExecuteToolRequest struct {
	ToolID    string          `json:"tool_id"`
	SessionID *string         `json:"session_id,omitempty"`
	Input     json.RawMessage `json:"input"`
}

// ExecuteToolResponse is the server's answer to an execute call. For
// client-owned tools the run comes back pending with an execution token; for
// server-owned tools it is already terminal.
type ExecuteToolResponse struct {
	ToolRunID      string          `json:"tool_run_id"`
	Status         string          `json:"status"`
	ExecutionToken *string         `json:"execution_token,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// ReportResultRequest is the JSON body for POST /v1/tools/result.
type ReportResultRequest struct {
	ToolRunID      string          `json:"tool_run_id"`
	ExecutionToken string          `json:"execution_token"`
	Status         string          `json:"status"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// RecordFilter narrows ListRecords results.
type RecordFilter struct {
	CoachID *string
	Status  *string
	Limit   int
	Offset  int
}

// CreateSession starts a new coaching session.
func (c *Client) CreateSession(ctx context.Context, coachID *string, title string) (*store.Session, error) {
	var sess store.Session
	err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", CreateSessionRequest{CoachID: coachID, Title: title}, &sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// GetSession fetches one owned session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	var sess store.Session
	err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, &sess)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// StartTurn posts a user message and returns a reader over the response
// event stream. Cancelling ctx or closing the reader stops the stream;
// either way the server treats it as a silent stop, not an error.
func (c *Client) StartTurn(ctx context.Context, sessionID, message string) (*stream.Reader, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, fmt.Errorf("marshal turn request: %w", err)
	}

	path := fmt.Sprintf("%s/v1/sessions/%s/stream", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start turn: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("start turn: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return stream.NewReader(resp.Body), nil
}

// ExecuteTool asks the server to run (server-owned) or stage (client-owned)
// a tool call.
func (c *Client) ExecuteTool(ctx context.Context, req ExecuteToolRequest) (*ExecuteToolResponse, error) {
	var resp ExecuteToolResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tools/execute", req, &resp); err != nil {
		return nil, fmt.Errorf("execute tool %s: %w", req.ToolID, err)
	}
	return &resp, nil
}

// ReportResult reports the outcome of a staged client-owned tool run.
func (c *Client) ReportResult(ctx context.Context, req ReportResultRequest) error {
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tools/result", req, nil); err != nil {
		return fmt.Errorf("report result for run %s: %w", req.ToolRunID, err)
	}
	return nil
}

// PendingRun is one staged run from the pending endpoint, token included.
type PendingRun struct {
	ToolRunID      string          `json:"tool_run_id"`
	ToolID         string          `json:"tool_id"`
	SessionID      *string         `json:"session_id,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	ExecutionToken string          `json:"execution_token"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ListPending fetches the caller's staged tool runs, oldest first. Used to
// resume handshakes interrupted by a crash or disconnect.
func (c *Client) ListPending(ctx context.Context) ([]PendingRun, error) {
	var runs []PendingRun
	if err := c.doJSON(ctx, http.MethodGet, "/v1/tools/pending", nil, &runs); err != nil {
		return nil, fmt.Errorf("list pending tool runs: %w", err)
	}
	return runs, nil
}

// PutRecord persists the durable record of an executed client-owned tool.
func (c *Client) PutRecord(ctx context.Context, kind store.RecordKind, rec map[string]any) (*store.Record, error) {
	var saved store.Record
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/"+kindPath(kind), rec, &saved); err != nil {
		return nil, fmt.Errorf("put %s record: %w", kind, err)
	}
	return &saved, nil
}

// ListRecords fetches a page of the caller's side-effect records.
func (c *Client) ListRecords(ctx context.Context, kind store.RecordKind, f RecordFilter) ([]*store.Record, error) {
	q := url.Values{}
	if f.CoachID != nil {
		q.Set("coach_id", *f.CoachID)
	}
	if f.Status != nil {
		q.Set("status", *f.Status)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	path := "/v1/events/" + kindPath(kind)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var recs []*store.Record
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	return recs, nil
}

// CompleteReminder marks a reminder done.
func (c *Client) CompleteReminder(ctx context.Context, recordID string) (*store.Record, error) {
	var rec store.Record
	path := "/v1/events/reminders/" + url.PathEscape(recordID) + "/complete"
	if err := c.doJSON(ctx, http.MethodPut, path, nil, &rec); err != nil {
		return nil, fmt.Errorf("complete reminder %s: %w", recordID, err)
	}
	return &rec, nil
}

// CancelNotification deletes a scheduled notification record.
func (c *Client) CancelNotification(ctx context.Context, recordID string) error {
	path := "/v1/events/notifications/" + url.PathEscape(recordID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("cancel notification %s: %w", recordID, err)
	}
	return nil
}

func kindPath(kind store.RecordKind) string {
	switch kind {
	case store.RecordKindReminder:
		return "reminders"
	case store.RecordKindNotification:
		return "notifications"
	default:
		return "calendar"
	}
}

// doJSON performs one JSON request/response round trip. A nil out discards
// the response body; a nil in sends no body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
