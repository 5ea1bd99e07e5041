package toolrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coachloop/coachloop/internal/store"
)

// Errors the service maps onto HTTP statuses.
var (
	ErrUnknownTool  = errors.New("unknown tool")
	ErrInvalidInput = errors.New("invalid tool input")
	ErrNotEntitled  = errors.New("caller not entitled to tool")
	ErrRateLimited  = errors.New("tool rate limit exceeded")
)

// Caller identifies the authenticated user executing a tool.
type Caller struct {
	UserID       string
	Entitlements []string
}

func (c Caller) entitled(capability string) bool {
	if capability == "" {
		return true
	}
	for _, e := range c.Entitlements {
		if e == capability {
			return true
		}
	}
	return false
}

// Service implements the server side of the tool-run state machine.
type Service struct {
	catalog  *Catalog
	runs     *store.ToolRunStore
	sessions *store.SessionStore
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewService creates a tool-run Service over the given stores.
func NewService(catalog *Catalog, runs *store.ToolRunStore, sessions *store.SessionStore, limiter *RateLimiter, logger *slog.Logger) *Service {
	return &Service{
		catalog:  catalog,
		runs:     runs,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger,
	}
}

// Catalog exposes the tool catalogue, mainly so the pipeline can bind
// client-owned tools to the model.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Execute is transition 1 of the handshake. Input is validated against the
// tool's schema before anything is persisted. Client-owned tools come back
// pending with an execution token. Server-owned tools run inline (this is
// the one place the owner variant is switched on) and come back already
// terminal with no token.
func (s *Service) Execute(ctx context.Context, caller Caller, toolID string, sessionID *string, input json.RawMessage) (*store.ToolRun, error) {
	tool, ok := s.catalog.Get(toolID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolID)
	}

	if err := tool.Schema.Validate(input); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if !caller.entitled(tool.Entitlement) {
		return nil, fmt.Errorf("%w: %q", ErrNotEntitled, toolID)
	}
	if !s.limiter.Allow(caller.UserID, tool) {
		return nil, fmt.Errorf("%w: %q", ErrRateLimited, toolID)
	}

	switch tool.Owner {
	case OwnerClient:
		run, err := s.runs.CreatePending(ctx, caller.UserID, toolID, sessionID, input)
		if err != nil {
			return nil, err
		}
		s.logger.Info("tool run created",
			"tool_run_id", run.ID, "tool_id", toolID, "user_id", caller.UserID)
		return run, nil

	case OwnerServer:
		output, execErr := s.executeServerTool(ctx, caller, tool, sessionID, input)
		status := store.RunStatusExecuted
		var errMsg *string
		if execErr != nil {
			status = store.RunStatusFailed
			m := execErr.Error()
			errMsg = &m
			output = nil
		}
		run, err := s.runs.CreateTerminal(ctx, caller.UserID, toolID, sessionID, input, output, status, errMsg)
		if err != nil {
			return nil, err
		}
		s.logger.Info("server tool executed",
			"tool_run_id", run.ID, "tool_id", toolID, "status", status)
		return run, nil

	default:
		return nil, fmt.Errorf("tool %q has unsupported owner %q", toolID, tool.Owner)
	}
}

func (s *Service) executeServerTool(ctx context.Context, caller Caller, tool Tool, sessionID *string, input json.RawMessage) (json.RawMessage, error) {
	switch tool.ID {
	case ToolSessionTitleSet:
		if sessionID == nil {
			return nil, fmt.Errorf("session_id is required")
		}
		var in struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
		if _, err := s.sessions.GetOwned(ctx, *sessionID, caller.UserID); err != nil {
			return nil, err
		}
		if err := s.sessions.SetTitle(ctx, *sessionID, in.Title); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"title": in.Title})
	default:
		return nil, fmt.Errorf("server tool %q not implemented", tool.ID)
	}
}

// Report is transition 3 of the handshake: the client hands back the outcome
// of a confirmed (or declined) run. Ownership and token checks live in the
// store; an already-terminal run comes back as store.ErrTerminal and is never
// overwritten.
func (s *Service) Report(ctx context.Context, caller Caller, runID, token string, status store.RunStatus, output json.RawMessage, errMsg *string) (*store.ToolRun, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: status %q is not a terminal status", ErrInvalidInput, status)
	}

	run, err := s.runs.Finish(ctx, runID, caller.UserID, token, status, output, errMsg)
	if err != nil {
		return nil, err
	}

	s.logger.Info("tool run reported",
		"tool_run_id", run.ID, "tool_id", run.ToolID, "status", run.Status)
	return run, nil
}

// Pending lists the caller's pending runs so an interrupted client can resume
// the handshake after a restart.
func (s *Service) Pending(ctx context.Context, caller Caller) ([]*store.ToolRun, error) {
	return s.runs.ListPending(ctx, caller.UserID)
}
