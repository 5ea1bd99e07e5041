package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/coachloop/coachloop/internal/storage"
)

func openTestDB(t *testing.T) *ToolRunStore {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "coachloop.db")
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewToolRunStore(db)
}

func TestToolRunFinishHappyPath(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	run, err := store.CreatePending(ctx, "user-1", "reminder_create", nil, json.RawMessage(`{"title":"stretch"}`))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if run.Status != RunStatusPending {
		t.Fatalf("status = %s, want pending", run.Status)
	}
	if run.ExecutionToken == nil || *run.ExecutionToken == "" {
		t.Fatalf("expected execution token on pending run")
	}

	done, err := store.Finish(ctx, run.ID, "user-1", *run.ExecutionToken, RunStatusExecuted, json.RawMessage(`{"record_id":"r1"}`), nil)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != RunStatusExecuted {
		t.Fatalf("status = %s, want executed", done.Status)
	}
	if done.ExecutionToken != nil {
		t.Fatalf("token should be cleared after finish")
	}

	loaded, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.ExecutionToken != nil {
		t.Fatalf("stored token should be NULL after finish")
	}
}

func TestToolRunFinishTokenMismatchLeavesRunPending(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	run, err := store.CreatePending(ctx, "user-1", "reminder_create", nil, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	_, err = store.Finish(ctx, run.ID, "user-1", "wrong-token", RunStatusExecuted, nil, nil)
	if !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}

	loaded, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != RunStatusPending {
		t.Fatalf("run should still be pending after token mismatch, got %s", loaded.Status)
	}
	if loaded.ExecutionToken == nil || *loaded.ExecutionToken != *run.ExecutionToken {
		t.Fatalf("token must survive a rejected report unchanged")
	}
}

func TestToolRunFinishWrongOwnerForbidden(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	run, err := store.CreatePending(ctx, "user-1", "reminder_create", nil, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	_, err = store.Finish(ctx, run.ID, "user-2", *run.ExecutionToken, RunStatusExecuted, nil, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestToolRunFinishTerminalIsNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	run, err := store.CreatePending(ctx, "user-1", "reminder_create", nil, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	token := *run.ExecutionToken

	if _, err := store.Finish(ctx, run.ID, "user-1", token, RunStatusDeclined, nil, nil); err != nil {
		t.Fatalf("first finish: %v", err)
	}

	_, err = store.Finish(ctx, run.ID, "user-1", token, RunStatusExecuted, nil, nil)
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal on second report, got %v", err)
	}

	loaded, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != RunStatusDeclined {
		t.Fatalf("status = %s, want declined to stick", loaded.Status)
	}
}

func TestToolRunFinishRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	run, err := store.CreatePending(ctx, "user-1", "reminder_create", nil, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	if _, err := store.Finish(ctx, run.ID, "user-1", *run.ExecutionToken, RunStatusPending, nil, nil); err == nil {
		t.Fatalf("expected error finishing into pending")
	}
}

func TestToolRunCreateTerminalHasNoToken(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	run, err := store.CreateTerminal(ctx, "user-1", "session_title_set", nil,
		json.RawMessage(`{"title":"Morning check-in"}`), json.RawMessage(`{"ok":true}`), RunStatusExecuted, nil)
	if err != nil {
		t.Fatalf("create terminal: %v", err)
	}
	if run.ExecutionToken != nil {
		t.Fatalf("server-owned run must not carry a token")
	}

	loaded, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != RunStatusExecuted {
		t.Fatalf("status = %s, want executed", loaded.Status)
	}
	if loaded.ExecutionToken != nil {
		t.Fatalf("stored token should be NULL")
	}
}

func TestToolRunListPendingScopedToOwner(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	first, err := store.CreatePending(ctx, "user-1", "reminder_create", nil, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := store.CreatePending(ctx, "user-2", "reminder_create", nil, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("create other user: %v", err)
	}
	finished, err := store.CreatePending(ctx, "user-1", "calendar_event_create", nil, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := store.Finish(ctx, finished.ID, "user-1", *finished.ExecutionToken, RunStatusExecuted, nil, nil); err != nil {
		t.Fatalf("finish second: %v", err)
	}

	pending, err := store.ListPending(ctx, "user-1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	if pending[0].ID != first.ID {
		t.Fatalf("pending run = %s, want %s", pending[0].ID, first.ID)
	}
}
