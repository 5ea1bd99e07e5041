package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/golang-jwt/jwt/v5"

	"github.com/coachloop/coachloop/internal/coach"
	"github.com/coachloop/coachloop/internal/event"
	"github.com/coachloop/coachloop/internal/pipeline"
	"github.com/coachloop/coachloop/internal/storage"
	"github.com/coachloop/coachloop/internal/store"
	"github.com/coachloop/coachloop/internal/stream"
	"github.com/coachloop/coachloop/internal/toolrun"
)

const testSecret = "test-secret"

type staticModel struct {
	reply string
}

func (m *staticModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return nil, errors.New("generate not used")
}

func (m *staticModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{
		{Role: schema.Assistant, Content: m.reply},
	}), nil
}

func (m *staticModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SessionStore) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "coachloop.db")
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sessions := store.NewSessionStore(db)
	messages := store.NewMessageStore(db)
	runs := store.NewToolRunStore(db)
	records := store.NewRecordStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog := toolrun.DefaultCatalog()
	tools := toolrun.NewService(catalog, runs, sessions, toolrun.NewRateLimiter(100), logger)
	p := pipeline.New(&staticModel{reply: "Keep it up."}, sessions, messages, coach.NewResolver(nil), catalog, 40, logger)

	srv := New(Config{
		Listen:          "127.0.0.1:0",
		JWTSecret:       testSecret,
		StreamKeepAlive: time.Second,
		StreamBudget:    10 * time.Second,
	}, sessions, records, tools, p, logger)

	ts := httptest.NewServer(srv.setupRoutes())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func signToken(t *testing.T, userID string, entitlements ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(entitlements) > 0 {
		claims["entitlements"] = entitlements
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func TestHealthzUnauthenticated(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequiredOnAPIRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/sessions", "", map[string]string{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", resp.StatusCode)
	}

	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/sessions", badToken, map[string]string{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature: status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "user-1")

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/sessions", token, map[string]string{"title": "Race prep"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var sess store.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if sess.Title != "Race prep" || sess.UserID != "user-1" {
		t.Fatalf("session = %+v", sess)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/sessions/"+sess.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Another user's token must not see it.
	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/sessions/"+sess.ID, signToken(t, "user-2"), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign get status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/sessions/does-not-exist", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing get status = %d, want 404", resp.StatusCode)
	}
}

func TestToolHandshakeOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "user-1")

	input := json.RawMessage(`{"idempotency_key":"k1","title":"Stretch"}`)
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/tools/execute", token, ExecuteRequest{
		ToolID: toolrun.ToolReminderCreate,
		Input:  input,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d: %s", resp.StatusCode, body)
	}
	var exec ExecuteResponse
	if err := json.Unmarshal(body, &exec); err != nil {
		t.Fatalf("unmarshal execute: %v", err)
	}
	if exec.Status != "pending" || exec.ExecutionToken == nil {
		t.Fatalf("execute response = %+v", exec)
	}

	// The staged run shows up in the pending listing, token included.
	resp, body = doJSON(t, ts, http.MethodGet, "/v1/tools/pending", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending status = %d", resp.StatusCode)
	}
	var pending []PendingRun
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ExecutionToken != *exec.ExecutionToken {
		t.Fatalf("pending = %+v", pending)
	}

	// Wrong token is rejected and the run stays pending.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/tools/result", token, ResultRequest{
		ToolRunID:      exec.ToolRunID,
		ExecutionToken: "forged",
		Status:         "executed",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("forged token status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/tools/result", token, ResultRequest{
		ToolRunID:      exec.ToolRunID,
		ExecutionToken: *exec.ExecutionToken,
		Status:         "executed",
		Output:         json.RawMessage(`{"record_id":"k1"}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", resp.StatusCode)
	}

	// Re-reporting a terminal run conflicts.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/tools/result", token, ResultRequest{
		ToolRunID:      exec.ToolRunID,
		ExecutionToken: *exec.ExecutionToken,
		Status:         "declined",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-report status = %d, want 409", resp.StatusCode)
	}
}

func TestToolExecuteErrorTaxonomy(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/tools/execute", token, ExecuteRequest{
		ToolID: "no_such_tool",
		Input:  json.RawMessage(`{}`),
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown tool status = %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/tools/execute", token, ExecuteRequest{
		ToolID: toolrun.ToolReminderCreate,
		Input:  json.RawMessage(`{"title":"missing key"}`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid input status = %d, want 400", resp.StatusCode)
	}
}

func TestRecordsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "user-1")

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/events/reminders", token, PutRecordRequest{
		ID:    "idem-1",
		Title: "Drink water",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d: %s", resp.StatusCode, body)
	}

	// Same idempotency key overwrites instead of duplicating.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/events/reminders", token, PutRecordRequest{
		ID:    "idem-1",
		Title: "Drink more water",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second put status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/events/reminders", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var recs []*store.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		t.Fatalf("unmarshal records: %v", err)
	}
	if len(recs) != 1 || recs[0].Title != "Drink more water" {
		t.Fatalf("records = %+v", recs)
	}

	// Another user reusing the key cannot take the record over.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/events/reminders", signToken(t, "user-2"), PutRecordRequest{
		ID:    "idem-1",
		Title: "Hijacked",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign put status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodPut, "/v1/events/reminders/idem-1/complete", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d", resp.StatusCode)
	}

	// Ownership re-validated on mutations.
	resp, _ = doJSON(t, ts, http.MethodPut, "/v1/events/reminders/idem-1/complete", signToken(t, "user-2"), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign complete status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/events/unknown-kind", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kind status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "user-1")

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/sessions", token, map[string]string{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var sess store.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}

	// Auth failures stay plain HTTP statuses: nothing is streamed for a
	// session the caller does not own.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/sessions/"+sess.ID+"/stream", signToken(t, "user-2"), StreamRequest{Message: "hi"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign stream status = %d, want 403", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions/"+sess.ID+"/stream", bytes.NewBufferString(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", httpResp.StatusCode)
	}
	if ct := httpResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := stream.NewReader(httpResp.Body)
	var types []event.Type
	for reader.Scan() {
		types = append(types, reader.Envelope().Type)
	}
	if err := reader.Err(); err != nil {
		t.Fatalf("reader error: %v", err)
	}
	if len(types) < 3 {
		t.Fatalf("envelope types = %v", types)
	}
	if types[0] != event.TypeStreamOpen {
		t.Fatalf("first envelope = %s, want %s", types[0], event.TypeStreamOpen)
	}
	if types[len(types)-1] != event.TypeStreamDone {
		t.Fatalf("last envelope = %s, want %s", types[len(types)-1], event.TypeStreamDone)
	}
}

func TestNotificationCancel(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "user-1")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/events/notifications", token, PutRecordRequest{
		ID:    "n1",
		Title: "Evening check-in",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodDelete, "/v1/events/notifications/n1", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodDelete, "/v1/events/notifications/n1", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second cancel status = %d, want 404", resp.StatusCode)
	}
}
