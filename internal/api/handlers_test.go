package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"functionctl/internal/apperr"
	"functionctl/internal/cache"
	"functionctl/internal/dispatch"
	"functionctl/internal/monitor"
	"functionctl/internal/registry"
	"functionctl/internal/runtimeclient"
	"functionctl/internal/session"
)

// memStore is an in-memory session.Store fake, the same shape
// internal/dispatch's tests use, standing in for Postgres.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*session.Session
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]*session.Session)} }

func (s *memStore) Insert(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.rows[sess.RequestID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, requestID string, now time.Time) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok || row.IsExpired(now) {
		return nil, apperr.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memStore) Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return apperr.ErrNotFound
	}
	row.ExpiresAt = newExpiry
	return nil
}

func (s *memStore) RecordExecution(ctx context.Context, requestID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return apperr.ErrNotFound
	}
	row.ExecutionCount++
	row.LastExecutedAt = &now
	return nil
}

func (s *memStore) SetCompileResult(ctx context.Context, requestID string, status session.CompileStatus, artifact []byte, compileErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return apperr.ErrNotFound
	}
	row.CompileStatus = status
	row.CompiledArtifact = artifact
	row.CompileError = compileErr
	return nil
}

func (s *memStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.ExpiresAt.Before(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func newTestHandlers(t *testing.T, runtimeURL string) *Handlers {
	t.Helper()
	store := newMemStore()
	artifactCache := cache.New(time.Minute, nil)
	requiresFn := func(string) bool { return false }
	newBuilder := func(languageTitle, scriptContent string, compileOptions json.RawMessage) session.Builder {
		return func(ctx context.Context) ([]byte, error) { return []byte(scriptContent), nil }
	}
	mgr := session.NewManager(store, session.WrapArtifactCache(artifactCache), requiresFn, newBuilder, time.Hour, 1<<20, 5*time.Second)

	reg := registry.New(registry.PrefixMatching, map[string]*registry.Endpoint{
		"nodejs": {Language: "nodejs", BaseURL: runtimeURL},
	})
	rc := runtimeclient.New(nil, runtimeclient.RetryPolicy{
		MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
		AttemptTimeout: time.Second, OuterTimeout: 2 * time.Second,
	})

	engine := dispatch.New(mgr, reg, rc, nil, nil, monitor.NewMetrics(), monitor.NewTracer())
	return NewHandlers(engine, nil)
}

func TestHandleInitialize_Success(t *testing.T) {
	h := newTestHandlers(t, "http://unused")

	body, _ := json.Marshal(InitializeRequest{ScriptContent: "return 1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/initialize", bytes.NewReader(body))
	req.Header.Set("Language-Title", "nodejs-calculator")
	rec := httptest.NewRecorder()

	h.HandleInitialize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp InitializeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "initialized" {
		t.Errorf("Status = %q, want initialized", resp.Status)
	}
	if resp.RequestID == "" {
		t.Error("RequestID should not be empty")
	}
}

func TestHandleInitialize_MissingLanguageHeader(t *testing.T) {
	h := newTestHandlers(t, "http://unused")

	body, _ := json.Marshal(InitializeRequest{ScriptContent: "return 1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/initialize", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleInitialize(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error.Code != string(apperr.InvalidRequest) {
		t.Errorf("code = %q, want INVALID_REQUEST", resp.Error.Code)
	}
}

func TestHandleInitialize_UnknownRuntime(t *testing.T) {
	h := newTestHandlers(t, "http://unused")

	body, _ := json.Marshal(InitializeRequest{ScriptContent: "return 1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/initialize", bytes.NewReader(body))
	req.Header.Set("Language-Title", "klingon-foo")
	rec := httptest.NewRecorder()

	h.HandleInitialize(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleExecute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": {"ok": true}, "execution_time_ms": 2}`)
	}))
	defer srv.Close()

	h := newTestHandlers(t, srv.URL)
	h.engine = dispatch.New(
		session.NewManager(newMemStore(), session.WrapArtifactCache(cache.New(time.Minute, nil)), func(string) bool { return false }, nil, time.Hour, 1<<20, 5*time.Second),
		registry.New(registry.PrefixMatching, map[string]*registry.Endpoint{"nodejs": {Language: "nodejs", BaseURL: srv.URL}}),
		runtimeclient.New(srv.Client(), runtimeclient.DefaultRetryPolicy()),
		nil, nil, monitor.NewMetrics(), monitor.NewTracer(),
	)

	initBody, _ := json.Marshal(InitializeRequest{ScriptContent: "return event"})
	initReq := httptest.NewRequest(http.MethodPost, "/api/v1/initialize", bytes.NewReader(initBody))
	initReq.Header.Set("Language-Title", "nodejs-calculator")
	initRec := httptest.NewRecorder()
	h.HandleInitialize(initRec, initReq)

	var initResp InitializeResponse
	json.NewDecoder(initRec.Body).Decode(&initResp)

	execBody, _ := json.Marshal(ExecuteRequestBody{Params: json.RawMessage(`{"a":1}`)})
	execReq := httptest.NewRequest(http.MethodPost, "/api/v1/execute/"+initResp.RequestID, bytes.NewReader(execBody))
	execReq.SetPathValue("request_id", initResp.RequestID)
	execRec := httptest.NewRecorder()
	h.HandleExecute(execRec, execReq)

	if execRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", execRec.Code, execRec.Body.String())
	}
	var execResp ExecuteResponseBody
	json.NewDecoder(execRec.Body).Decode(&execResp)
	if execResp.RequestID != initResp.RequestID {
		t.Errorf("RequestID mismatch")
	}
}

func TestHandleExecute_UnknownSession(t *testing.T) {
	h := newTestHandlers(t, "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute/does-not-exist", bytes.NewReader([]byte(`{}`)))
	req.SetPathValue("request_id", "does-not-exist")
	rec := httptest.NewRecorder()

	h.HandleExecute(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error.Code != string(apperr.SessionNotFound) {
		t.Errorf("code = %q, want SESSION_NOT_FOUND", resp.Error.Code)
	}
}

func TestHandleGetSession(t *testing.T) {
	h := newTestHandlers(t, "http://unused")

	initBody, _ := json.Marshal(InitializeRequest{ScriptContent: "return 1"})
	initReq := httptest.NewRequest(http.MethodPost, "/api/v1/initialize", bytes.NewReader(initBody))
	initReq.Header.Set("Language-Title", "nodejs-calculator")
	initRec := httptest.NewRecorder()
	h.HandleInitialize(initRec, initReq)

	var initResp InitializeResponse
	json.NewDecoder(initRec.Body).Decode(&initResp)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+initResp.RequestID, nil)
	getReq.SetPathValue("request_id", initResp.RequestID)
	getRec := httptest.NewRecorder()
	h.HandleGetSession(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", getRec.Code)
	}
	var view SessionStateResponse
	json.NewDecoder(getRec.Body).Decode(&view)
	if view.RequestID != initResp.RequestID {
		t.Errorf("RequestID mismatch")
	}
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandlers(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}
