package runtimeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"functionctl/internal/apperr"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      1 * time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
		OuterTimeout:   time.Second,
	}
}

func TestExecute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{Result: json.RawMessage(`8`), ExecutionTimeMS: 1})
	}))
	defer srv.Close()

	c := New(nil, fastPolicy())
	resp, err := c.Execute(context.Background(), "nodejs", "", srv.URL, ExecuteRequest{RequestID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Result) != "8" {
		t.Errorf("Result = %s, want 8", resp.Result)
	}
}

func TestExecute_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad params"})
	}))
	defer srv.Close()

	c := New(nil, fastPolicy())
	_, err := c.Execute(context.Background(), "nodejs", "", srv.URL, ExecuteRequest{RequestID: "r1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 attempt for non-retryable 4xx, got %d", calls.Load())
	}
}

func TestExecute_5xxRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "transient"})
			return
		}
		json.NewEncoder(w).Encode(ExecuteResponse{Result: json.RawMessage(`"ok"`)})
	}))
	defer srv.Close()

	c := New(nil, fastPolicy())
	resp, err := c.Execute(context.Background(), "nodejs-retry", "", srv.URL, ExecuteRequest{RequestID: "r1"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if string(resp.Result) != `"ok"` {
		t.Errorf("Result = %s, want \"ok\"", resp.Result)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestExecute_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "down"})
	}))
	defer srv.Close()

	policy := fastPolicy()
	policy.MaxRetries = 0 // isolate breaker behavior from retry-within-call
	c := New(nil, policy)

	for i := 0; i < 5; i++ {
		_, err := c.Execute(context.Background(), "python-breaker", "", srv.URL, ExecuteRequest{RequestID: "r"})
		if err == nil {
			t.Fatal("expected failure from always-500 server")
		}
	}

	callsBeforeOpen := calls.Load()
	_, err := c.Execute(context.Background(), "python-breaker", "", srv.URL, ExecuteRequest{RequestID: "r"})
	if apperr.CodeOf(err) != apperr.CircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN after threshold failures, got %v", err)
	}
	if calls.Load() != callsBeforeOpen {
		t.Error("P6 violated: circuit-open call must not reach the network")
	}
}

func TestExecute_GatewayFallsBackToDirect(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{Result: json.RawMessage(`"direct"`)})
	}))
	defer direct.Close()

	c := New(nil, fastPolicy())
	resp, err := c.Execute(context.Background(), "rust-gw", "http://127.0.0.1:1", direct.URL, ExecuteRequest{RequestID: "r1"})
	if err != nil {
		t.Fatalf("expected fallback to direct URL to succeed, got %v", err)
	}
	if string(resp.Result) != `"direct"` {
		t.Errorf("Result = %s, want \"direct\"", resp.Result)
	}
}
