// Package runtimeclient implements the Runtime Client (C4): the protocol
// adapter to a runtime worker, with retry, timeouts, and a circuit
// breaker (spec.md §4.4). The HTTP/JSON transport is grounded on
// original_source/controller/src/runtime.rs's execute_in_container
// (gateway-first, falling back to the direct runtime URL, wrapped in an
// outer timeout); the retry/backoff policy translates that file's
// tokio_retry ExponentialBackoff+jitter into Go's context.WithTimeout
// idiom.
package runtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"functionctl/internal/apperr"
)

// ExecuteRequest is the wire payload this controller sends to a runtime
// worker (spec.md §6 runtime-worker contract).
type ExecuteRequest struct {
	RequestID     string          `json:"request_id"`
	Params        json.RawMessage `json:"params"`
	Context       json.RawMessage `json:"context,omitempty"`
	ScriptContent string          `json:"script_content,omitempty"`
}

// ExecuteResponse is the wire payload a runtime worker returns on success.
type ExecuteResponse struct {
	Result           json.RawMessage `json:"result"`
	ExecutionTimeMS  int64           `json:"execution_time_ms"`
	MemoryUsageBytes int64           `json:"memory_usage_bytes,omitempty"`
}

// workerError is the wire payload a runtime worker returns on failure.
type workerError struct {
	Error           string `json:"error"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// RetryPolicy configures backoff (spec.md §4.4).
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	OuterTimeout   time.Duration
}

// DefaultRetryPolicy mirrors spec.md §6's RUNTIME_* defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
		OuterTimeout:   60 * time.Second,
	}
}

// Client dispatches to runtime endpoints, applying retry/timeout/
// breaker policy uniformly regardless of transport. One Client serves
// every endpoint and keeps a separate circuit breaker per endpoint key.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	breakers   *breakerSet
}

// New constructs a Client. httpClient may be nil to use a sane default.
func New(httpClient *http.Client, policy RetryPolicy) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, policy: policy, breakers: newBreakerSet()}
}

// Execute dispatches (request_id, params, context, script) to baseURL
// (falling back from gatewayURL if non-empty, per original_source's
// OpenFaaS-first dispatch pattern), subject to retry, timeouts, and the
// per-endpoint circuit breaker.
func (c *Client) Execute(ctx context.Context, endpointKey, gatewayURL, baseURL string, req ExecuteRequest) (*ExecuteResponse, error) {
	br := c.breakers.get(endpointKey)

	outerCtx, cancel := context.WithTimeout(ctx, c.policy.OuterTimeout)
	defer cancel()

	admitted, isProbe := br.Allow(time.Now())
	if !admitted {
		return nil, apperr.New(apperr.CircuitOpen, fmt.Sprintf("circuit open for %s", endpointKey))
	}

	targets := []string{}
	if gatewayURL != "" {
		targets = append(targets, gatewayURL)
	}
	targets = append(targets, baseURL)

	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffWithFullJitter(c.policy.BaseDelay, c.policy.MaxDelay, attempt)
			select {
			case <-outerCtx.Done():
				return nil, classifyTimeout(outerCtx.Err())
			case <-time.After(delay):
			}
		}

		for _, target := range targets {
			resp, retryAfter, err := c.doOnce(outerCtx, target, req)
			if err == nil {
				br.RecordSuccess(isProbe)
				return resp, nil
			}
			lastErr = err

			if !isRetryable(err) {
				br.RecordFailure(time.Now(), isProbe)
				return nil, err
			}
			if retryAfter > 0 {
				select {
				case <-outerCtx.Done():
					br.RecordFailure(time.Now(), isProbe)
					return nil, classifyTimeout(outerCtx.Err())
				case <-time.After(retryAfter):
				}
			}
		}

		select {
		case <-outerCtx.Done():
			br.RecordFailure(time.Now(), isProbe)
			return nil, classifyTimeout(outerCtx.Err())
		default:
		}
	}

	br.RecordFailure(time.Now(), isProbe)
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperr.New(apperr.RuntimeError, "exhausted retries")
}

// retryableError wraps an error with a retry-after hint and a flag for
// whether the outer retry loop should attempt another round.
type retryableError struct {
	err        error
	retryAfter time.Duration
	retryable  bool
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	var re *retryableError
	if e, ok := err.(*retryableError); ok {
		re = e
		return re.retryable
	}
	return false
}

func (c *Client) doOnce(ctx context.Context, target string, req ExecuteRequest) (*ExecuteResponse, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "marshal runtime request", err)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, target+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "build runtime request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, &retryableError{err: apperr.Wrap(apperr.UpstreamUnavailable, "runtime transport failure", err), retryable: true}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out ExecuteResponse
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			return nil, 0, apperr.Wrap(apperr.Internal, "decode runtime response", err)
		}
		return &out, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, &retryableError{
			err:        apperr.New(apperr.RuntimeError, "runtime returned 429"),
			retryAfter: retryAfter,
			retryable:  true,
		}

	case resp.StatusCode >= 500:
		return nil, 0, &retryableError{
			err:       decodeWorkerError(bodyBytes, resp.StatusCode),
			retryable: true,
		}

	default:
		// 4xx other than 429 is a client error: not retried.
		return nil, 0, decodeWorkerError(bodyBytes, resp.StatusCode)
	}
}

func decodeWorkerError(body []byte, status int) error {
	var we workerError
	if err := json.Unmarshal(body, &we); err == nil && we.Error != "" {
		return apperr.New(apperr.RuntimeError, we.Error)
	}
	return apperr.New(apperr.RuntimeError, fmt.Sprintf("runtime returned status %d", status))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}

func classifyTimeout(err error) error {
	if err == context.DeadlineExceeded {
		return apperr.Wrap(apperr.Timeout, "runtime call exceeded outer deadline", err)
	}
	return apperr.Wrap(apperr.Internal, "runtime call cancelled", err)
}

// backoffWithFullJitter implements exponential backoff with full jitter
// (spec.md §4.4): delay = random(0, min(maxDelay, base * 2^(attempt-1))).
func backoffWithFullJitter(base, max time.Duration, attempt int) time.Duration {
	exp := base << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// compileRequest is the wire payload for the pre-invocation build step
// runtimes requiring compilation expose (the WebAssembly/Rust family).
// This is additive to the worker contract of spec.md §6, which documents
// only the steady-state /execute and /health paths; grounded on
// original_source/controller/src/runtime.rs's separate compile round-trip
// ahead of every execute for that family.
type compileRequest struct {
	ScriptContent  string          `json:"script_content"`
	CompileOptions json.RawMessage `json:"compile_options,omitempty"`
}

type compileResponse struct {
	Artifact []byte `json:"artifact"`
}

// Compile builds the artifact for a runtime requiring pre-compilation. It
// is the Builder the Artifact Cache runs under single-flight coordination
// (session.BuilderFactory); it does not go through the breaker/retry path
// since a compile failure is terminal for that single attempt (I5,
// COMPILE_FAILED), not something to retry transparently.
func (c *Client) Compile(ctx context.Context, baseURL, scriptContent string, compileOptions json.RawMessage) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.policy.OuterTimeout)
	defer cancel()

	body, err := json.Marshal(compileRequest{ScriptContent: scriptContent, CompileOptions: compileOptions})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal compile request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build compile request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "compile transport failure", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeWorkerError(bodyBytes, resp.StatusCode)
	}

	var out compileResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode compile response", err)
	}
	return out.Artifact, nil
}

// Health pings GET /health on baseURL.
func (c *Client) Health(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Str("component", "runtimeclient").Str("base_url", baseURL).Err(err).Msg("health check failed")
		return "down", nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "degraded", nil
	}
	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Status == "" {
		body.Status = "ok"
	}
	return body.Status, nil
}
