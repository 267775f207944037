// Package dispatch implements the Dispatch Engine (C7): the request
// pipeline that parses, resolves a session, resolves a runtime, invokes
// it, and records the outcome (spec.md §4.7). It is the orchestrator
// wiring together the Session Manager, Runtime Registry, Runtime Client,
// Function Catalog, and Execution Logger — grounded on the teacher's
// runner.Runner.executeInternal, which plays the same orchestrating role
// for a single sandboxed execution (resolve backend, run with timeout,
// record metrics/audit, classify the error into a stable taxonomy).
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"functionctl/internal/apperr"
	"functionctl/internal/catalog"
	"functionctl/internal/monitor"
	"functionctl/internal/registry"
	"functionctl/internal/runtimeclient"
	"functionctl/internal/session"
	"functionctl/internal/storage"
)

// InitializeResult is the response shape spec.md §6 assigns to
// POST /initialize.
type InitializeResult struct {
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExecuteResult is the success response shape spec.md §6 assigns to
// POST /execute/{request_id}.
type ExecuteResult struct {
	RequestID       string          `json:"request_id"`
	LanguageTitle   string          `json:"language_title"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	Cached          bool            `json:"cached"`
	Result          json.RawMessage `json:"result"`
}

// Engine is the Dispatch Engine. It holds no back-reference to the HTTP
// layer (spec.md §9's "cyclic dependencies" re-architecture note) — it is
// driven by the HTTP Surface and returns plain values.
type Engine struct {
	sessions *session.Manager
	registry *registry.Registry
	runtime  *runtimeclient.Client
	catalog  *catalog.Catalog
	logger   *storage.ExecutionLogger
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
}

// New constructs a Dispatch Engine from its already-wired collaborators.
// catalog may be nil (script_content fallback then always fails validation).
func New(sessions *session.Manager, reg *registry.Registry, runtime *runtimeclient.Client, cat *catalog.Catalog, logger *storage.ExecutionLogger, metrics *monitor.Metrics, tracer *monitor.Tracer) *Engine {
	return &Engine{
		sessions: sessions,
		registry: reg,
		runtime:  runtime,
		catalog:  cat,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Initialize implements spec.md §4.7's Initialize entry point.
func (e *Engine) Initialize(ctx context.Context, languageTitle, userID, scriptContent string, compileOptions, reqContext json.RawMessage) (*InitializeResult, error) {
	ctx, span := e.tracer.StartSpan(ctx, "initialize", monitor.AttrLanguage.String(languageTitle))
	defer span.End()

	if languageTitle == "" {
		return nil, apperr.New(apperr.InvalidRequest, "Language-Title header is required")
	}

	if scriptContent == "" {
		fallback, err := e.scriptFromCatalog(ctx, languageTitle)
		if err != nil {
			return nil, err
		}
		scriptContent = fallback
	}
	if scriptContent == "" {
		return nil, apperr.New(apperr.InvalidRequest, "script_content is required and no catalog fallback exists")
	}

	if _, err := e.registry.Resolve(languageTitle); err != nil {
		if errors.Is(err, registry.ErrUnknownRuntime) {
			return nil, apperr.New(apperr.UnknownRuntime, "no runtime registered for "+languageTitle)
		}
		return nil, apperr.Wrap(apperr.Internal, "runtime registry lookup failed", err)
	}

	e.metrics.ScriptSizeBytes.Observe(float64(len(scriptContent)))

	sess, err := e.sessions.Create(ctx, languageTitle, userID, scriptContent, compileOptions, reqContext)
	if err != nil {
		return nil, err
	}

	e.metrics.SessionsCreatedTotal.WithLabelValues(languageTitle).Inc()

	return &InitializeResult{
		RequestID: sess.RequestID,
		Status:    "initialized",
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Execute implements spec.md §4.7's Execute entry point.
func (e *Engine) Execute(ctx context.Context, requestID string, params json.RawMessage) (*ExecuteResult, error) {
	ctx, span := e.tracer.StartSpan(ctx, "execute", monitor.AttrRequestID.String(requestID))
	defer span.End()

	sess, err := e.sessions.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(monitor.AttrLanguage.String(sess.LanguageTitle))

	endpoint, err := e.registry.Resolve(sess.LanguageTitle)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownRuntime) {
			return nil, apperr.New(apperr.UnknownRuntime, "no runtime registered for "+sess.LanguageTitle)
		}
		return nil, apperr.Wrap(apperr.Internal, "runtime registry lookup failed", err)
	}

	scriptOrArtifact := sess.ScriptContent
	if endpoint.RequiresCompile {
		compileStart := time.Now()
		artifact, err := e.sessions.EnsureArtifact(ctx, sess)
		if err != nil {
			e.recordFailure(ctx, sess, endpoint, params, compileStart, err)
			return nil, err
		}
		scriptOrArtifact = string(artifact)
	}

	family := familyOf(endpoint, sess.LanguageTitle)
	start := time.Now()
	resp, err := e.runtime.Execute(ctx, family, endpoint.FunctionGateway, endpoint.BaseURL, runtimeclient.ExecuteRequest{
		RequestID:     requestID,
		Params:        params,
		Context:       sess.Context,
		ScriptContent: scriptOrArtifact,
	})
	duration := time.Since(start)

	if err != nil {
		e.registry.RecordFailure(family, time.Now())
		e.recordFailure(ctx, sess, endpoint, params, start, err)
		e.metrics.RecordExecution(sess.LanguageTitle, "error", duration.Seconds())
		e.metrics.RecordError(string(apperr.CodeOf(err)))
		return nil, err
	}

	e.registry.RecordSuccess(family)

	if err := e.sessions.RecordExecution(ctx, requestID); err != nil {
		log.Error().Err(err).Str("component", "dispatch").Str("request_id", requestID).Msg("record_execution failed after successful runtime call")
	}

	e.metrics.RecordExecution(sess.LanguageTitle, "success", duration.Seconds())
	e.metrics.ResultSizeBytes.Observe(float64(len(resp.Result)))

	if e.logger != nil {
		e.logger.Log(&storage.ExecutionRecord{
			RequestID:       requestID,
			LanguageTitle:   sess.LanguageTitle,
			ParamsPayload:   params,
			ResponsePayload: resp.Result,
			StatusCode:      200,
			DurationMS:      duration.Milliseconds(),
			CreatedAt:       start,
		}, nil)
	}

	return &ExecuteResult{
		RequestID:       requestID,
		LanguageTitle:   sess.LanguageTitle,
		ExecutionTimeMS: duration.Milliseconds(),
		Cached:          false,
		Result:          resp.Result,
	}, nil
}

// StateQuery implements spec.md §4.7's State-query entry point: a
// read-only projection that never extends expiry (L2).
func (e *Engine) StateQuery(ctx context.Context, requestID string) (*session.StateView, error) {
	ctx, span := e.tracer.StartSpan(ctx, "state_query", monitor.AttrRequestID.String(requestID))
	defer span.End()

	sess, err := e.sessions.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	view := sess.View()
	return &view, nil
}

func (e *Engine) scriptFromCatalog(ctx context.Context, languageTitle string) (string, error) {
	if e.catalog == nil {
		return "", nil
	}
	content, err := e.catalog.ScriptContent(ctx, languageTitle)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return "", nil
		}
		return "", apperr.Wrap(apperr.UpstreamUnavailable, "catalog lookup failed", err)
	}
	return content, nil
}

func (e *Engine) recordFailure(ctx context.Context, sess *session.Session, endpoint *registry.Endpoint, params json.RawMessage, start time.Time, cause error) {
	if e.logger == nil {
		return
	}
	code := apperr.CodeOf(cause)
	details, _ := json.Marshal(map[string]string{"message": cause.Error()})

	e.logger.Log(
		&storage.ExecutionRecord{
			RequestID:     sess.RequestID,
			LanguageTitle: sess.LanguageTitle,
			ParamsPayload: params,
			StatusCode:    apperr.StatusOf(cause),
			DurationMS:    time.Since(start).Milliseconds(),
			ErrorDetails:  details,
			CreatedAt:     start,
		},
		&storage.ErrorRecord{
			RequestLogID: sess.RequestID,
			ErrorCode:    string(code),
			ErrorMessage: cause.Error(),
			CreatedAt:    start,
		},
	)
}

// familyOf returns the circuit-breaker/registry key for an endpoint: its
// own family name when set, otherwise the language_title's prefix.
func familyOf(endpoint *registry.Endpoint, languageTitle string) string {
	if endpoint.Language != "" {
		return endpoint.Language
	}
	if i := strings.IndexByte(languageTitle, '-'); i >= 0 {
		return languageTitle[:i]
	}
	return languageTitle
}
