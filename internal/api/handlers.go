package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"functionctl/internal/apperr"
	"functionctl/internal/catalog"
	"functionctl/internal/dispatch"
)

// Handlers binds the HTTP Surface's routes to the Dispatch Engine and
// Function Catalog, the same separation the teacher's Handlers struct
// keeps from its sandbox.Backend.
type Handlers struct {
	engine  *dispatch.Engine
	catalog *catalog.Catalog
}

func NewHandlers(engine *dispatch.Engine, cat *catalog.Catalog) *Handlers {
	return &Handlers{engine: engine, catalog: cat}
}

// HandleInitialize implements POST /api/v1/initialize (spec.md §6).
func (h *Handlers) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	languageTitle := r.Header.Get("Language-Title")

	var req InitializeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAppError(w, r, apperr.New(apperr.InvalidRequest, "invalid JSON body: "+err.Error()))
			return
		}
	}

	result, err := h.engine.Initialize(r.Context(), languageTitle, "", req.ScriptContent, req.CompileOptions, req.Context)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, InitializeResponse{
		RequestID: result.RequestID,
		Status:    result.Status,
		ExpiresAt: result.ExpiresAt,
	})
}

// HandleExecute implements POST /api/v1/execute/{request_id} (spec.md §6).
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	if requestID == "" {
		writeAppError(w, r, apperr.New(apperr.InvalidRequest, "request_id is required"))
		return
	}

	var req ExecuteRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAppError(w, r, apperr.New(apperr.InvalidRequest, "invalid JSON body: "+err.Error()))
			return
		}
	}

	result, err := h.engine.Execute(r.Context(), requestID, req.Params)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ExecuteResponseBody{
		RequestID:       result.RequestID,
		LanguageTitle:   result.LanguageTitle,
		ExecutionTimeMS: result.ExecutionTimeMS,
		Cached:          result.Cached,
		Result:          result.Result,
	})
}

// HandleGetSession implements GET /api/v1/sessions/{request_id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	if requestID == "" {
		writeAppError(w, r, apperr.New(apperr.InvalidRequest, "request_id is required"))
		return
	}

	view, err := h.engine.StateQuery(r.Context(), requestID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleListFunctions implements GET /api/v1/functions.
func (h *Handlers) HandleListFunctions(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeAppError(w, r, apperr.New(apperr.UpstreamUnavailable, "function catalog not configured"))
		return
	}

	page, perPage := 1, 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			perPage = n
		}
	}

	total, functions, err := h.catalog.List(r.Context(), page, perPage)
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.UpstreamUnavailable, "catalog list failed", err))
		return
	}

	writeJSON(w, http.StatusOK, FunctionListResponse{
		Total:     total,
		Page:      page,
		PerPage:   perPage,
		Functions: functions,
	})
}

// HandleGetFunction implements GET /api/v1/functions/{language_title}.
func (h *Handlers) HandleGetFunction(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeAppError(w, r, apperr.New(apperr.UpstreamUnavailable, "function catalog not configured"))
		return
	}

	languageTitle := r.PathValue("language_title")
	fn, err := h.catalog.Get(r.Context(), languageTitle)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeAppError(w, r, apperr.New(apperr.FunctionNotFound, "unknown function: "+languageTitle))
			return
		}
		writeAppError(w, r, apperr.Wrap(apperr.UpstreamUnavailable, "catalog lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// HandleHealth implements GET /health: liveness only, no dependency checks
// (spec.md §6: "200 {status:\"ok\"} when the process is up").
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeAppError translates a taxonomy error (spec.md §7) into the wire
// shape `{request_id?, error:{code, message, details?}}`.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Wrap(apperr.Internal, err.Error(), err)
	}

	resp := ErrorResponse{
		RequestID: RequestIDFromContext(r.Context()),
		Error: ErrorDetail{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		},
	}
	writeJSON(w, appErr.HTTPStatus(), resp)
}
