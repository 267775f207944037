package storage

import (
	"encoding/json"
	"time"
)

// ExecutionRecord is the append-only record of one execution attempt
// (spec.md §3). Write-once: no mutation path exists.
type ExecutionRecord struct {
	RequestID       string          `json:"request_id" db:"request_id"`
	LanguageTitle   string          `json:"language_title" db:"language_title"`
	ParamsPayload   json.RawMessage `json:"params_payload" db:"params_payload"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty" db:"response_payload"`
	StatusCode      int             `json:"status_code" db:"status_code"`
	DurationMS      int64           `json:"duration_ms" db:"duration_ms"`
	RuntimeMetrics  json.RawMessage `json:"runtime_metrics,omitempty" db:"runtime_metrics"`
	ErrorDetails    json.RawMessage `json:"error_details,omitempty" db:"error_details"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// ErrorRecord is created for every non-2xx terminal outcome (spec.md §3).
type ErrorRecord struct {
	RequestLogID string          `json:"request_log_id" db:"request_log_id"`
	ErrorCode    string          `json:"error_code" db:"error_code"`
	ErrorMessage string          `json:"error_message" db:"error_message"`
	StackTrace   string          `json:"stack_trace,omitempty" db:"stack_trace"`
	Context      json.RawMessage `json:"context,omitempty" db:"context"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ExecutionFilter narrows ListExecutions-style catalog/log queries.
type ExecutionFilter struct {
	LanguageTitle string
	Since         *time.Time
	Until         *time.Time
	Limit         int
	Offset        int
}
