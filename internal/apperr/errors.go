// Package apperr defines the error taxonomy shared by every component of
// the controller. Components return sentinel or wrapped errors from this
// package; the Dispatch Engine and HTTP Surface are the only places that
// translate them into status codes and wire payloads.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one taxonomy kind.
type Code string

const (
	InvalidRequest      Code = "INVALID_REQUEST"
	UnknownRuntime      Code = "UNKNOWN_RUNTIME"
	SessionNotFound     Code = "SESSION_NOT_FOUND"
	FunctionNotFound    Code = "FUNCTION_NOT_FOUND"
	CompileFailed       Code = "COMPILE_FAILED"
	RuntimeError        Code = "RUNTIME_ERROR"
	Timeout             Code = "TIMEOUT"
	CircuitOpen         Code = "CIRCUIT_OPEN"
	UpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	Internal            Code = "INTERNAL"
)

var httpStatus = map[Code]int{
	InvalidRequest:      http.StatusBadRequest,
	UnknownRuntime:      http.StatusNotFound,
	SessionNotFound:     http.StatusNotFound,
	FunctionNotFound:    http.StatusNotFound,
	CompileFailed:       http.StatusUnprocessableEntity,
	RuntimeError:        http.StatusFailedDependency,
	Timeout:             http.StatusRequestTimeout,
	CircuitOpen:         http.StatusServiceUnavailable,
	UpstreamUnavailable: http.StatusServiceUnavailable,
	Internal:            http.StatusInternalServerError,
}

// Error is a taxonomy-classified error carrying an optional details payload.
type Error struct {
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the HTTP Surface must respond with.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a taxonomy error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a taxonomy error wrapping an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetails attaches a details payload and returns the receiver for chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the taxonomy code from err, defaulting to Internal
// when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// StatusOf returns the HTTP status err should be reported with.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Sentinel errors returned by lower-level components before the Dispatch
// Engine wraps them with request-specific context. These mirror the
// teacher's sandbox.Err* sentinel style (errors.Is-comparable, no request
// context attached).
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUnavailable    = errors.New("unavailable")
	ErrUnknownRuntime = errors.New("unknown runtime")
	ErrCircuitOpen    = errors.New("circuit open")
	ErrTimeout        = errors.New("timeout")
	ErrCompileFailed  = errors.New("compile failed")
	ErrRuntimeFailed  = errors.New("runtime failed")
	ErrInvalidRequest = errors.New("invalid request")
)
