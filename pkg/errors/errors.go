// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the runner.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies runner errors for reporting and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeTransport indicates a network-level failure (connection refused,
	// DNS resolution, broken pipe).
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// CodeAuthMissing indicates a skill's auth_ref environment variable was
	// unset or empty. This is a configuration error, not a network error.
	CodeAuthMissing ErrorCode = "AUTH_MISSING"

	// CodeNonSuccessStatus indicates an HTTP 4xx/5xx response from a skill
	// endpoint.
	CodeNonSuccessStatus ErrorCode = "NON_SUCCESS_STATUS"

	// CodeOutputSchemaMismatch indicates a skill produced output that does
	// not validate against its declared output schema.
	CodeOutputSchemaMismatch ErrorCode = "OUTPUT_SCHEMA_MISMATCH"

	// CodeExecutableFailure indicates a code-mode skill exited non-zero or
	// produced malformed output.
	CodeExecutableFailure ErrorCode = "EXECUTABLE_FAILURE"

	// CodeHandlerNotFound indicates no handler accepted an inbound event.
	// Expected cross-role broadcast noise; logged and dropped.
	CodeHandlerNotFound ErrorCode = "HANDLER_NOT_FOUND"

	// CodeConnectionFailure indicates the orchestrator session was lost.
	// Triggers reconnect, never fatal.
	CodeConnectionFailure ErrorCode = "CONNECTION_FAILURE"

	// CodeRegistrationTimeout indicates registration was not acknowledged
	// within the bounded wait. Treated as a connection failure.
	CodeRegistrationTimeout ErrorCode = "REGISTRATION_TIMEOUT"

	// CodeConfig indicates an invalid or missing configuration value.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeFatalStartup indicates the process cannot form a valid identity
	// and must terminate.
	CodeFatalStartup ErrorCode = "FATAL_STARTUP"
)

// RunnerError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type RunnerError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *RunnerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *RunnerError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured report payloads.
func (e *RunnerError) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"code":        string(e.Code),
		"message":     e.Message,
		"recoverable": e.Recoverable,
	}
	if e.Err != nil {
		out["error"] = e.Err.Error()
	}
	if len(e.Context) > 0 {
		out["context"] = e.Context
	}
	return json.Marshal(out)
}

// New creates a new RunnerError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *RunnerError {
	return &RunnerError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *RunnerError) WithContext(key string, value any) *RunnerError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *RunnerError) WithRecoverable(recoverable bool) *RunnerError {
	e.Recoverable = recoverable
	return e
}

// AsRunnerError attempts to convert an error to a RunnerError.
// Returns the error as RunnerError if it is one, or wraps it otherwise.
func AsRunnerError(err error) *RunnerError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RunnerError); ok {
		return re
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf extracts the ErrorCode of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if re, ok := err.(*RunnerError); ok {
		return re.Code
	}
	return CodeInternal
}
