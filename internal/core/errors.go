package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions. The
// autopilot never panics for transient errors: it leaves the pending
// entry in place and retries next tick. Trace-fatal errors remove the
// pending entry and terminate the trace. System-fatal errors abort
// the process.
type ErrorCategory string

const (
	ErrCatTransient ErrorCategory = "transient" // retry next tick
	ErrCatTrace     ErrorCategory = "trace"     // trace is terminal-failed
	ErrCatSystem    ErrorCategory = "system"    // abort the autopilot
)

// DomainError represents a structured error from the autopilot core.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]any
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrTransient creates a retryable error: the pending action stays in
// the queue and the stage retries it on a later tick.
func ErrTransient(code, message string) *DomainError {
	return &DomainError{Category: ErrCatTransient, Code: code, Message: message}
}

// ErrTrace creates a trace-fatal error: the pending action is removed
// and the trace terminates failed. These require operator inspection.
func ErrTrace(code, message string) *DomainError {
	return &DomainError{Category: ErrCatTrace, Code: code, Message: message}
}

// ErrSystem creates a system-fatal error that aborts the autopilot.
func ErrSystem(code, message string) *DomainError {
	return &DomainError{Category: ErrCatSystem, Code: code, Message: message}
}

// IsTransient reports whether err should be retried next tick.
// Unclassified errors are treated as transient: subprocess and
// network failures arrive unwrapped.
func IsTransient(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category == ErrCatTransient
	}
	return true
}

// IsTraceFatal reports whether err terminates its trace.
func IsTraceFatal(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category == ErrCatTrace
	}
	return false
}

// IsSystemFatal reports whether err must abort the process.
func IsSystemFatal(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category == ErrCatSystem
	}
	return false
}

// Predefined error codes.
const (
	CodeIo             = "IO_ERROR"
	CodeParseFailed    = "PARSE_FAILED"
	CodeSpanMissing    = "SPAN_MISSING"
	CodeActionMissing  = "ACTION_MISSING"
	CodeMappingMissing = "MAPPING_MISSING"
	CodeTaskNotFound   = "TASK_NOT_FOUND"
	CodeResultPending  = "RESULT_PENDING"
	CodeCrossTraceDep  = "CROSS_TRACE_DEPENDENCY"
	CodeDataDir        = "DATA_DIR_UNAVAILABLE"
	CodeAgentFailed    = "AGENT_FAILED"
	CodeGitFailed      = "GIT_FAILED"
	CodeSandboxFailed  = "SANDBOX_FAILED"
)
