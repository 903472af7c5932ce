// Package toolerrors provides structured error types for tool invocation and
// dispatch failures, preserving error chains and a stable Kind so callers can
// map failures onto the wire-level outcomes the middleware and agent loop
// surface (tool_error, validation_error, aborted, resource_read_error).
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a ToolError for callers that need to branch on outcome
// without string-matching messages.
type Kind string

const (
	// KindTool marks an ordinary tool execution failure, surfaced to the
	// model as a tool result with is_error=true.
	KindTool Kind = "tool_error"
	// KindValidation marks malformed arguments rejected at the boundary,
	// before the call ever reaches policy evaluation.
	KindValidation Kind = "validation_error"
	// KindAborted marks a result synthesized for a tool call that never
	// dispatched because the run's abort latch tripped.
	KindAborted Kind = "aborted"
	// KindResourceRead marks a failed re-read during subscription fan-out.
	KindResourceRead Kind = "resource_read_error"
)

// ToolError represents a structured failure that preserves message and
// causal context while still implementing the standard error interface.
// Errors may be nested via Cause to retain diagnostics across retries.
type ToolError struct {
	// Kind classifies the failure for callers branching on outcome.
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error, enabling error chains with
	// errors.Is/As.
	Cause *ToolError
}

// New constructs a ToolError with the given kind and message.
func New(kind Kind, message string) *ToolError {
	if message == "" {
		message = string(kind)
	}
	return &ToolError{Kind: kind, Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error. The
// cause is converted into a ToolError chain so metadata survives
// serialization while still supporting errors.Is/As through Unwrap.
func NewWithCause(kind Kind, message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain, defaulting
// to KindTool when the error carries no more specific classification.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Kind: KindTool, Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns a ToolError of
// the given kind.
func Errorf(kind Kind, format string, args ...any) *ToolError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Aborted constructs the synthesized result for a tool call that never
// dispatched because the run's abort latch tripped.
func Aborted(callID string) *ToolError {
	return New(KindAborted, fmt.Sprintf("tool call %s aborted", callID))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target shares this error's Kind, so callers can do
// errors.Is(err, toolerrors.New(toolerrors.KindAborted, "")) as a kind test.
func (e *ToolError) Is(target error) bool {
	var te *ToolError
	if !errors.As(target, &te) || te == nil {
		return false
	}
	return e.Kind == te.Kind
}
