// Package aggregate provides a multi-error type used by teardown and drain
// paths that must never skip or silently discard a failure: every release
// or persistence attempt runs to completion and every failure is reported,
// rather than stopping at (or swallowing) the first one.
package aggregate

import "strings"

// Error collects every failure observed while completing a set of
// independent operations (cleanup releases, background persistence tasks).
// A nil *Error is never returned by New; callers get a plain nil error when
// there is nothing to report.
type Error struct {
	Failures []error
}

// New builds an aggregate error from the given failures. It returns nil if
// failures is empty, so callers can always do `return aggregate.New(fails)`
// without an extra guard.
func New(failures []error) error {
	clean := make([]error, 0, len(failures))
	for _, f := range failures {
		if f != nil {
			clean = append(clean, f)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return &Error{Failures: clean}
}

// Error implements the error interface, joining every failure's message.
func (e *Error) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return ""
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes the underlying failures so callers can use errors.Is/As
// against any of them.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.Failures
}

// Count returns the number of sub-errors carried by the aggregate, or 0 for
// a nil receiver.
func (e *Error) Count() int {
	if e == nil {
		return 0
	}
	return len(e.Failures)
}
