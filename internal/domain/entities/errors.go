package entities

import (
	"errors"
	"fmt"
)

// ConfigurationError is a deployment mistake: an unresolved template slot, a
// missing knowledge layer, a broken precedence order. Validated at startup.
type ConfigurationError struct {
	Op     string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Op, e.Detail)
}

// ValidationError rejects a request before any compile or dispatch work.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// FailureKind classifies a CompletionFailure.
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable"
	FailureMalformed   FailureKind = "malformed"
	FailureTimeout     FailureKind = "timeout"
	FailureCanceled    FailureKind = "canceled"
)

// UnreachableMessage is recorded as the error turn when the backend fails.
const UnreachableMessage = "The expert engine is unreachable right now. No answer was generated for this message; please try again shortly."

// CompletionFailure is the only error the completion path produces.
type CompletionFailure struct {
	Department string
	Kind       FailureKind
	Err        error
}

func (e *CompletionFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion %s for %s", e.Kind, e.Department)
	}
	return fmt.Sprintf("completion %s for %s: %v", e.Kind, e.Department, e.Err)
}

func (e *CompletionFailure) Unwrap() error { return e.Err }

// UserMessage is the department-scoped text shown in the chat.
func (e *CompletionFailure) UserMessage() string {
	if e.Kind == FailureTimeout {
		return fmt.Sprintf("The %s expert engine did not answer in time. Please try again.", e.Department)
	}
	return fmt.Sprintf("The %s expert engine is unreachable right now. Please try again.", e.Department)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsCompletionFailure extracts a CompletionFailure from err.
func AsCompletionFailure(err error) (*CompletionFailure, bool) {
	var cf *CompletionFailure
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}
