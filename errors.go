package invoiceflow

import (
	"errors"
	"fmt"
)

// Error kinds for classification and matching.
const (
	// KindTransient marks a retryable step failure. Transient errors are
	// contained within the retry controller and only surface wrapped as a
	// budget-exhausted fatal error.
	KindTransient = "transient"

	// KindFatal marks a step failure that must not be retried. The thread
	// moves to FAILED.
	KindFatal = "fatal"

	// KindConflict marks an operation that is invalid for the thread's
	// current state: stale resume, double decision, terminal thread, or a
	// busy execution lease.
	KindConflict = "conflict"

	// KindValidation marks malformed input rejected before touching any
	// thread state.
	KindValidation = "validation"

	// KindNotFound marks an unknown thread identifier.
	KindNotFound = "not_found"
)

// Error is a structured error with classification. It supports Go's error
// wrapping patterns with Unwrap().
type Error struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
	Wrapped  error  `json:"-"`
}

func (e *Error) Error() string {
	if e.ThreadID != "" {
		return fmt.Sprintf("%s: %s (thread %s)", e.Kind, e.Message, e.ThreadID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewTransientError creates a retryable step error.
func NewTransientError(message string) *Error {
	return &Error{Kind: KindTransient, Message: message}
}

// NewFatalError creates a non-retryable step error.
func NewFatalError(message string) *Error {
	return &Error{Kind: KindFatal, Message: message}
}

// NewConflictError creates an invalid-for-current-state error.
func NewConflictError(threadID, message string) *Error {
	return &Error{Kind: KindConflict, Message: message, ThreadID: threadID}
}

// NewValidationError creates a malformed-input error.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewNotFoundError creates an unknown-thread error.
func NewNotFoundError(threadID string) *Error {
	return &Error{Kind: KindNotFound, Message: "thread not found", ThreadID: threadID}
}

// ClassifyError classifies an arbitrary error. Unknown errors default to
// transient so that retries apply by default; errors that must not be
// retried should be created with NewFatalError.
func ClassifyError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindTransient, Message: err.Error(), Wrapped: err}
}

// ErrorKind returns the classified kind of an error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	return ClassifyError(err).Kind
}

// IsConflict reports whether the error is a state conflict.
func IsConflict(err error) bool {
	return ErrorKind(err) == KindConflict
}

// IsValidation reports whether the error is an input validation failure.
func IsValidation(err error) bool {
	return ErrorKind(err) == KindValidation
}

// IsNotFound reports whether the error is an unknown thread identifier.
func IsNotFound(err error) bool {
	return ErrorKind(err) == KindNotFound
}

// IsFatal reports whether the error must not be retried.
func IsFatal(err error) bool {
	return ErrorKind(err) == KindFatal
}
