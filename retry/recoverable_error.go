package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// RecoverableError lets an error state explicitly whether it can be
// retried. Step failures and capability errors in this codebase implement
// it; anything else falls back to type heuristics.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable checks if an error can be retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

// isRecoverableByType applies heuristics for errors that don't classify
// themselves. Timeouts and flaky network failures retry; cancellation is
// intentional and does not.
func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Temporary() || netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporarily unavailable",
		"rate limit",
		"service unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string       { return e.err.Error() }
func (e *recoverableError) IsRecoverable() bool { return true }
func (e *recoverableError) Unwrap() error       { return e.err }

// NewRecoverableError marks an error as safe to retry.
func NewRecoverableError(err error) *recoverableError {
	return &recoverableError{err: err}
}

// NonRecoverableError marks an error that must not be retried.
type NonRecoverableError struct {
	err error
}

func (e *NonRecoverableError) Error() string       { return e.err.Error() }
func (e *NonRecoverableError) IsRecoverable() bool { return false }
func (e *NonRecoverableError) Unwrap() error       { return e.err }

// NewNonRecoverableError marks an error as terminal.
func NewNonRecoverableError(err error) *NonRecoverableError {
	return &NonRecoverableError{err: err}
}
