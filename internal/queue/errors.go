package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/rshare/internal/resource"
)

// ExecutionError is a declared resource that loaded but failed to execute.
type ExecutionError struct {
	Item resource.Key
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Item, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CriticalError stops loading for good. It is reported once and never retried.
type CriticalError struct {
	Err     error
	Locator string
	// Diagnosis is the classifier's plain-text report.
	Diagnosis string
}

func (e *CriticalError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("critical: %s: %v", e.Locator, e.Err)
	}
	return fmt.Sprintf("critical: %v", e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// IsCritical reports whether err is (or wraps) a CriticalError.
func IsCritical(err error) bool {
	var ce *CriticalError
	return errors.As(err, &ce)
}

type unrecoverable struct{ err error }

func (u unrecoverable) Error() string { return "Unrecoverable: " + u.err.Error() }
func (u unrecoverable) Unwrap() error { return u.err }

// Unrecoverable marks an execution error as critical instead of non-fatal.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverable{err: err}
}

// IsUnrecoverable reports whether err was marked with Unrecoverable or
// carries the "Unrecoverable" keyword in its message.
func IsUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	var u unrecoverable
	if errors.As(err, &u) {
		return true
	}
	return strings.Contains(err.Error(), "Unrecoverable")
}
