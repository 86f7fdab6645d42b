package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an engine misuse or wiring error.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	// Context names the engine that failed.
	Context string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoPage indicates the engine was built without a page.
	ErrCodeNoPage RuntimeErrorCode = "NO_PAGE"

	// ErrCodeAlreadyRunning indicates Run was called twice.
	ErrCodeAlreadyRunning RuntimeErrorCode = "ALREADY_RUNNING"
)

func (e *RuntimeError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (context=%s)", e.Code, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRuntimeError reports whether err is a RuntimeError with the given code.
func IsRuntimeError(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == code
}
