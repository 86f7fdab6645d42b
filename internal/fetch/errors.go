package fetch

import (
	"errors"
	"fmt"

	"github.com/roach88/rshare/internal/resource"
)

// ErrClosed is returned by loads started after the coordinator was closed.
var ErrClosed = errors.New("coordinator closed")

// TransientFetchError is a single failed network attempt: a transport failure
// (Status 0) or a non-2xx response. The coordinator retries it.
type TransientFetchError struct {
	Locator string
	Status  int
	Err     error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.Locator, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Locator, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// LoadExhaustedError is returned once every attempt for a key has failed.
// Err is the last attempt's failure.
type LoadExhaustedError struct {
	Key      resource.Key
	Attempts int
	Err      error
}

func (e *LoadExhaustedError) Error() string {
	return fmt.Sprintf("load %s failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *LoadExhaustedError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// IsExhausted reports whether err is (or wraps) a LoadExhaustedError.
func IsExhausted(err error) bool {
	var le *LoadExhaustedError
	return errors.As(err, &le)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *TransientFetchError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
