package page

import (
	"errors"
	"fmt"
)

// ScriptError is an exception thrown by evaluated code.
type ScriptError struct {
	// Name is the error constructor name, e.g. "TypeError".
	Name    string
	Message string
	Source  string
}

func (e *ScriptError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Name, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// LoadError means an external script could not be loaded.
type LoadError struct {
	Src string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load script %s: %v", e.Src, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsScriptError reports whether err is (or wraps) a ScriptError.
func IsScriptError(err error) bool {
	var se *ScriptError
	return errors.As(err, &se)
}

// IsLoadError reports whether err is (or wraps) a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
