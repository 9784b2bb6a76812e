package daemon

import (
	"errors"
	"fmt"
)

// Daemon errors.
var (
	// ErrToolDenied is returned when a tool:before handler cancelled the call.
	ErrToolDenied = errors.New("tool call denied")

	// ErrUnknownTool indicates no tool is registered under the name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolExists indicates a tool is already registered under the name.
	ErrToolExists = errors.New("tool already registered")

	// ErrUnknownSession indicates the session id is not active.
	ErrUnknownSession = errors.New("unknown session")

	// ErrDataDirLocked indicates another daemon owns the data directory.
	ErrDataDirLocked = errors.New("data directory is locked by another process")
)

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error {
	return e.Err
}
