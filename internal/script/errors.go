package script

import (
	"errors"
	"fmt"
)

// Errors for script programs.
var (
	// ErrProgramClosed is returned when calling into a closed program.
	ErrProgramClosed = errors.New("script program is closed")

	// ErrFunctionNotFound is returned when a unit has no such entry point.
	ErrFunctionNotFound = errors.New("handler function not found")

	// ErrUnsupportedFile is returned for files no engine can compile.
	ErrUnsupportedFile = errors.New("unsupported script file")
)

// CompileError reports a script that failed to compile or declares invalid
// handlers.
type CompileError struct {
	// Path is the script file.
	Path string

	// Line is the 1-based source line, or 0 when unknown.
	Line int

	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("compile %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// RuntimeError wraps an error raised while a script handler ran.
type RuntimeError struct {
	// Path is the script file.
	Path string

	// Function is the handler entry point.
	Function string

	Err error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Function, e.Err)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}
