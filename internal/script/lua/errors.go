package lua

import "errors"

// Errors for Lua handlers.
var (
	// ErrExecutionTimeout is returned when a call is interrupted by its
	// context.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNotAFunction is returned when an annotated global is not a function.
	ErrNotAFunction = errors.New("annotated global is not a function")
)
