package dispatch

import (
	"context"
	"time"
)

// Task is one unit of work: a handler call bound to its event.
type Task func(ctx context.Context) error

// Result represents the outcome of a task execution.
type Result struct {
	// Error is the error returned by the task, if any.
	Error error

	// Panicked is true if the task panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// TimedOut is true if the task was abandoned after its timeout. The
	// task may still be running; its eventual return is discarded.
	TimedOut bool

	// Duration is how long the task took, or how long the caller waited
	// for it.
	Duration time.Duration

	// Skipped is true if the task was not executed because the context was
	// already done.
	Skipped bool
}

// IsSuccess returns true if the task completed without error, panic or
// timeout.
func (r Result) IsSuccess() bool {
	return r.Error == nil && !r.Panicked && !r.TimedOut && !r.Skipped
}

// IsError returns true if the task returned an error.
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked && !r.TimedOut
}

// IsPanic returns true if the task panicked.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler is called when a task panics during execution.
type PanicHandler func(panicValue any, stack []byte)

func defaultPanicHandler(any, []byte) {}
