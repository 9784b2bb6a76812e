package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Executor handles the actual execution of tasks with panic recovery and
// timing.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		if h != nil {
			e.panicHandler = h
		}
	}
}

// Execute runs a task in the caller's goroutine. It recovers from panics and
// captures timing information.
func (e *Executor) Execute(ctx context.Context, task Task) (result Result) {
	select {
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Skipped: true}
	default:
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Error = nil
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			// Don't let the panic handler crash the process.
			func() {
				defer func() { _ = recover() }()
				e.panicHandler(r, stack)
			}()
		}
	}()

	result.Error = task(ctx)
	return result
}

// ExecuteWithTimeout runs a task with a deadline.
//
// The task runs on its own goroutine with a context that expires after
// timeout. If it has not returned by then the caller gets a TimedOut result
// immediately and the task is abandoned: it keeps running until it notices
// the cancelled context, and whatever it returns is discarded. Callers must
// not read state written by the task unless the result is not TimedOut.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, task Task, timeout time.Duration) Result {
	if timeout <= 0 {
		return e.Execute(ctx, task)
	}

	select {
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Skipped: true}
	default:
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		done <- e.Execute(tctx, task)
	}()

	select {
	case r := <-done:
		if r.Error != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			r.TimedOut = true
			r.Error = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return r
	case <-tctx.Done():
		r := Result{Duration: time.Since(start)}
		if ctx.Err() != nil {
			r.Error = ctx.Err()
			return r
		}
		r.TimedOut = true
		r.Error = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		return r
	}
}
