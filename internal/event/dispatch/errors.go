package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	// ErrAlreadyRunning is returned when Start is called on a running pool.
	ErrAlreadyRunning = errors.New("worker pool is already running")

	// ErrNotRunning is returned when work is handed to a stopped pool.
	ErrNotRunning = errors.New("worker pool is not running")

	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")

	// ErrTimeout is returned when a task exceeds its timeout.
	ErrTimeout = errors.New("task timeout exceeded")

	// ErrTaskPanic is returned by Do when the task panicked on a worker.
	ErrTaskPanic = errors.New("task panicked")
)
