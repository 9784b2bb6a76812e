// Package dispatch runs handler calls for the reactor.
//
// # Executor
//
// Executor runs one Task with panic recovery and timing. ExecuteWithTimeout
// additionally runs the task on its own goroutine and stops waiting once the
// timeout expires, so a handler that ignores its context cannot stall a
// dispatch.
//
// # Worker Pool
//
// WorkerPool owns a fixed set of goroutines. Script handlers are executed
// through it so the number of interpreters running at once stays bounded:
//
//	pool := dispatch.NewWorkerPool(dispatch.WithWorkerCount(4))
//	if err := pool.Start(); err != nil {
//	    return err
//	}
//	defer pool.Stop(context.Background())
//
//	err := pool.Do(ctx, func(ctx context.Context) error {
//	    return runScript(ctx)
//	})
//
// Do waits for the task; Submit queues it and returns immediately, failing
// with ErrQueueFull when the queue is at capacity.
//
// # Panic Recovery
//
// Panics never escape a task. Execute reports them in Result; the pool
// returns them from Do as errors wrapping ErrTaskPanic.
package dispatch
