package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerPool owns a fixed set of goroutines that execute tasks handed to it.
//
// Do blocks the caller until a worker has run the task or the caller's
// context is done, so a caller can stop waiting for a hung task. Submit
// queues a task without waiting and fails fast when the queue is full.
type WorkerPool struct {
	// Configuration
	queueSize   int
	workerCount int

	// State
	mu      sync.RWMutex // protects queue creation/destruction
	queue   chan poolTask
	running atomic.Bool
	wg      sync.WaitGroup

	panicHandler PanicHandler

	// Stats
	enqueued    atomic.Uint64
	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	dropped     atomic.Uint64
	abandoned   atomic.Uint64
	totalTimeNs atomic.Int64
}

// poolTask is a task waiting for a worker. done is nil for submitted tasks.
type poolTask struct {
	ctx  context.Context
	task Task
	done chan error
}

// NewWorkerPool creates a new worker pool. Call Start before use.
func NewWorkerPool(opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		queueSize:    64,
		workerCount:  4,
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithQueueSize sets the task queue size.
func WithQueueSize(size int) PoolOption {
	return func(p *WorkerPool) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) PoolOption {
	return func(p *WorkerPool) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithPoolPanicHandler sets the panic handler for the pool's workers.
func WithPoolPanicHandler(h PanicHandler) PoolOption {
	return func(p *WorkerPool) {
		if h != nil {
			p.panicHandler = h
		}
	}
}

// Start starts the worker goroutines.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return ErrAlreadyRunning
	}

	p.queue = make(chan poolTask, p.queueSize)
	p.running.Store(true)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(p.queue)
	}

	return nil
}

// Stop stops the pool gracefully. Queued tasks still run; Stop waits for
// them or until ctx is done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return ErrNotRunning
	}

	p.running.Store(false)
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs task on a worker and waits for it. If ctx is done first, Do
// returns ctx.Err() and the task, if already started, is abandoned. A panic
// in the task is returned as an error wrapping ErrTaskPanic.
func (p *WorkerPool) Do(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, poolTask{ctx: ctx, task: task, done: done}, true); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.abandoned.Add(1)
		return ctx.Err()
	}
}

// Submit queues task without waiting for it. It returns ErrQueueFull when
// the queue is at capacity.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	return p.enqueue(ctx, poolTask{ctx: ctx, task: task}, false)
}

func (p *WorkerPool) enqueue(ctx context.Context, t poolTask, wait bool) error {
	// Stop cannot close the queue while a send holds the read lock. Workers
	// drain the queue without taking mu, so a blocked send always finishes.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrNotRunning
	}

	if !wait {
		select {
		case p.queue <- t:
			p.enqueued.Add(1)
			return nil
		default:
			p.dropped.Add(1)
			return ErrQueueFull
		}
	}

	select {
	case p.queue <- t:
		p.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker processes tasks from the queue.
func (p *WorkerPool) worker(queue <-chan poolTask) {
	defer p.wg.Done()

	executor := NewExecutor(WithExecutorPanicHandler(p.panicHandler))

	for t := range queue {
		err := p.run(executor, t)
		if t.done != nil {
			t.done <- err
		}
	}
}

func (p *WorkerPool) run(executor *Executor, t poolTask) error {
	p.processed.Add(1)
	start := time.Now()
	defer func() {
		p.totalTimeNs.Add(time.Since(start).Nanoseconds())
	}()

	result := executor.Execute(t.ctx, t.task)

	switch {
	case result.Skipped:
		p.failed.Add(1)
		return result.Error
	case result.Panicked:
		p.panicked.Add(1)
		return fmt.Errorf("%w: %v", ErrTaskPanic, result.PanicValue)
	case result.Error != nil:
		p.failed.Add(1)
		return result.Error
	default:
		p.succeeded.Add(1)
		return nil
	}
}

// QueueDepth returns the current number of tasks in the queue.
// Returns 0 if the pool is not running.
func (p *WorkerPool) QueueDepth() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return 0
	}
	return len(p.queue)
}

// Size returns the number of worker goroutines.
func (p *WorkerPool) Size() int {
	return p.workerCount
}

// IsRunning returns true if the pool is running.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	processed := p.processed.Load()
	totalNs := p.totalTimeNs.Load()

	var avgNs int64
	if processed > 0 {
		avgNs = totalNs / int64(processed)
	}

	return PoolStats{
		Enqueued:      p.enqueued.Load(),
		Processed:     processed,
		Succeeded:     p.succeeded.Load(),
		Failed:        p.failed.Load(),
		Panicked:      p.panicked.Load(),
		Dropped:       p.dropped.Load(),
		Abandoned:     p.abandoned.Load(),
		QueueDepth:    p.QueueDepth(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// PoolStats contains statistics for a worker pool.
type PoolStats struct {
	// Enqueued is the total number of tasks added to the queue.
	Enqueued uint64

	// Processed is the number of tasks that have been processed.
	Processed uint64

	// Succeeded is the number of tasks that returned nil.
	Succeeded uint64

	// Failed is the number of tasks that returned errors or were skipped.
	Failed uint64

	// Panicked is the number of tasks that panicked.
	Panicked uint64

	// Dropped is the number of submitted tasks rejected by a full queue.
	Dropped uint64

	// Abandoned is the number of Do calls whose caller stopped waiting.
	Abandoned uint64

	// QueueDepth is the current number of tasks waiting in the queue.
	QueueDepth int

	// TotalDuration is the cumulative time spent processing tasks.
	TotalDuration time.Duration

	// AvgDuration is the average task processing time.
	AvgDuration time.Duration
}
