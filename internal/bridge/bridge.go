package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/event/dispatch"
)

// Defaults for a Bridge.
const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 1

	// unhealthyAfter is the number of consecutive send failures after which
	// the bridge reports unhealthy.
	unhealthyAfter = 5
)

// Stats contains bridge counters.
type Stats struct {
	Sent       uint64
	Dropped    uint64
	Failed     uint64
	QueueDepth int
}

// Bridge is an event.Observer forwarding outcomes to a Sink.
type Bridge struct {
	sink    Sink
	pool    *dispatch.WorkerPool
	filters []event.EventFilter
	logger  zerolog.Logger

	sent        atomic.Uint64
	dropped     atomic.Uint64
	failed      atomic.Uint64
	consecutive atomic.Int64
	connected   atomic.Bool

	mu      sync.Mutex
	lastErr error
}

type config struct {
	queueSize int
	workers   int
	types     []string
	logger    zerolog.Logger
}

// Option configures a Bridge.
type Option func(*config)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithWorkers sets the number of sender goroutines.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithTypes forwards only events whose type matches one of patterns.
func WithTypes(patterns ...string) Option {
	return func(c *config) {
		c.types = patterns
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates a bridge sending to sink. Call Start before use.
func New(sink Sink, opts ...Option) *Bridge {
	cfg := config{
		queueSize: DefaultQueueSize,
		workers:   DefaultWorkers,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bridge{
		sink:   sink,
		logger: cfg.logger.With().Str("component", "bridge").Logger(),
	}
	for _, p := range cfg.types {
		b.filters = append(b.filters, event.ForType(p))
	}
	b.pool = dispatch.NewWorkerPool(
		dispatch.WithQueueSize(cfg.queueSize),
		dispatch.WithWorkerCount(cfg.workers),
		dispatch.WithPoolPanicHandler(func(v any, stack []byte) {
			b.logger.Error().Interface("panic", v).Bytes("stack", stack).Msg("sink panicked")
		}),
	)
	return b
}

// Start starts the sender goroutines.
func (b *Bridge) Start() error {
	return b.pool.Start()
}

// Stop drains the queue and stops the senders.
func (b *Bridge) Stop(ctx context.Context) error {
	return b.pool.Stop(ctx)
}

// Observe implements event.Observer. It never blocks.
func (b *Bridge) Observe(ctx context.Context, o event.Outcome) {
	if !b.forwards(o.Event) {
		return
	}

	data, err := json.Marshal(Project(o))
	if err != nil {
		b.failed.Add(1)
		b.logger.Error().Err(err).Str("event", o.Event.String()).Msg("project outcome")
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	err = b.pool.Submit(sendCtx, func(ctx context.Context) error {
		return b.send(ctx, data)
	})
	if err != nil {
		b.dropped.Add(1)
		if errors.Is(err, dispatch.ErrQueueFull) {
			b.logger.Warn().Str("event", o.Event.String()).Msg("bridge queue full; dropping event")
		} else {
			b.logger.Debug().Err(err).Msg("bridge not running; dropping event")
		}
	}
}

func (b *Bridge) forwards(e event.Event) bool {
	if len(b.filters) == 0 {
		return true
	}
	return slices.ContainsFunc(b.filters, func(f event.EventFilter) bool {
		return f.MatchesEvent(e)
	})
}

func (b *Bridge) send(ctx context.Context, data []byte) error {
	err := b.sink.Send(ctx, data)
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	if err != nil {
		b.failed.Add(1)
		b.consecutive.Add(1)
		b.connected.Store(false)
		b.logger.Warn().Err(err).Msg("bridge send failed")
		return err
	}
	b.sent.Add(1)
	b.consecutive.Store(0)
	b.connected.Store(true)
	return nil
}

// Connected reports whether the most recent send succeeded.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Healthy reports whether the bridge is running and the sink has not
// failed repeatedly.
func (b *Bridge) Healthy() bool {
	return b.pool.IsRunning() && b.consecutive.Load() < unhealthyAfter
}

// LastError returns the error of the most recent send, if any.
func (b *Bridge) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Sent:       b.sent.Load(),
		Dropped:    b.dropped.Load(),
		Failed:     b.failed.Load(),
		QueueDepth: b.pool.QueueDepth(),
	}
}

var _ event.Observer = (*Bridge)(nil)
