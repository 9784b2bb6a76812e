package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/quill/internal/bridge"
	"github.com/dshills/quill/internal/config"
	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/event/dispatch"
	"github.com/dshills/quill/internal/hook"
	"github.com/dshills/quill/internal/hook/watcher"
	"github.com/dshills/quill/internal/metrics"
	"github.com/dshills/quill/internal/script"
	"github.com/dshills/quill/internal/script/cue"
	"github.com/dshills/quill/internal/script/lua"
	"github.com/dshills/quill/internal/store"
	"github.com/dshills/quill/internal/tracing"
)

// Daemon owns every long-lived component.
type Daemon struct {
	cfg     config.Config
	opts    options
	logger  zerolog.Logger
	lock    *flock.Flock
	running atomic.Bool

	registry *event.Registry
	reactor  *event.Reactor
	pool     *dispatch.WorkerPool
	engines  []script.Engine
	hooks    *hook.Manager
	watcher  *watcher.Watcher
	notes    *store.Store
	bridge   *bridge.Bridge
	metrics  *metrics.Registry

	shutdownTracing tracing.ShutdownFunc

	toolsMu sync.RWMutex
	tools   map[string]Tool

	sessionsMu sync.Mutex
	sessions   map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger     zerolog.Logger
	version    string
	bridgeSink bridge.Sink
}

// Option configures a Daemon.
type Option func(*options)

// WithLogger sets the root logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithVersion sets the version reported in metrics and traces.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithBridgeSink sets where the plugin bridge delivers events. The default
// writes newline-delimited JSON to stdout.
func WithBridgeSink(sink bridge.Sink) Option {
	return func(o *options) {
		o.bridgeSink = sink
	}
}

// New builds and starts every component described by cfg. On error the
// components already started are closed.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Daemon, error) {
	o := options{logger: log.Logger, version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		cfg:      cfg,
		opts:     o,
		logger:   o.logger.With().Str("component", "daemon").Logger(),
		tools:    make(map[string]Tool),
		sessions: make(map[string]struct{}),
	}
	if err := d.bootstrap(ctx); err != nil {
		_ = d.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return d, nil
}

// bootstrap initializes components in dependency order.
func (d *Daemon) bootstrap(ctx context.Context) error {
	cfg := d.cfg
	logger := d.opts.logger

	// 1. Data directory, owned by one daemon at a time.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return &InitError{Component: "data dir", Err: err}
	}
	d.lock = flock.New(filepath.Join(cfg.DataDir, "quill.lock"))
	locked, err := d.lock.TryLock()
	if err != nil {
		return &InitError{Component: "data dir", Err: err}
	}
	if !locked {
		return &InitError{Component: "data dir", Err: fmt.Errorf("%w: %s", ErrDataDirLocked, cfg.DataDir)}
	}

	// 2. Telemetry.
	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.Endpoint = cfg.Tracing.Endpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tcfg.ServiceVersion = d.opts.version
	tp, shutdown, err := tracing.Setup(ctx, tcfg)
	if err != nil {
		return &InitError{Component: "tracing", Err: err}
	}
	d.shutdownTracing = shutdown

	reactorOpts := []event.ReactorOption{
		event.WithLogger(logger),
		event.WithHandlerTimeout(cfg.Dispatch.HandlerTimeout),
		event.WithTracerProvider(tp),
	}
	if cfg.Metrics.Enabled {
		d.metrics = metrics.NewRegistry()
		d.metrics.SetBuildInfo(d.opts.version, script.APIVersion)
		reactorOpts = append(reactorOpts, event.WithRecorder(d.metrics))
	}

	// 3. Reactor and built-in handlers.
	d.registry = event.NewRegistry()
	d.reactor = event.NewReactor(d.registry, reactorOpts...)
	if err := registerBuiltins(d.registry, logger); err != nil {
		return &InitError{Component: "builtins", Err: err}
	}

	// 4. Script worker pool. Zero workers runs scripts on the dispatching
	// goroutine.
	if cfg.Dispatch.Workers > 0 {
		d.pool = dispatch.NewWorkerPool(
			dispatch.WithWorkerCount(cfg.Dispatch.Workers),
			dispatch.WithPoolPanicHandler(func(v any, stack []byte) {
				d.logger.Error().Interface("panic", v).Bytes("stack", stack).Msg("script worker panicked")
			}),
		)
		if err := d.pool.Start(); err != nil {
			return &InitError{Component: "worker pool", Err: err}
		}
	}

	// 5. Hook scripts.
	d.engines = Engines(cfg, logger)
	hookOpts := []hook.Option{
		hook.WithEngines(d.engines...),
		hook.WithDirs(cfg.Hooks.Dirs...),
		hook.WithLogger(logger),
	}
	if d.pool != nil {
		hookOpts = append(hookOpts, hook.WithPool(d.pool))
	}
	d.hooks = hook.NewManager(d.registry, hookOpts...)
	if err := d.hooks.LoadAll(); err != nil {
		// Broken scripts are reported; the rest of the hooks stay loaded.
		d.logger.Error().Err(err).Msg("some hooks failed to load")
	}

	if cfg.Hooks.Watch && len(cfg.Hooks.Dirs) > 0 {
		d.watcher, err = watcher.New(d.hooks,
			watcher.WithDelay(cfg.Hooks.Debounce),
			watcher.WithLogger(logger),
		)
		if err != nil {
			return &InitError{Component: "hook watcher", Err: err}
		}
		for _, dir := range cfg.Hooks.Dirs {
			if err := d.watcher.Add(dir); err != nil {
				d.logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch hook directory")
			}
		}
	}

	// 6. Note store.
	d.notes, err = store.Open(filepath.Join(cfg.DataDir, "notes.db"), d.reactor, store.WithLogger(logger))
	if err != nil {
		return &InitError{Component: "note store", Err: err}
	}

	// 7. Plugin bridge.
	if cfg.Bridge.Enabled {
		sink := d.opts.bridgeSink
		if sink == nil {
			sink = bridge.NewWriterSink(os.Stdout)
		}
		d.bridge = bridge.New(sink,
			bridge.WithQueueSize(cfg.Bridge.QueueSize),
			bridge.WithWorkers(cfg.Bridge.Workers),
			bridge.WithTypes(cfg.Bridge.Types...),
			bridge.WithLogger(logger),
		)
		if err := d.bridge.Start(); err != nil {
			return &InitError{Component: "bridge", Err: err}
		}
		d.reactor.AddObserver(d.bridge)
	}

	// 8. Metrics collectors over the components above.
	if d.metrics != nil {
		d.metrics.WatchRegistry(d.registry)
		d.metrics.WatchReactor(d.reactor)
		if d.pool != nil {
			d.metrics.WatchPool("scripts", d.pool)
		}
		if d.bridge != nil {
			d.metrics.WatchBridge(d.bridge)
		}
	}

	d.logger.Info().
		Str("data_dir", cfg.DataDir).
		Strs("hook_dirs", cfg.Hooks.Dirs).
		Int("handlers", d.registry.Len()).
		Msg("daemon started")
	return nil
}

// Engines returns the script engines configured by cfg.
func Engines(cfg config.Config, logger zerolog.Logger) []script.Engine {
	return []script.Engine{
		lua.NewEngine(
			lua.WithLimits(lua.Limits{
				CallStackSize:   cfg.Lua.CallStackSize,
				RegistryMaxSize: cfg.Lua.RegistryMaxSize,
			}),
			lua.WithLogger(logger),
		),
		cue.NewEngine(),
	}
}

// Run serves until ctx is done: it drives the hook watcher and the metrics
// endpoint. Run does not close the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	if d.watcher != nil {
		g.Go(func() error {
			return d.watcher.Run(ctx)
		})
	}
	if d.metrics != nil {
		srv := metrics.NewServer(d.cfg.Metrics.Addr, d.metrics, d.opts.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// Close stops every component in reverse start order and releases the data
// directory. It is safe to call more than once.
func (d *Daemon) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.bridge != nil {
			if err := d.bridge.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop bridge: %w", err))
			}
		}
		if d.notes != nil {
			if err := d.notes.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close note store: %w", err))
			}
		}
		if d.hooks != nil {
			d.hooks.Close()
		}
		if d.pool != nil {
			if err := d.pool.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
			}
		}
		if d.registry != nil {
			d.registry.Close()
		}
		if d.shutdownTracing != nil {
			if err := d.shutdownTracing(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
			}
		}
		if d.lock != nil {
			if err := d.lock.Unlock(); err != nil {
				errs = append(errs, fmt.Errorf("unlock data dir: %w", err))
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Emit dispatches evt and returns the folded outcome.
func (d *Daemon) Emit(ctx context.Context, evt event.Event) (event.Outcome, error) {
	return d.reactor.Dispatch(ctx, evt)
}

// Reactor returns the event reactor.
func (d *Daemon) Reactor() *event.Reactor {
	return d.reactor
}

// Registry returns the handler registry.
func (d *Daemon) Registry() *event.Registry {
	return d.registry
}

// Hooks returns the hook manager.
func (d *Daemon) Hooks() *hook.Manager {
	return d.hooks
}

// Notes returns the note store.
func (d *Daemon) Notes() *store.Store {
	return d.notes
}

// Bridge returns the plugin bridge, or nil when it is disabled.
func (d *Daemon) Bridge() *bridge.Bridge {
	return d.bridge
}

// Metrics returns the metrics registry, or nil when metrics are disabled.
func (d *Daemon) Metrics() *metrics.Registry {
	return d.metrics
}
