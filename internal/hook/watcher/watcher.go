// Package watcher reloads hook files when they change on disk.
//
// Changes are debounced per path: a burst of writes to one file triggers a
// single reload once the file has been quiet for the configured delay. A
// change to a directory's hooks.toml reloads the whole directory.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/quill/internal/hook"
)

// DefaultDelay is the default debounce delay.
const DefaultDelay = 150 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Reloader applies file changes. *hook.Manager implements it.
type Reloader interface {
	ReloadFile(path string) error
	ReloadDir(dir string) error
}

// Watcher drives a Reloader from fsnotify events.
type Watcher struct {
	fsw        *fsnotify.Watcher
	reloader   Reloader
	delay      time.Duration
	extensions []string
	logger     zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingChange
	closed  bool
	firing  sync.WaitGroup

	reloads  atomic.Int64
	failures atomic.Int64
}

// pendingChange is a debounced change waiting for its timer.
type pendingChange struct {
	timer *time.Timer
	dir   bool
	ops   fsnotify.Op
}

// Stats reports watcher activity.
type Stats struct {
	Reloads  int64
	Failures int64
	Pending  int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithExtensions sets the file extensions that trigger reloads.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.extensions = exts
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger.With().Str("component", "hook-watcher").Logger()
	}
}

// New creates a watcher feeding reloader.
func New(reloader Reloader, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:        fsw,
		reloader:   reloader,
		delay:      DefaultDelay,
		extensions: []string{".lua", ".cue"},
		logger:     log.Logger.With().Str("component", "hook-watcher").Logger(),
		pending:    make(map[string]*pendingChange),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add watches dir.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrWatcherClosed
	}
	return w.fsw.Add(abs)
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

// handle debounces one fsnotify event.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	key, dir := ev.Name, false
	switch {
	case filepath.Base(ev.Name) == hook.ManifestFile:
		key, dir = filepath.Dir(ev.Name), true
	case slices.Contains(w.extensions, filepath.Ext(ev.Name)):
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if p, ok := w.pending[key]; ok {
		p.ops |= ev.Op
		p.timer.Reset(w.delay)
		return
	}
	w.pending[key] = &pendingChange{
		dir: dir,
		ops: ev.Op,
		timer: time.AfterFunc(w.delay, func() {
			w.fire(key)
		}),
	}
}

// fire reloads the path or directory behind key.
func (w *Watcher) fire(key string) {
	w.mu.Lock()
	p, ok := w.pending[key]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	w.firing.Add(1)
	w.mu.Unlock()
	defer w.firing.Done()

	var err error
	if p.dir {
		err = w.reloader.ReloadDir(key)
	} else {
		err = w.reloader.ReloadFile(key)
	}

	w.reloads.Add(1)
	if err != nil {
		w.failures.Add(1)
		w.logger.Error().Err(err).Str("path", key).Stringer("ops", p.ops).Msg("hook reload failed")
		return
	}
	w.logger.Debug().Str("path", key).Stringer("ops", p.ops).Msg("hook reloaded")
}

// Flush fires every pending change immediately.
func (w *Watcher) Flush() {
	w.mu.Lock()
	keys := make([]string, 0, len(w.pending))
	for key, p := range w.pending {
		p.timer.Stop()
		keys = append(keys, key)
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.fire(key)
	}
}

// Stats returns watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()
	return Stats{
		Reloads:  w.reloads.Load(),
		Failures: w.failures.Load(),
		Pending:  pending,
	}
}

// Close stops the watcher and drops pending changes. It waits for reloads
// already running. Close is idempotent.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for key, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, key)
	}
	w.mu.Unlock()

	w.firing.Wait()
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("close watcher")
	}
}
