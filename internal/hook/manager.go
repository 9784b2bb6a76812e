package hook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/event/dispatch"
	"github.com/dshills/quill/internal/script"
)

// Manager loads hook files into a registry and reloads them on change.
type Manager struct {
	registry *event.Registry
	engines  []script.Engine
	pool     *dispatch.WorkerPool
	logger   zerolog.Logger
	dirs     []string

	mu     sync.Mutex
	files  map[string]*hookFile
	closed bool
}

// hookFile is one loaded script and the handlers registered from it.
type hookFile struct {
	program  *script.Program
	handlers map[string]registered
}

type registered struct {
	id   event.SubscriptionID
	decl script.Decl
}

// Option configures a Manager.
type Option func(*Manager)

// WithEngines sets the script engines. Files no engine claims are ignored.
func WithEngines(engines ...script.Engine) Option {
	return func(m *Manager) {
		m.engines = engines
	}
}

// WithDirs sets the hook directories.
func WithDirs(dirs ...string) Option {
	return func(m *Manager) {
		m.dirs = dirs
	}
}

// WithPool runs script handlers on pool.
func WithPool(pool *dispatch.WorkerPool) Option {
	return func(m *Manager) {
		m.pool = pool
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With().Str("component", "hooks").Logger()
	}
}

// NewManager creates a manager registering into registry.
func NewManager(registry *event.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		logger:   log.Logger.With().Str("component", "hooks").Logger(),
		files:    make(map[string]*hookFile),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dirs returns the hook directories.
func (m *Manager) Dirs() []string {
	return slices.Clone(m.dirs)
}

// LoadAll loads every hook file in the configured directories. A failing
// file or directory does not stop the others; all errors are returned
// joined.
func (m *Manager) LoadAll() error {
	var errs []error
	for _, dir := range m.dirs {
		if err := m.ReloadDir(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReloadDir reloads every hook file in dir and unloads files that are gone.
func (m *Manager) ReloadDir(dir string) error {
	paths, err := ScanDir(dir, m.engines)
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range m.loadedIn(dir) {
		if !slices.Contains(paths, path) {
			m.Unload(path)
		}
	}
	for _, path := range paths {
		if err := m.ReloadFile(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReloadFile loads or reloads the hook file at path. A file that no longer
// exists is unloaded. On compile failure the previously loaded version stays
// active and the error is returned.
func (m *Manager) ReloadFile(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		m.unloadLocked(path)
		return nil
	}
	if err != nil {
		return err
	}

	engine, err := script.EngineFor(m.engines, path)
	if err != nil {
		return err
	}

	manifest, err := LoadManifest(filepath.Dir(path))
	if err != nil {
		return err
	}
	if err := manifest.Check(script.APIVersion); err != nil {
		return err
	}

	f, loaded := m.files[path]
	if loaded {
		if err := f.program.Reload(src); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("hook reload failed; keeping previous version")
			return err
		}
	} else {
		program, err := script.NewProgram(engine, path, src)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("hook load failed")
			return err
		}
		f = &hookFile{program: program, handlers: make(map[string]registered)}
		m.files[path] = f
	}

	decls := f.program.Handlers()
	for i := range decls {
		decls[i] = manifest.Apply(decls[i], path)
	}
	err = m.sync(f, decls)

	m.logger.Info().
		Str("path", path).
		Uint64("generation", f.program.Generation()).
		Int("handlers", len(f.handlers)).
		Msg("hook file loaded")
	return err
}

// sync diffs the registered handlers of f against decls.
func (m *Manager) sync(f *hookFile, decls []script.Decl) error {
	path := f.program.Path()
	want := make(map[string]script.Decl, len(decls))
	for _, d := range decls {
		want[d.HandlerName(path)] = d
	}

	for name, reg := range f.handlers {
		if _, ok := want[name]; !ok {
			m.unsubscribe(f, name, reg)
		}
	}

	var errs []error
	for _, d := range decls {
		name := d.HandlerName(path)
		reg, ok := f.handlers[name]
		switch {
		case !ok:
		case reg.decl.Function != d.Function ||
			reg.decl.Filter != d.Filter ||
			!slices.Equal(reg.decl.Dependencies, d.Dependencies):
			m.unsubscribe(f, name, reg)
		default:
			if err := m.update(reg.id, reg.decl, d); err != nil {
				errs = append(errs, err)
				continue
			}
			f.handlers[name] = registered{id: reg.id, decl: d}
			continue
		}

		if err := m.subscribe(f, name, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) subscribe(f *hookFile, name string, d script.Decl) error {
	path := f.program.Path()
	h := script.NewHandler(f.program, d.Function,
		script.WithPool(m.pool),
		script.WithHandlerLogger(m.logger.With().Str("handler", name).Logger()))

	id, err := m.registry.Register(d.Info(path, f.program.Engine().Runtime()), h)
	if err != nil {
		m.logger.Warn().Err(err).Str("handler", name).Str("path", path).Msg("hook handler not registered")
		return err
	}
	f.handlers[name] = registered{id: id, decl: d}
	m.logger.Debug().Str("handler", name).Stringer("id", id).Msg("hook handler registered")
	return nil
}

func (m *Manager) unsubscribe(f *hookFile, name string, reg registered) {
	if err := m.registry.Unsubscribe(reg.id); err != nil && !errors.Is(err, event.ErrNotFound) {
		m.logger.Warn().Err(err).Str("handler", name).Msg("hook handler not unregistered")
	}
	delete(f.handlers, name)
}

func (m *Manager) update(id event.SubscriptionID, old, d script.Decl) error {
	if old.Priority != d.Priority {
		if err := m.registry.SetPriority(id, d.Priority); err != nil {
			return err
		}
	}
	if old.Enabled != d.Enabled {
		if err := m.registry.SetEnabled(id, d.Enabled); err != nil {
			return err
		}
	}
	return nil
}

// Unload unregisters every handler of the file at path.
func (m *Manager) Unload(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadLocked(path)
}

func (m *Manager) unloadLocked(path string) {
	f, ok := m.files[path]
	if !ok {
		return
	}
	for name, reg := range f.handlers {
		m.unsubscribe(f, name, reg)
	}
	f.program.Close()
	delete(m.files, path)
	m.logger.Info().Str("path", path).Msg("hook file unloaded")
}

// Files returns the loaded hook file paths, sorted.
func (m *Manager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for path := range m.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (m *Manager) loadedIn(dir string) []string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	var paths []string
	for _, path := range m.Files() {
		if filepath.Dir(path) == dir {
			paths = append(paths, path)
		}
	}
	return paths
}

// Handlers returns the registry entries loaded from path.
func (m *Manager) Handlers(path string) []event.SubscriptionInfo {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		return nil
	}
	infos := make([]event.SubscriptionInfo, 0, len(f.handlers))
	for _, reg := range f.handlers {
		if info, ok := m.registry.Get(reg.id); ok {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close unloads every file. Further reloads fail with ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.files {
		m.unloadLocked(path)
	}
	m.closed = true
}

// ScanDir lists the files in dir that one of engines compiles, sorted. A
// missing directory yields no files.
func ScanDir(dir string, engines []script.Engine) ([]string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := script.EngineFor(engines, path); err == nil {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
