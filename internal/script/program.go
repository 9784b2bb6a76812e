package script

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Program is the hot-reloadable compiled form of one script file.
type Program struct {
	path   string
	engine Engine

	mu         sync.RWMutex
	unit       Unit
	generation uint64
	closed     bool
}

// Load reads and compiles the file at path.
func Load(engine Engine, path string) (*Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewProgram(engine, path, src)
}

// NewProgram compiles src as the file at path.
func NewProgram(engine Engine, path string, src []byte) (*Program, error) {
	unit, err := compile(engine, path, src)
	if err != nil {
		return nil, err
	}
	return &Program{
		path:       path,
		engine:     engine,
		unit:       unit,
		generation: 1,
	}, nil
}

func compile(engine Engine, path string, src []byte) (Unit, error) {
	unit, err := engine.Compile(path, src)
	if err != nil {
		if _, ok := err.(*CompileError); ok {
			return nil, err
		}
		return nil, &CompileError{Path: path, Err: err}
	}
	return unit, nil
}

// Path returns the script file path.
func (p *Program) Path() string {
	return p.path
}

// Engine returns the engine that compiled the program.
func (p *Program) Engine() Engine {
	return p.engine
}

// Unit returns the current compiled unit. Callers keep using the returned
// unit even if the program is reloaded meanwhile.
func (p *Program) Unit() (Unit, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrProgramClosed
	}
	return p.unit, nil
}

// Handlers returns the declarations of the current unit.
func (p *Program) Handlers() []Decl {
	u, err := p.Unit()
	if err != nil {
		return nil
	}
	return slices.Clone(u.Handlers())
}

// Generation counts successful compilations, starting at 1.
func (p *Program) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// Reload compiles src and swaps it in. On failure the previous unit stays
// active and the error is returned.
func (p *Program) Reload(src []byte) error {
	unit, err := compile(p.engine, p.path, src)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProgramClosed
	}
	p.unit = unit
	p.generation++
	return nil
}

// ReloadFile rereads the program's file and reloads it.
func (p *Program) ReloadFile() error {
	src, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	return p.Reload(src)
}

// Close releases the unit. Calls already in flight finish normally.
func (p *Program) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.unit = nil
}

// EngineFor returns the engine compiling files with path's extension.
func EngineFor(engines []Engine, path string) (Engine, error) {
	ext := filepath.Ext(path)
	for _, e := range engines {
		if slices.Contains(e.Extensions(), ext) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
}
