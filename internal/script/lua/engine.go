package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/script"
)

// DefaultLoadTimeout bounds the top-level chunk run while compiling.
const DefaultLoadTimeout = time.Second

// Engine compiles Lua hook files.
type Engine struct {
	limits      Limits
	loadTimeout time.Duration
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits sets the per-call state limits.
func WithLimits(l Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithLoadTimeout bounds the top-level chunk run while compiling.
func WithLoadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.loadTimeout = d
	}
}

// WithLogger sets the logger behind quill.log and print.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("runtime", "lua").Logger()
	}
}

// NewEngine creates a Lua engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		limits:      DefaultLimits(),
		loadTimeout: DefaultLoadTimeout,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Runtime implements script.Engine.
func (e *Engine) Runtime() event.Runtime {
	return event.RuntimeLua
}

// Extensions implements script.Engine.
func (e *Engine) Extensions() []string {
	return []string{".lua"}
}

// Compile parses src, discovers its annotated handlers and checks that each
// names a global function.
func (e *Engine) Compile(path string, src []byte) (script.Unit, error) {
	decls, err := parseAnnotations(path, src)
	if err != nil {
		return nil, err
	}

	chunk, err := parse.Parse(bytes.NewReader(src), path)
	if err != nil {
		cerr := &script.CompileError{Path: path, Err: err}
		var perr *parse.Error
		if errors.As(err, &perr) {
			cerr.Line = perr.Pos.Line
			cerr.Err = errors.New(perr.Message)
		}
		return nil, cerr
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, &script.CompileError{Path: path, Err: err}
	}

	u := &unit{
		path:   path,
		proto:  proto,
		decls:  decls,
		limits: e.limits,
		logger: e.logger.With().Str("script", path).Logger(),
	}
	if err := u.check(e.loadTimeout); err != nil {
		return nil, err
	}
	return u, nil
}

// unit is a compiled Lua file. It holds no interpreter state.
type unit struct {
	path   string
	proto  *lua.FunctionProto
	decls  []script.Decl
	limits Limits
	logger zerolog.Logger
}

// Handlers implements script.Unit.
func (u *unit) Handlers() []script.Decl {
	return u.decls
}

// check runs the chunk once and verifies the annotated globals.
func (u *unit) check(timeout time.Duration) error {
	names := make(map[string]int, len(u.decls))
	for _, d := range u.decls {
		if err := d.Filter.Validate(); err != nil {
			return &script.CompileError{Path: u.path, Line: d.Line, Err: err}
		}
		name := d.HandlerName(u.path)
		if prev, dup := names[name]; dup {
			return &script.CompileError{
				Path: u.path,
				Line: d.Line,
				Err:  fmt.Errorf("handler %q already declared at line %d", name, prev),
			}
		}
		names[name] = d.Line
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	L := newState(ctx, u.limits, &hostModule{logger: u.logger})
	defer L.Close()

	if err := runProto(L, u.proto); err != nil {
		return &script.CompileError{Path: u.path, Err: u.callError(ctx, err)}
	}
	for _, d := range u.decls {
		if _, ok := L.GetGlobal(d.Function).(*lua.LFunction); !ok {
			return &script.CompileError{
				Path: u.path,
				Line: d.Line,
				Err:  fmt.Errorf("%w: %s", ErrNotAFunction, d.Function),
			}
		}
	}
	return nil
}

// Call implements script.Unit. It builds a fresh state, runs the chunk and
// calls fn with the event table.
func (u *unit) Call(ctx context.Context, fn string, evt map[string]any) (any, error) {
	L := newState(ctx, u.limits, &hostModule{
		logger: u.logger.With().Str("function", fn).Logger(),
	})
	defer L.Close()

	if err := runProto(L, u.proto); err != nil {
		return nil, u.callError(ctx, err)
	}

	f, ok := L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", script.ErrFunctionNotFound, fn)
	}

	err := L.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, toLuaValue(L, evt))
	if err != nil {
		return nil, u.callError(ctx, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return toGoValue(ret), nil
}

// callError attributes an interpreter error to ctx when ctx is done.
func (u *unit) callError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrExecutionTimeout, ctxErr)
	}
	return err
}
