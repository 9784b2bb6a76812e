package cue

import (
	"context"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/parser"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/script"
)

const (
	handlersField = "handlers"
	outputField   = "output"
	eventIdent    = "event"
)

// eventSchema stands in for the event while discovering handlers.
const eventSchema = `event: {
	type:       string
	identifier: string
	payload:    _
	metadata: [string]: string
}`

// declKeys are the handler fields read during discovery.
var declKeys = []string{"name", "type", "identifier", "priority", "depends", "enabled"}

// Engine compiles CUE hook files.
type Engine struct{}

// NewEngine creates a CUE engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Runtime implements script.Engine.
func (e *Engine) Runtime() event.Runtime {
	return event.RuntimeCUE
}

// Extensions implements script.Engine.
func (e *Engine) Extensions() []string {
	return []string{".cue"}
}

// Compile parses src and discovers the handlers struct.
func (e *Engine) Compile(path string, src []byte) (script.Unit, error) {
	f, err := parser.ParseFile(path, src)
	if err != nil {
		return nil, compileError(path, err)
	}

	ctx := cuecontext.New()
	v := ctx.BuildFile(f, cue.Scope(ctx.CompileString(eventSchema)))
	if err := v.Err(); err != nil {
		return nil, compileError(path, err)
	}
	if err := v.Validate(); err != nil {
		return nil, compileError(path, err)
	}

	decls, err := discover(path, v)
	if err != nil {
		return nil, err
	}
	return &unit{path: path, file: f, decls: decls}, nil
}

func discover(path string, v cue.Value) ([]script.Decl, error) {
	handlers := v.LookupPath(cue.ParsePath(handlersField))
	if !handlers.Exists() {
		return nil, nil
	}
	iter, err := handlers.Fields()
	if err != nil {
		return nil, compileError(path, err)
	}

	var decls []script.Decl
	names := make(map[string]bool)
	for iter.Next() {
		label := iter.Label()
		hv := iter.Value()
		line := hv.Pos().Line()
		fail := func(err error) error {
			return &script.CompileError{Path: path, Line: line, Err: fmt.Errorf("%s.%s: %w", handlersField, label, err)}
		}

		if label == eventIdent {
			return nil, fail(fmt.Errorf("%q is reserved", eventIdent))
		}
		if hv.IncompleteKind() != cue.StructKind {
			return nil, fail(fmt.Errorf("handler must be a struct"))
		}

		d := script.NewDecl(label)
		d.Line = line
		for _, key := range declKeys {
			fv := hv.LookupPath(cue.MakePath(cue.Str(key)))
			if !fv.Exists() {
				continue
			}
			var x any
			if err := fv.Decode(&x); err != nil {
				return nil, fail(fmt.Errorf("%s: %w", key, err))
			}
			if err := d.Set(key, x); err != nil {
				return nil, fail(err)
			}
		}
		if err := d.Filter.Validate(); err != nil {
			return nil, fail(err)
		}

		name := d.HandlerName(path)
		if names[name] {
			return nil, fail(fmt.Errorf("handler %q already declared", name))
		}
		names[name] = true
		decls = append(decls, d)
	}
	return decls, nil
}

func compileError(path string, err error) error {
	cerr := &script.CompileError{Path: path, Err: err}
	if pos := cueerrors.Positions(err); len(pos) > 0 {
		cerr.Line = pos[0].Line()
	}
	return cerr
}

// unit is a parsed CUE file. Evaluation state is never shared.
type unit struct {
	path  string
	file  *ast.File
	decls []script.Decl
}

// Handlers implements script.Unit.
func (u *unit) Handlers() []script.Decl {
	return u.decls
}

// Call implements script.Unit. CUE evaluation cannot be interrupted, so ctx
// is only checked before and after it.
func (u *unit) Call(ctx context.Context, fn string, evt map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cctx := cuecontext.New()
	scope := cctx.Encode(map[string]any{eventIdent: evt})
	if err := scope.Err(); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	v := cctx.BuildFile(u.file, cue.Scope(scope))
	if err := v.Err(); err != nil {
		return nil, err
	}

	hv := v.LookupPath(cue.MakePath(cue.Str(handlersField), cue.Str(fn)))
	if !hv.Exists() {
		return nil, fmt.Errorf("%w: %s", script.ErrFunctionNotFound, fn)
	}
	out := hv.LookupPath(cue.MakePath(cue.Str(outputField)))
	if !out.Exists() || out.IsNull() {
		return nil, nil
	}
	if err := out.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%s: %w", outputField, err)
	}

	var ret any
	if err := out.Decode(&ret); err != nil {
		return nil, fmt.Errorf("%s: %w", outputField, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
