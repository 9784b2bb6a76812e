package script

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/event/dispatch"
)

// Handler adapts one script entry point to event.Handler.
type Handler struct {
	program  *Program
	function string
	pool     *dispatch.WorkerPool
	logger   zerolog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPool runs calls on pool instead of the dispatching goroutine.
func WithPool(pool *dispatch.WorkerPool) HandlerOption {
	return func(h *Handler) {
		h.pool = pool
	}
}

// WithHandlerLogger sets the logger used for directive warnings.
func WithHandlerLogger(logger zerolog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler returns a handler calling function in program.
func NewHandler(program *Program, function string, opts ...HandlerOption) *Handler {
	h := &Handler{
		program:  program,
		function: function,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Function returns the entry point name.
func (h *Handler) Function() string {
	return h.function
}

// Program returns the program the handler calls into.
func (h *Handler) Program() *Program {
	return h.program
}

// Runtime implements event.RuntimeProvider.
func (h *Handler) Runtime() event.Runtime {
	return h.program.Engine().Runtime()
}

// Handle implements event.Handler.
func (h *Handler) Handle(ctx context.Context, evt event.Event) (event.Result, error) {
	unit, err := h.program.Unit()
	if err != nil {
		return event.Result{}, err
	}

	input := evt.Map()
	var ret any
	call := func(ctx context.Context) error {
		var err error
		ret, err = unit.Call(ctx, h.function, input)
		return err
	}

	if h.pool != nil {
		err = h.pool.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		// ret may still be written by an abandoned call; never read it here.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return event.Result{}, err
		}
		return event.Result{}, h.wrap(err)
	}

	return Decode(evt, ret, h.logger.With().
		Str("script", h.program.Path()).
		Str("function", h.function).
		Logger()), nil
}

func (h *Handler) wrap(err error) error {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return err
	}
	return &RuntimeError{Path: h.program.Path(), Function: h.function, Err: err}
}
