package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/quill/internal/event/dispatch"
)

// Reactor dispatches events to the handlers of a Registry.
//
// Dispatch is safe for concurrent use. Handlers of one event run one at a
// time, in Scheduler order; different events may be dispatched in parallel.
type Reactor struct {
	registry *Registry
	executor *dispatch.Executor
	config   reactorConfig

	obsMu     sync.RWMutex
	observers []Observer

	dispatches       atomic.Uint64
	cancelled        atomic.Uint64
	dispatchErrors   atomic.Uint64
	handlersExecuted atomic.Uint64
	handlerFailures  atomic.Uint64
	handlerTimeouts  atomic.Uint64
	handlerPanics    atomic.Uint64
}

// NewReactor creates a reactor over registry.
func NewReactor(registry *Registry, opts ...ReactorOption) *Reactor {
	cfg := defaultReactorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Reactor{
		registry:  registry,
		config:    cfg,
		observers: cfg.observers,
	}
	r.executor = dispatch.NewExecutor(dispatch.WithExecutorPanicHandler(func(v any, stack []byte) {
		r.config.logger.Error().
			Interface("panic", v).
			Bytes("stack", stack).
			Msg("handler panicked")
	}))
	return r
}

// Registry returns the registry the reactor dispatches from.
func (r *Reactor) Registry() *Registry {
	return r.registry
}

// AddObserver registers an observer notified after every dispatch.
func (r *Reactor) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers[:len(r.observers):len(r.observers)], o)
}

// Plan returns the handlers that would run for evt, in order, without
// running them.
func (r *Reactor) Plan(evt Event) ([]SubscriptionInfo, error) {
	return Schedule(r.registry.Snapshot(), evt.Type(), evt.Identifier())
}

// Dispatch runs every enabled handler matching evt and folds their results.
//
// The returned error is non-nil only for a dependency cycle, a handler error
// wrapped with Fatal, or ctx being done between handlers. Every other handler
// failure is recorded in the Outcome and the fold continues.
func (r *Reactor) Dispatch(ctx context.Context, evt Event) (Outcome, error) {
	start := time.Now()

	ctx, span := r.config.tracer.Start(ctx, "reactor.dispatch", trace.WithAttributes(
		attribute.String("event.type", evt.Type()),
		attribute.String("event.identifier", evt.Identifier()),
	))
	defer span.End()

	out, err := r.fold(ctx, evt)
	out.Duration = time.Since(start)

	logger := r.config.logger.With().
		Str("event", evt.Type()).
		Str("identifier", evt.Identifier()).
		Logger()

	status := "ok"
	switch {
	case err != nil:
		status = "error"
		r.dispatchErrors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Strs("executed", out.Executed).Msg("dispatch failed")
	case out.Cancelled:
		status = "cancelled"
		r.cancelled.Add(1)
		span.SetAttributes(attribute.String("event.cancelled_by", out.CancelledBy))
		logger.Debug().Str("cancelled_by", out.CancelledBy).Msg("event cancelled")
	}
	span.SetAttributes(
		attribute.Int("event.handlers", len(out.Executed)),
		attribute.Int("event.failures", len(out.Failures)),
	)

	r.dispatches.Add(1)
	r.config.recorder.ObserveDispatch(evt.Type(), status, out.Duration)
	logger.Trace().
		Dur("duration", out.Duration).
		Int("handlers", len(out.Executed)).
		Str("status", status).
		Msg("dispatched")

	if err != nil {
		return out, err
	}

	r.notify(ctx, out)
	return out, nil
}

func (r *Reactor) fold(ctx context.Context, evt Event) (Outcome, error) {
	out := Outcome{Event: evt}

	plan, err := schedule(r.registry.Snapshot(), evt.Type(), evt.Identifier())
	if err != nil {
		return out, err
	}

	for _, e := range plan {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res, failure, err := r.invoke(ctx, e, out.Event)
		out.Executed = append(out.Executed, e.info.Name)
		if err != nil {
			return out, err
		}

		if failure != nil {
			out.Failures = append(out.Failures, *failure)
		}

		switch res.Action {
		case ActionCancel:
			out.Cancelled = true
			out.CancelledBy = e.info.Name
			return out, nil
		case ActionCancelled:
			out.Cancelled = true
			out.CancelledBy = e.info.Name
			if !res.Event.IsZero() {
				out.Event = res.Event
			}
			return out, nil
		default:
			if !res.Event.IsZero() {
				out.Event = res.Event
			}
		}
	}
	return out, nil
}

// invoke runs one handler and normalises what it did into a Result. Errors,
// panics and timeouts become SoftError results carrying in. A non-nil error
// return means the dispatch must abort.
func (r *Reactor) invoke(ctx context.Context, e *entry, in Event) (Result, *Failure, error) {
	name := e.info.Name

	ctx, span := r.config.tracer.Start(ctx, "reactor.handler", trace.WithAttributes(
		attribute.String("handler.name", name),
		attribute.String("handler.runtime", e.info.Runtime.String()),
	))
	defer span.End()

	// handled is only read when the call was not abandoned.
	var handled Result
	ex := r.executor.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		var err error
		handled, err = e.handler.Handle(ctx, in)
		return err
	}, r.config.handlerTimeout)

	r.handlersExecuted.Add(1)
	logger := r.config.logger.With().
		Str("handler", name).
		Str("event", in.Type()).
		Str("identifier", in.Identifier()).
		Logger()

	var (
		res     Result
		status  string
		failure *Failure
	)
	switch {
	case ex.Skipped:
		return Result{}, nil, ex.Error

	case ex.TimedOut:
		status = "timeout"
		r.handlerTimeouts.Add(1)
		err := fmt.Errorf("%w after %s", ErrHandlerTimeout, r.config.handlerTimeout)
		failure = &Failure{Handler: name, Message: err.Error(), Err: err}
		res = SoftError(in, failure.Message)

	case ex.Panicked:
		status = "panic"
		r.handlerPanics.Add(1)
		err := &PanicError{Handler: name, Value: ex.PanicValue, Stack: string(ex.PanicStack)}
		failure = &Failure{Handler: name, Message: err.Error(), Err: err}
		res = SoftError(in, failure.Message)

	case ex.Error != nil:
		var fe *FatalError
		if errors.As(ex.Error, &fe) {
			status = "error"
			err := &FatalError{Handler: name, Err: fe.Err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.config.recorder.ObserveHandler(name, e.info.Runtime, status, ex.Duration)
			return Result{}, nil, err
		}
		status = "error"
		failure = &Failure{Handler: name, Message: ex.Error.Error(), Err: ex.Error}
		res = SoftError(in, failure.Message)

	default:
		res = handled
		switch res.Action {
		case ActionContinue:
			status = "ok"
		case ActionCancel, ActionCancelled:
			status = "cancel"
		case ActionSoftError:
			status = "soft_error"
			failure = &Failure{Handler: name, Message: res.Message}
		default:
			status = "error"
			msg := fmt.Sprintf("unknown action %d", res.Action)
			failure = &Failure{Handler: name, Message: msg}
			res = SoftError(in, msg)
		}
	}

	if failure != nil {
		r.handlerFailures.Add(1)
		span.SetStatus(codes.Error, failure.Message)
		logger.Warn().Str("status", status).Msg(failure.Message)
	}
	span.SetAttributes(attribute.String("handler.status", status))
	r.config.recorder.ObserveHandler(name, e.info.Runtime, status, ex.Duration)

	return res, failure, nil
}

func (r *Reactor) notify(ctx context.Context, out Outcome) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if v := recover(); v != nil {
					r.config.logger.Error().Interface("panic", v).Msg("observer panicked")
				}
			}()
			o.Observe(ctx, out)
		}()
	}
}

// Logger returns the reactor's logger.
func (r *Reactor) Logger() zerolog.Logger {
	return r.config.logger
}

// Stats returns reactor statistics.
func (r *Reactor) Stats() Stats {
	return Stats{
		Dispatches:       r.dispatches.Load(),
		Cancelled:        r.cancelled.Load(),
		Errors:           r.dispatchErrors.Load(),
		HandlersExecuted: r.handlersExecuted.Load(),
		HandlerFailures:  r.handlerFailures.Load(),
		HandlerTimeouts:  r.handlerTimeouts.Load(),
		HandlerPanics:    r.handlerPanics.Load(),
	}
}
