package event

import (
	"context"
	"strconv"
	"time"
)

// Priority determines handler execution order among handlers that are ready
// at the same time. Lower values execute first.
type Priority int

const (
	// PriorityEarly is for handlers that guard an action, such as policy checks.
	PriorityEarly Priority = 10

	// PriorityDefault is the priority given to handlers that don't ask for one.
	PriorityDefault Priority = 100

	// PriorityLate is for observers such as audit logging that should see the
	// event after everyone else has rewritten it.
	PriorityLate Priority = 1000
)

// String returns the numeric priority.
func (p Priority) String() string {
	return strconv.Itoa(int(p))
}

// Runtime identifies how a handler is executed.
type Runtime int

const (
	// RuntimeNative is a Go handler compiled into the daemon.
	RuntimeNative Runtime = iota

	// RuntimeLua is a function from a Lua hook script.
	RuntimeLua

	// RuntimeCUE is an entry of a CUE hook file.
	RuntimeCUE
)

// String returns the runtime name.
func (r Runtime) String() string {
	switch r {
	case RuntimeNative:
		return "native"
	case RuntimeLua:
		return "lua"
	case RuntimeCUE:
		return "cue"
	default:
		return "unknown"
	}
}

// Handler processes one event and decides what happens next.
//
// A returned error is not fatal: the reactor logs it, records a failure and
// continues with the event the handler was given. Wrap the error with Fatal
// to abort the dispatch instead.
type Handler interface {
	Handle(ctx context.Context, evt Event) (Result, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, evt Event) (Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) (Result, error) {
	return f(ctx, evt)
}

// RuntimeProvider is implemented by handlers that are not native Go code.
// Register uses it to fill SubscriptionInfo.Runtime.
type RuntimeProvider interface {
	Runtime() Runtime
}

// Action is the decision carried by a Result.
type Action int

const (
	// ActionContinue passes the event on to the next handler.
	ActionContinue Action = iota

	// ActionCancel stops the dispatch and vetoes the action.
	ActionCancel

	// ActionCancelled stops the dispatch, vetoes the action and replaces
	// the event.
	ActionCancelled

	// ActionSoftError records a problem and continues.
	ActionSoftError
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionCancel:
		return "cancel"
	case ActionCancelled:
		return "cancelled"
	case ActionSoftError:
		return "soft_error"
	default:
		return "unknown"
	}
}

// Result is what a handler returns.
//
// A zero Event in a Continue or SoftError result keeps the current event, so
// the zero Result is a pass-through.
type Result struct {
	Action  Action
	Event   Event
	Message string
}

// Continue passes e to the next handler.
func Continue(e Event) Result {
	return Result{Action: ActionContinue, Event: e}
}

// Cancel stops the dispatch. The outcome carries the event as it was before
// the cancelling handler ran.
func Cancel() Result {
	return Result{Action: ActionCancel}
}

// Cancelled stops the dispatch with e as the final event.
func Cancelled(e Event) Result {
	return Result{Action: ActionCancelled, Event: e}
}

// SoftError reports msg and continues with e.
func SoftError(e Event, msg string) Result {
	return Result{Action: ActionSoftError, Event: e, Message: msg}
}

// Failure records one handler that did not complete cleanly.
type Failure struct {
	Handler string
	Message string
	// Err is set for errors, panics and timeouts; nil for SoftError results.
	Err error
}

// Outcome is the folded result of one dispatch.
type Outcome struct {
	// Event is the final working event.
	Event Event

	// Cancelled is true when a handler vetoed the action.
	Cancelled bool

	// CancelledBy names the handler that cancelled.
	CancelledBy string

	// Executed lists handlers in the order they ran.
	Executed []string

	// Failures lists soft errors, handler errors, panics and timeouts.
	Failures []Failure

	Duration time.Duration
}

// Proceed reports whether the producer should go ahead with the action.
func (o Outcome) Proceed() bool {
	return !o.Cancelled
}

// Observer receives every completed outcome. Observers run synchronously
// after the fold and must not block.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc is a function adapter for Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, o Outcome) {
	f(ctx, o)
}

// Stats contains reactor statistics.
type Stats struct {
	// Dispatches is the total number of completed dispatches.
	Dispatches uint64

	// Cancelled is the number of dispatches vetoed by a handler.
	Cancelled uint64

	// Errors is the number of dispatches that returned an error.
	Errors uint64

	// HandlersExecuted is the total number of handler executions.
	HandlersExecuted uint64

	// HandlerFailures is the number of handler soft errors, errors, panics
	// and timeouts.
	HandlerFailures uint64

	// HandlerTimeouts is the number of handlers abandoned after the timeout.
	HandlerTimeouts uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64
}
