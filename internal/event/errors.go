package event

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the reactor.
var (
	// ErrDuplicateName is returned when a handler name is already registered.
	ErrDuplicateName = errors.New("handler name already registered")

	// ErrNotFound is returned when no subscription has the given id or name.
	ErrNotFound = errors.New("subscription not found")

	// ErrInvalidFilter is returned for malformed patterns, empty handler
	// names and nil handlers.
	ErrInvalidFilter = errors.New("invalid subscription")

	// ErrUnavailable is returned by registry mutations after Close.
	ErrUnavailable = errors.New("registry is unavailable")

	// ErrDependencyCycle is returned when matching handlers depend on each
	// other in a cycle.
	ErrDependencyCycle = errors.New("handler dependency cycle")

	// ErrHandlerTimeout is recorded when a handler exceeds its timeout.
	ErrHandlerTimeout = errors.New("handler timeout exceeded")

	// ErrHandlerPanic is recorded when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// SubscriptionError describes a failed registry operation.
type SubscriptionError struct {
	// Op is the registry method, e.g. "subscribe".
	Op string

	// Name is the handler name, if known.
	Name string

	// ID is the subscription id, if known.
	ID SubscriptionID

	// Err is one of the registry sentinels, possibly wrapped.
	Err error
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
	case e.Op == "subscribe" || e.Op == "register":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// CycleError is returned by Dispatch when the dependency graph of the
// matching handlers is not acyclic. Nothing runs.
type CycleError struct {
	// Handlers lists the handlers that could not be scheduled, in
	// registration order.
	Handlers []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "handler dependency cycle among: " + strings.Join(e.Handlers, ", ")
}

// Is allows errors.Is to match CycleError with ErrDependencyCycle.
func (e *CycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}

// FatalError aborts a dispatch. Handlers create it with Fatal.
type FatalError struct {
	// Handler is filled in by the reactor.
	Handler string

	Err error
}

// Fatal marks err as fatal: instead of being absorbed as a soft error it
// aborts the dispatch and is returned to the producer. Reserve it for broken
// invariants.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Handler == "" {
		return "fatal: " + e.Err.Error()
	}
	return "handler " + e.Handler + ": fatal: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// PanicError wraps a panic value as an error.
type PanicError struct {
	// Handler is the name of the handler that panicked.
	Handler string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
