// Package event provides the event reactor for Quill.
//
// The reactor is the daemon's interception point. Producers (tool invocation,
// the note store, session lifecycle) hand it an Event and get back an Outcome:
// the event as rewritten by every handler that chose to run, plus whether one
// of them cancelled the underlying action.
//
// # Architecture
//
//	          producer
//	             │ Dispatch(ctx, evt)
//	             ▼
//	┌──────────────────────────┐    Snapshot()   ┌──────────────────────┐
//	│         Reactor          │ ◄────────────── │       Registry       │
//	│  - sequential fold       │                 │  - unique names      │
//	│  - fail-open             │                 │  - immutable views   │
//	│  - timeout, tracing      │                 └──────────────────────┘
//	└──────────────────────────┘
//	             │ order(snapshot, evt)
//	             ▼
//	┌──────────────────────────┐
//	│        Scheduler         │
//	│  - filter matching       │
//	│  - Kahn over depends     │
//	│  - (priority, id) ties   │
//	└──────────────────────────┘
//
// # Event Types
//
// Event types use a "domain:action" convention:
//
//	tool:before      - a tool is about to run; handlers may rewrite args or deny
//	tool:after       - a tool finished; handlers may rewrite its result
//	note:created     - a note is about to be stored for the first time
//	note:modified    - an existing note is about to be replaced
//	note:deleted     - a note is about to be removed
//	session:start    - an agent session began
//
// # Filters
//
// An EventFilter holds an optional type pattern and an optional identifier
// pattern. Patterns are globs (see package glob): "note:*" matches every note
// event, "notes/*.md" matches identifiers under notes/. An absent pattern
// matches everything.
//
// # Ordering
//
// Handlers for one event run one at a time. A handler runs after every
// handler it depends on that also matches the event. Among handlers that are
// ready at the same time, lower priority runs first and the earlier
// registration breaks ties.
//
// # Results
//
// Each handler returns a Result:
//
//   - Continue: pass a (possibly rewritten) event to the next handler
//   - Cancel: stop and veto the action
//   - Cancelled: stop and veto, replacing the event
//   - SoftError: report a problem and keep going
//
// Handler errors and panics are treated as SoftError with the event the
// handler was given. Only errors wrapped with Fatal abort a dispatch.
package event
