// Package script runs event handlers written in embedded languages.
//
// An Engine compiles a source file into a Unit. A Unit knows which handler
// entry points the file declares and can invoke one of them with an event.
// Units are immutable and safe for concurrent use: every Call builds fresh
// interpreter state, so no interpreter is ever shared between goroutines.
//
// A Program holds the current Unit of one file and swaps it on Reload. A
// Handler resolves the Program's Unit once per call, so a call that started
// before a reload finishes on the unit it started with.
//
// # Return Directives
//
// A handler entry point receives the event as a plain table/struct:
//
//	{type, identifier, payload, metadata}
//
// and returns one of:
//
//	nil                      - pass the event through unchanged
//	{cancel = true}          - veto the action
//	{error = "message"}      - report a soft error and continue
//	{payload = ..., ...}     - a modified event; fields that are absent keep
//	                           their original values
//
// Anything else is logged and treated as a pass-through.
package script
