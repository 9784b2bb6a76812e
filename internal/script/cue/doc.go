// Package cue runs event handlers written in CUE.
//
// A hook file declares its handlers as fields of a top-level handlers
// struct. Each handler may set type, identifier, priority, depends, enabled
// and name, and computes its result in output, which may reference the
// dispatched event through the top-level identifier event:
//
//	handlers: redact: {
//		type:       "tool:before"
//		identifier: "write_*"
//		priority:   20
//		output: payload: event.payload & {token: "***"}
//	}
//
// An absent or null output passes the event through unchanged. Otherwise
// output follows the return directives described in package script.
//
// The parsed file is cached; every call evaluates it in a fresh cue.Context
// with the event injected as a scope value.
package cue
