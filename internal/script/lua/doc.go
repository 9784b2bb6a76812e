// Package lua runs event handlers written in Lua.
//
// A hook file declares handlers with an annotation immediately before a
// global function:
//
//	--- @handler event="tool:before" identifier="write_*" priority=10
//	function guard_writes(event)
//	    if event.payload.path:match("^/etc/") then
//	        return { cancel = true }
//	    end
//	end
//
// Recognised annotation keys are name, event, identifier, priority, depends
// and enabled. The handler name defaults to "<file stem>.<function>".
//
// # Isolation
//
// The Engine parses and compiles a file once and shares the resulting
// *lua.FunctionProto. Every call runs on a fresh LState: the chunk is
// executed to define its globals, then the handler function is called with
// the event table. No LState is ever used by two goroutines.
//
// # Sandbox
//
// Each state opens only the base, table, string and math libraries. dofile,
// loadfile, load and loadstring are removed and require only resolves the
// built-in libraries and the "quill" host module:
//
//	local quill = require("quill")
//	quill.log("info", "checked " .. event.identifier)
//
// Execution is bounded by the call's context. A cancelled or expired context
// interrupts the VM and the call fails with ErrExecutionTimeout.
package lua
