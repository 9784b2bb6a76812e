// Package daemon wires the reactor, hook scripts, note store, plugin bridge
// and telemetry into one long-running process.
//
// The daemon is also the producer of tool and session events:
//
//	d.InvokeTool(ctx, "search", args)  // tool:before, the tool, tool:after
//	d.StartSession(ctx)                // session:start
//	d.EndSession(ctx, id)              // session:end
//
// Note events come from the store returned by Notes.
package daemon
