package daemon

import (
	"context"
	"fmt"
	"slices"

	"github.com/dshills/quill/internal/event"
)

// Tool is an action exposed to agents. Args and results are plain JSON
// values.
type Tool interface {
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolFunc adapts a function to Tool.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Call implements Tool.
func (f ToolFunc) Call(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// toolPayload is the payload of tool events. Result and Error are only set
// on tool:after.
type toolPayload struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// RegisterTool makes tool callable through InvokeTool.
func (d *Daemon) RegisterTool(name string, tool Tool) error {
	d.toolsMu.Lock()
	defer d.toolsMu.Unlock()
	if _, ok := d.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	d.tools[name] = tool
	return nil
}

// Tools returns the registered tool names, sorted.
func (d *Daemon) Tools() []string {
	d.toolsMu.RLock()
	defer d.toolsMu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// InvokeTool runs the named tool between tool:before and tool:after.
//
// tool:before handlers may rewrite payload.args or cancel the call, which
// returns ErrToolDenied. Rewritten arguments that are not an object are
// ignored. tool:after handlers see payload.result (or
// payload.error when the tool failed) and may rewrite it; the folded result
// is returned. A tool error is returned after tool:after has run.
func (d *Daemon) InvokeTool(ctx context.Context, name string, args map[string]any) (any, error) {
	d.toolsMu.RLock()
	tool, ok := d.tools[name]
	d.toolsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	before, err := event.New(event.TypeToolBefore, name, toolPayload{Tool: name, Args: args})
	if err != nil {
		return nil, err
	}
	out, err := d.reactor.Dispatch(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", event.TypeToolBefore, name, err)
	}
	if !out.Proceed() {
		d.logger.Info().Str("tool", name).Str("by", out.CancelledBy).Msg("tool call denied")
		return nil, fmt.Errorf("%w: %s by %s", ErrToolDenied, name, out.CancelledBy)
	}

	var p toolPayload
	if err := out.Event.Decode(&p); err != nil {
		d.logger.Warn().Err(err).
			Str("tool", name).
			Msg("handlers returned invalid tool arguments; keeping original")
		p = toolPayload{Tool: name, Args: args}
	}
	if p.Args == nil {
		p.Args = map[string]any{}
	}

	result, callErr := tool.Call(ctx, p.Args)

	after := toolPayload{Tool: name, Args: p.Args, Result: result}
	if callErr != nil {
		after.Error = callErr.Error()
	}
	afterEvt, err := event.New(event.TypeToolAfter, name, after)
	if err != nil {
		return nil, err
	}
	// Propagate the request id so handlers can correlate both events.
	afterEvt = afterEvt.WithMeta("request_id", before.ID())

	out, err = d.reactor.Dispatch(ctx, afterEvt)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", event.TypeToolAfter, name, err)
	}
	if callErr != nil {
		return nil, fmt.Errorf("tool %s: %w", name, callErr)
	}
	return out.Event.Field("result").Value(), nil
}
