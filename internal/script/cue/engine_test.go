package cue

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/script"
)

const redactSource = `
handlers: {
	redact: {
		type:       "tool:before"
		identifier: "write_*"
		priority:   20
		output: payload: event.payload & {token: "***"}
	}
	"deny-root": {
		name:    "deny-root"
		type:    "tool:before"
		depends: ["redact.redact"]
		output: cancel: event.payload.path == "/"
	}
	note_title: {
		type:    "note:*"
		enabled: false
		output: {
			identifier: event.identifier
			metadata: title: "untitled"
		}
	}
	complain: {
		output: error: "cannot handle " + event.type
	}
}
`

func compile(t *testing.T, src string) script.Unit {
	t.Helper()
	u, err := NewEngine().Compile("/hooks/redact.cue", []byte(src))
	require.NoError(t, err)
	return u
}

func TestCompileDiscoversHandlers(t *testing.T) {
	u := compile(t, redactSource)
	decls := u.Handlers()
	require.Len(t, decls, 4)

	redact := decls[0]
	assert.Equal(t, "redact", redact.Function)
	assert.Equal(t, "redact.redact", redact.HandlerName("/hooks/redact.cue"))
	assert.Equal(t, event.Priority(20), redact.Priority)
	assert.True(t, redact.Filter.Matches("tool:before", "write_file"))
	assert.False(t, redact.Filter.Matches("tool:after", "write_file"))
	assert.Greater(t, redact.Line, 0)

	deny := decls[1]
	assert.Equal(t, "deny-root", deny.HandlerName("/hooks/redact.cue"))
	assert.Equal(t, []string{"redact.redact"}, deny.Dependencies)
	assert.Equal(t, event.PriorityDefault, deny.Priority)

	assert.False(t, decls[2].Enabled)
	assert.True(t, decls[3].Filter.Matches("anything", "at-all"))
}

func TestCallDirectives(t *testing.T) {
	u := compile(t, redactSource)
	logger := zerolog.Nop()
	ctx := context.Background()

	write := event.MustNew(event.TypeToolBefore, "write_file", map[string]any{"path": "/notes/a.md", "token": "secret"})
	ret, err := u.Call(ctx, "redact", write.Map())
	require.Error(t, err, "token conflicts with the redaction")
	assert.Nil(t, ret)

	write = event.MustNew(event.TypeToolBefore, "write_file", map[string]any{"path": "/notes/a.md"})
	ret, err = u.Call(ctx, "redact", write.Map())
	require.NoError(t, err)
	res := script.Decode(write, ret, logger)
	require.Equal(t, event.ActionContinue, res.Action)
	assert.JSONEq(t, `{"path":"/notes/a.md","token":"***"}`, string(res.Event.Payload()))
	assert.Equal(t, write.ID(), res.Event.ID())

	ret, err = u.Call(ctx, "deny-root", write.Map())
	require.NoError(t, err)
	res = script.Decode(write, ret, logger)
	assert.Equal(t, event.ActionContinue, res.Action)
	assert.Equal(t, write.ID(), res.Event.ID())

	root := event.MustNew(event.TypeToolBefore, "write_file", map[string]any{"path": "/"})
	ret, err = u.Call(ctx, "deny-root", root.Map())
	require.NoError(t, err)
	assert.Equal(t, event.ActionCancel, script.Decode(root, ret, logger).Action)

	note := event.MustNew(event.TypeNoteCreated, "a.md", nil)
	ret, err = u.Call(ctx, "note_title", note.Map())
	require.NoError(t, err)
	res = script.Decode(note, ret, logger)
	title, ok := res.Event.Meta("title")
	assert.True(t, ok)
	assert.Equal(t, "untitled", title)
	assert.Equal(t, "a.md", res.Event.Identifier())

	ret, err = u.Call(ctx, "complain", note.Map())
	require.NoError(t, err)
	res = script.Decode(note, ret, logger)
	assert.Equal(t, event.ActionSoftError, res.Action)
	assert.Equal(t, "cannot handle note:created", res.Message)

	_, err = u.Call(ctx, "missing", note.Map())
	assert.ErrorIs(t, err, script.ErrFunctionNotFound)
}

func TestCallRespectsContext(t *testing.T) {
	u := compile(t, redactSource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := u.Call(ctx, "redact", event.MustNew("x", "", nil).Map())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentCalls(t *testing.T) {
	u := compile(t, `handlers: echo: output: identifier: event.identifier + "!"`)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			ret, err := u.Call(context.Background(), "echo",
				event.MustNew("x", id, nil).Map())
			assert.NoError(t, err)
			assert.Equal(t, map[string]any{"identifier": id + "!"}, ret)
		}()
	}
	wg.Wait()
}

func TestNoHandlers(t *testing.T) {
	u := compile(t, `settings: verbose: true`)
	assert.Empty(t, u.Handlers())

	u = compile(t, `handlers: quiet: type: "session:*"`)
	ret, err := u.Call(context.Background(), "quiet", event.MustNew(event.TypeSessionStart, "", nil).Map())
	require.NoError(t, err)
	assert.Nil(t, ret)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "handlers: {"},
		{"conflict", "x: 1\nx: 2\n"},
		{"reserved label", "handlers: event: output: null"},
		{"not a struct", "handlers: h: 3"},
		{"bad priority", `handlers: h: priority: "soon"`},
		{"bad enabled", `handlers: h: enabled: "maybe"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine().Compile("bad.cue", []byte(tt.src))
			var cerr *script.CompileError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "bad.cue", cerr.Path)
		})
	}
}
