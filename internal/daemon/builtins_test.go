package daemon

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/quill/internal/event"
)

func TestBuiltins_AuditOmitsNoteBody(t *testing.T) {
	var buf bytes.Buffer
	reg := event.NewRegistry()
	require.NoError(t, registerBuiltins(reg, zerolog.New(&buf)))
	r := event.NewReactor(reg, event.WithLogger(zerolog.Nop()))

	evt := event.MustNew(event.TypeNoteCreated, "a.md", map[string]any{
		"path":    "a.md",
		"title":   "Secret plans",
		"content": "do not log me",
	})
	out, err := r.Dispatch(context.Background(), evt)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"title":"Secret plans"`)
	assert.NotContains(t, buf.String(), "do not log me")
	assert.Equal(t, "do not log me", out.Event.Field("content").String())
	assert.Equal(t, []string{NoteStampHandler, AuditHandler}, out.Executed)

	indexed, ok := out.Event.Meta("indexed_by")
	assert.True(t, ok)
	assert.Equal(t, IndexedBy, indexed)
}
