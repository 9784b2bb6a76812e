package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/script"
	"github.com/dshills/quill/internal/script/lua"
)

func newTestStore(t *testing.T) (*Store, *event.Registry) {
	t.Helper()
	reg := event.NewRegistry()
	reactor := event.NewReactor(reg, event.WithLogger(zerolog.Nop()))

	s, err := Open(filepath.Join(t.TempDir(), "notes.db"), reactor, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, reg
}

// recorder collects the types of the events it sees.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) handler() event.Handler {
	return event.HandlerFunc(func(ctx context.Context, e event.Event) (event.Result, error) {
		r.mu.Lock()
		r.types = append(r.types, e.Type())
		r.mu.Unlock()
		return event.Continue(e), nil
	})
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func TestStore_PutCreatesAndModifies(t *testing.T) {
	s, reg := newTestStore(t)
	rec := &recorder{}
	_, err := reg.Subscribe("rec", event.ForType("note:*"), event.PriorityDefault, rec.handler())
	require.NoError(t, err)

	ctx := context.Background()
	note, err := s.Put(ctx, "a.md", "---\ntitle: First\ntags: [x]\n---\nbody")
	require.NoError(t, err)
	assert.Equal(t, "First", note.Title)
	assert.Equal(t, []string{"x"}, note.Tags)

	updated, err := s.Put(ctx, "a.md", "plain")
	require.NoError(t, err)
	assert.Equal(t, "", updated.Title)
	assert.Equal(t, []string{}, updated.Tags)
	assert.True(t, note.CreatedAt.Equal(updated.CreatedAt))

	got, err := s.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "plain", got.Content)

	assert.Equal(t, []string{
		event.TypeNoteCreated, event.TypeNoteParsed,
		event.TypeNoteModified, event.TypeNoteParsed,
	}, rec.seen())
}

func TestStore_PersistsRewrittenPayload(t *testing.T) {
	s, reg := newTestStore(t)
	_, err := reg.Subscribe("tagger", event.ForType(event.TypeNoteCreated), event.PriorityDefault,
		event.HandlerFunc(func(ctx context.Context, e event.Event) (event.Result, error) {
			next, err := e.WithField("tags.-1", "auto")
			if err != nil {
				return event.Result{}, err
			}
			next, err = next.WithField("title", "Rewritten")
			if err != nil {
				return event.Result{}, err
			}
			return event.Continue(next), nil
		}))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Put(ctx, "a.md", "---\ntitle: Original\ntags: [x]\n---\n")
	require.NoError(t, err)

	got, err := s.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "Rewritten", got.Title)
	assert.Equal(t, []string{"x", "auto"}, got.Tags)
}

func TestStore_RejectedPutIsNotStored(t *testing.T) {
	s, reg := newTestStore(t)
	_, err := reg.Subscribe("guard", event.NewFilter("note:*", "private/*"), event.PriorityEarly,
		event.HandlerFunc(func(ctx context.Context, e event.Event) (event.Result, error) {
			return event.Cancel(), nil
		}))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Put(ctx, "private/secret.md", "shh")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "guard")

	_, err = s.Get(ctx, "private/secret.md")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, "public.md", "hello")
	require.NoError(t, err)
}

func TestStore_Delete(t *testing.T) {
	s, reg := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "keep.md", "keep")
	require.NoError(t, err)
	_, err = s.Put(ctx, "drop.md", "drop")
	require.NoError(t, err)

	_, err = reg.Subscribe("keeper", event.NewFilter(event.TypeNoteDeleted, "keep.md"), event.PriorityDefault,
		event.HandlerFunc(func(ctx context.Context, e event.Event) (event.Result, error) {
			return event.Cancel(), nil
		}))
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, "keep.md"), ErrRejected)
	require.NoError(t, s.Delete(ctx, "drop.md"))
	assert.ErrorIs(t, s.Delete(ctx, "missing.md"), ErrNotFound)

	notes, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "keep.md", notes[0].Path)
}

func TestStore_List(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	notes, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, notes)

	for _, p := range []string{"c.md", "a.md", "b.md"} {
		_, err := s.Put(ctx, p, p)
		require.NoError(t, err)
	}

	notes, err = s.List(ctx)
	require.NoError(t, err)
	var paths []string
	for _, n := range notes {
		paths = append(paths, n.Path)
	}
	assert.Equal(t, []string{"a.md", "b.md", "c.md"}, paths)
}

func TestStore_InvalidFrontmatter(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(context.Background(), "bad.md", "---\ntitle: x\n")
	require.Error(t, err)
}

func TestStore_NormalizesPaths(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "café.md", "decomposed")
	require.NoError(t, err)
	_, err = s.Put(ctx, "café.md", "composed")
	require.NoError(t, err)

	notes, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "café.md", notes[0].Path)
	assert.Equal(t, "composed", notes[0].Content)
}

func TestStore_InvalidHandlerPayloadKeepsOriginal(t *testing.T) {
	s, reg := newTestStore(t)
	_, err := reg.Subscribe("breaker", event.ForType("note:*"), event.PriorityDefault,
		event.HandlerFunc(func(ctx context.Context, e event.Event) (event.Result, error) {
			next, err := e.WithField("tags", "not-a-list")
			if err != nil {
				return event.Result{}, err
			}
			return event.Continue(next), nil
		}))
	require.NoError(t, err)

	ctx := context.Background()
	note, err := s.Put(ctx, "a.md", "---\ntitle: Kept\ntags: [x]\n---\nbody")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, note.Tags)

	got, err := s.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "Kept", got.Title)
	assert.Equal(t, []string{"x"}, got.Tags)
}

func TestStore_LuaHandlerReturningEvent(t *testing.T) {
	s, reg := newTestStore(t)
	prog, err := script.NewProgram(lua.NewEngine(), "retitle.lua", []byte(`
--- @handler event="note:*"
function retitle(event)
    event.payload.title = "Retitled"
    return event
end
`))
	require.NoError(t, err)
	_, err = reg.Subscribe("retitle.retitle", event.ForType("note:*"), event.PriorityDefault,
		script.NewHandler(prog, "retitle"))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Put(ctx, "a.md", "no frontmatter body")
	require.NoError(t, err)

	got, err := s.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "Retitled", got.Title)
	assert.Equal(t, []string{}, got.Tags)
	assert.Equal(t, "no frontmatter body", got.Content)
}
