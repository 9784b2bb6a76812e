package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StampsMetadata(t *testing.T) {
	e, err := New(TypeToolBefore, "search", map[string]any{"query": "go"})
	require.NoError(t, err)

	assert.Equal(t, TypeToolBefore, e.Type())
	assert.Equal(t, "search", e.Identifier())
	assert.NotEmpty(t, e.ID())
	_, ok := e.Meta(MetaTimestamp)
	assert.True(t, ok)
	assert.Equal(t, "go", e.Field("query").String())
}

func TestNew_NilPayloadIsEmptyObject(t *testing.T) {
	e := MustNew(TypeSessionStart, "", nil)
	assert.JSONEq(t, `{}`, string(e.Payload()))
}

func TestNew_UniqueIDs(t *testing.T) {
	a := MustNew(TypeSessionStart, "", nil)
	b := MustNew(TypeSessionStart, "", nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestFromJSON_RejectsInvalid(t *testing.T) {
	_, err := FromJSON(TypeNoteCreated, "a.md", []byte(`{"broken"`))
	assert.Error(t, err)
}

func TestEvent_WithMethodsDoNotMutate(t *testing.T) {
	orig := MustNew(TypeNoteCreated, "notes/a.md", map[string]any{"title": "A"})

	renamed := orig.WithIdentifier("notes/b.md")
	retyped := orig.WithType(TypeNoteModified)
	tagged := orig.WithMeta("indexed_by", "quill")
	edited, err := orig.WithField("title", "B")
	require.NoError(t, err)

	assert.Equal(t, "notes/a.md", orig.Identifier())
	assert.Equal(t, TypeNoteCreated, orig.Type())
	assert.Equal(t, "A", orig.Field("title").String())
	_, ok := orig.Meta("indexed_by")
	assert.False(t, ok)

	assert.Equal(t, "notes/b.md", renamed.Identifier())
	assert.Equal(t, TypeNoteModified, retyped.Type())
	v, _ := tagged.Meta("indexed_by")
	assert.Equal(t, "quill", v)
	assert.Equal(t, "B", edited.Field("title").String())
}

func TestEvent_PayloadIsCopy(t *testing.T) {
	e := MustNew(TypeToolAfter, "search", map[string]any{"n": 1})
	p := e.Payload()
	p[0] = '['
	assert.JSONEq(t, `{"n":1}`, string(e.Payload()))
}

func TestEvent_WithFieldNested(t *testing.T) {
	e := MustNew(TypeToolBefore, "search", map[string]any{"args": map[string]any{"q": "x"}})

	e2, err := e.WithField("args.limit", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), e2.Field("args.limit").Int())
	assert.Equal(t, "x", e2.Field("args.q").String())

	e3, err := e2.WithoutField("args.q")
	require.NoError(t, err)
	assert.False(t, e3.Field("args.q").Exists())
}

func TestEvent_Map(t *testing.T) {
	e := MustNew(TypeNoteCreated, "a.md", map[string]any{"tags": []string{"x"}})
	m := e.Map()

	assert.Equal(t, TypeNoteCreated, m["type"])
	assert.Equal(t, "a.md", m["identifier"])
	assert.Equal(t, map[string]any{"tags": []any{"x"}}, m["payload"])
	md, ok := m["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, e.ID(), md[MetaID])
}

func TestEvent_JSON(t *testing.T) {
	e := MustNew(TypeToolBefore, "search", map[string]any{"q": "x"}).WithMeta("k", "v")

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e.Type(), back.Type())
	assert.Equal(t, e.Identifier(), back.Identifier())
	assert.JSONEq(t, string(e.Payload()), string(back.Payload()))
	assert.Equal(t, e.Metadata(), back.Metadata())
}

func TestEvent_UnmarshalFillsMetadata(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"session:start","payload":{}}`), &e))
	assert.NotEmpty(t, e.ID())

	err := json.Unmarshal([]byte(`{"identifier":"x"}`), &e)
	assert.Error(t, err)
}

func TestEvent_IsZero(t *testing.T) {
	assert.True(t, Event{}.IsZero())
	assert.False(t, MustNew(TypeSessionEnd, "", nil).IsZero())
}
