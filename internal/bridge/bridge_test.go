package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/quill/internal/event"
)

func fixedOutcome(t *testing.T) event.Outcome {
	t.Helper()
	var evt event.Event
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "note:created",
		"identifier": "notes/a.md",
		"payload": {"title": "A", "tags": ["x"]},
		"metadata": {"id": "evt-1", "timestamp": "2026-01-02T03:04:05Z"}
	}`), &evt))
	evt = evt.WithMeta("indexed_by", "quill")

	return event.Outcome{
		Event:       evt,
		Cancelled:   true,
		CancelledBy: "guards.guard",
		Executed:    []string{"builtin.audit", "guards.guard"},
		Failures: []event.Failure{
			{Handler: "tags.tag", Message: "boom", Err: errors.New("boom")},
		},
		Duration: 1500 * time.Microsecond,
	}
}

func TestProjectGolden(t *testing.T) {
	data, err := json.Marshal(Project(fixedOutcome(t)))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden.json"),
	)
	g.Assert(t, "projection", data)
}

func TestProjectEmptyOutcome(t *testing.T) {
	doc := Project(event.Outcome{Event: event.MustNew(event.TypeSessionStart, "", nil)})
	assert.NotNil(t, doc.Handlers)
	assert.NotNil(t, doc.Failures)
	assert.JSONEq(t, `{}`, string(doc.Payload))

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"handlers":[]`)
	assert.NotContains(t, string(data), "cancelled_by")
}

func newBridge(t *testing.T, sink Sink, opts ...Option) *Bridge {
	t.Helper()
	b := New(sink, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, b.Start())
	return b
}

func TestObserveWritesLines(t *testing.T) {
	var buf bytes.Buffer
	b := newBridge(t, NewWriterSink(&buf))

	out := fixedOutcome(t)
	b.Observe(context.Background(), out)
	b.Observe(context.Background(), out)
	require.NoError(t, b.Stop(context.Background()))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var doc Document
	require.NoError(t, json.Unmarshal(lines[0], &doc))
	assert.Equal(t, "notes/a.md", doc.Identifier)
	assert.True(t, doc.Cancelled)

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Zero(t, stats.Dropped)
	assert.True(t, b.Connected())
}

func TestObserveDropsWhenFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	sink := SinkFunc(func(ctx context.Context, doc []byte) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	b := newBridge(t, sink, WithQueueSize(1), WithWorkers(1))

	ctx := context.Background()
	out := fixedOutcome(t)
	b.Observe(ctx, out)
	<-started
	b.Observe(ctx, out)

	done := make(chan struct{})
	go func() {
		b.Observe(ctx, out)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked on a full queue")
	}

	assert.Equal(t, uint64(1), b.Stats().Dropped)
	close(release)
	require.NoError(t, b.Stop(context.Background()))
	assert.Equal(t, uint64(2), b.Stats().Sent)
}

func TestHealth(t *testing.T) {
	sinkErr := errors.New("plugin host gone")
	b := newBridge(t, SinkFunc(func(context.Context, []byte) error { return sinkErr }))
	assert.True(t, b.Healthy())
	assert.False(t, b.Connected())

	for range unhealthyAfter {
		b.Observe(context.Background(), fixedOutcome(t))
	}
	require.NoError(t, b.Stop(context.Background()))

	assert.False(t, b.Healthy())
	assert.False(t, b.Connected())
	assert.ErrorIs(t, b.LastError(), sinkErr)
	assert.Equal(t, uint64(unhealthyAfter), b.Stats().Failed)
}

func TestObserveTypeFilter(t *testing.T) {
	var buf bytes.Buffer
	b := newBridge(t, NewWriterSink(&buf), WithTypes("tool:*"))

	b.Observe(context.Background(), fixedOutcome(t))
	b.Observe(context.Background(), event.Outcome{Event: event.MustNew(event.TypeToolAfter, "write", nil)})
	require.NoError(t, b.Stop(context.Background()))

	assert.Equal(t, uint64(1), b.Stats().Sent)
	assert.Contains(t, buf.String(), `"type":"tool:after"`)
}

func TestObserveAfterStop(t *testing.T) {
	b := newBridge(t, NewWriterSink(&bytes.Buffer{}))
	require.NoError(t, b.Stop(context.Background()))
	b.Observe(context.Background(), fixedOutcome(t))
	assert.Equal(t, uint64(1), b.Stats().Dropped)
	assert.False(t, b.Healthy())
}
