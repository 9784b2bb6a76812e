package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestReactor(t *testing.T, opts ...ReactorOption) (*Reactor, *Registry) {
	t.Helper()
	reg := NewRegistry()
	opts = append([]ReactorOption{WithLogger(zerolog.Nop())}, opts...)
	return NewReactor(reg, opts...), reg
}

// appendHandler appends its name to the "trail" payload array.
func appendHandler(name string) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		next, err := e.WithField("trail.-1", name)
		if err != nil {
			return Result{}, err
		}
		return Continue(next), nil
	})
}

func trail(e Event) []string {
	var out []string
	for _, v := range e.Field("trail").Array() {
		out = append(out, v.String())
	}
	return out
}

func TestReactor_PriorityOrder(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("C", AnyEvent(), 30, appendHandler("C"))
	_, _ = reg.Subscribe("A", AnyEvent(), 10, appendHandler("A"))
	_, _ = reg.Subscribe("B", AnyEvent(), 20, appendHandler("B"))

	out, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "search", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, trail(out.Event))
	assert.Equal(t, []string{"A", "B", "C"}, out.Executed)
	assert.True(t, out.Proceed())
	assert.Empty(t, out.Failures)
}

func TestReactor_DependencyOrder(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("C", AnyEvent(), 1, appendHandler("C"), DependsOn("B"))
	_, _ = reg.Subscribe("B", AnyEvent(), 2, appendHandler("B"), DependsOn("A"))
	_, _ = reg.Subscribe("A", AnyEvent(), 3, appendHandler("A"))

	out, err := r.Dispatch(context.Background(), MustNew(TypeNoteCreated, "a.md", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, trail(out.Event))
}

func TestReactor_DisabledHandlerNeverRuns(t *testing.T) {
	r, reg := newTestReactor(t)
	ran := false
	id, _ := reg.Subscribe("off", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		ran = true
		return Continue(e), nil
	}), Disabled())

	_, err := r.Dispatch(context.Background(), MustNew(TypeSessionStart, "", nil))
	require.NoError(t, err)
	assert.False(t, ran)

	info, ok := reg.Get(id)
	require.True(t, ok)
	assert.False(t, info.Enabled)
}

func TestReactor_FailOpen(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("first", AnyEvent(), 1, appendHandler("first"))
	_, _ = reg.Subscribe("broken", AnyEvent(), 2, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Continue(e.WithIdentifier("ignored")), errors.New("disk on fire")
	}))
	_, _ = reg.Subscribe("soft", AnyEvent(), 3, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		next, _ := e.WithField("trail.-1", "soft")
		return SoftError(next, "partial"), nil
	}))
	_, _ = reg.Subscribe("last", AnyEvent(), 4, appendHandler("last"))

	out, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "search", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "soft", "last"}, trail(out.Event))
	assert.Equal(t, "search", out.Event.Identifier())
	assert.Equal(t, []string{"first", "broken", "soft", "last"}, out.Executed)
	require.Len(t, out.Failures, 2)
	assert.Equal(t, "broken", out.Failures[0].Handler)
	assert.EqualError(t, out.Failures[0].Err, "disk on fire")
	assert.Equal(t, "soft", out.Failures[1].Handler)
	assert.Equal(t, "partial", out.Failures[1].Message)
	assert.Nil(t, out.Failures[1].Err)
}

func TestReactor_PanicIsSoftError(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("panics", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		panic("nil map")
	}))
	_, _ = reg.Subscribe("after", AnyEvent(), 2, appendHandler("after"))

	out, err := r.Dispatch(context.Background(), MustNew(TypeToolAfter, "x", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, trail(out.Event))
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Failures[0].Err, ErrHandlerPanic)
	assert.Equal(t, uint64(1), r.Stats().HandlerPanics)
}

func TestReactor_TimeoutIsSoftError(t *testing.T) {
	r, reg := newTestReactor(t, WithHandlerTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	_, _ = reg.Subscribe("hung", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		<-release
		return Cancel(), nil
	}))
	_, _ = reg.Subscribe("after", AnyEvent(), 2, appendHandler("after"))

	start := time.Now()
	out, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "x", nil))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, out.Cancelled)
	assert.Equal(t, []string{"after"}, trail(out.Event))
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Failures[0].Err, ErrHandlerTimeout)
	assert.Equal(t, uint64(1), r.Stats().HandlerTimeouts)
}

func TestReactor_CancelShortCircuits(t *testing.T) {
	r, reg := newTestReactor(t)
	secondRan := false
	_, _ = reg.Subscribe("rewrite", AnyEvent(), 1, appendHandler("rewrite"))
	_, _ = reg.Subscribe("deny", AnyEvent(), 2, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Cancel(), nil
	}))
	_, _ = reg.Subscribe("never", AnyEvent(), 3, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		secondRan = true
		return Continue(e), nil
	}))

	out, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "rm", nil))
	require.NoError(t, err)

	assert.False(t, secondRan)
	assert.True(t, out.Cancelled)
	assert.False(t, out.Proceed())
	assert.Equal(t, "deny", out.CancelledBy)
	assert.Equal(t, []string{"rewrite"}, trail(out.Event), "cancel keeps the last working event")
	assert.Equal(t, []string{"rewrite", "deny"}, out.Executed)
}

func TestReactor_CancelledReplacesEvent(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("deny", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		next, _ := e.WithField("reason", "blocked")
		return Cancelled(next), nil
	}))

	out, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "rm", nil))
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, "blocked", out.Event.Field("reason").String())
}

func TestReactor_ZeroResultPassesThrough(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("noop", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Result{}, nil
	}))

	in := MustNew(TypeNoteParsed, "a.md", map[string]any{"k": 1})
	out, err := r.Dispatch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out.Event)
}

func TestReactor_FatalAborts(t *testing.T) {
	r, reg := newTestReactor(t)
	laterRan := false
	_, _ = reg.Subscribe("guard", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Result{}, Fatal(errors.New("index corrupted"))
	}))
	_, _ = reg.Subscribe("later", AnyEvent(), 2, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		laterRan = true
		return Continue(e), nil
	}))

	_, err := r.Dispatch(context.Background(), MustNew(TypeNoteCreated, "a.md", nil))
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "guard", fe.Handler)
	assert.False(t, laterRan)
}

func TestReactor_CycleRunsNothing(t *testing.T) {
	r, reg := newTestReactor(t)
	ran := false
	h := HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		ran = true
		return Continue(e), nil
	})
	_, _ = reg.Subscribe("a", AnyEvent(), 1, h, DependsOn("b"))
	_, _ = reg.Subscribe("b", AnyEvent(), 1, h, DependsOn("a"))

	_, err := r.Dispatch(context.Background(), MustNew(TypeSessionStart, "", nil))
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.False(t, ran)
	assert.Equal(t, uint64(1), r.Stats().Errors)
}

func TestReactor_ContextCancelledBetweenHandlers(t *testing.T) {
	r, reg := newTestReactor(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = reg.Subscribe("cancels", AnyEvent(), 1, HandlerFunc(func(_ context.Context, e Event) (Result, error) {
		cancel()
		return Continue(e), nil
	}))
	_, _ = reg.Subscribe("never", AnyEvent(), 2, appendHandler("never"))

	out, err := r.Dispatch(ctx, MustNew(TypeSessionEnd, "", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"cancels"}, out.Executed)
}

func TestReactor_SnapshotIsolation(t *testing.T) {
	r, reg := newTestReactor(t)
	entered := make(chan struct{})
	proceed := make(chan struct{})

	_, _ = reg.Subscribe("slow", AnyEvent(), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		close(entered)
		<-proceed
		return Continue(e), nil
	}))
	_, _ = reg.Subscribe("second", AnyEvent(), 2, appendHandler("second"))

	var (
		out Outcome
		err error
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err = r.Dispatch(context.Background(), MustNew(TypeToolBefore, "x", nil))
	}()

	<-entered
	require.NoError(t, reg.UnsubscribeByName("second"))
	_, _ = reg.Subscribe("added", AnyEvent(), 0, appendHandler("added"))
	close(proceed)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, trail(out.Event))
	assert.Equal(t, []string{"slow", "second"}, out.Executed)
}

func TestReactor_Observers(t *testing.T) {
	var got []Outcome
	r, reg := newTestReactor(t, WithObserver(ObserverFunc(func(ctx context.Context, o Outcome) {
		got = append(got, o)
	})))
	r.AddObserver(ObserverFunc(func(ctx context.Context, o Outcome) {
		panic("observer bug")
	}))
	_, _ = reg.Subscribe("deny", ForType("tool:*"), 1, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Cancel(), nil
	}))

	_, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "rm", nil))
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), MustNew(TypeSessionStart, "", nil))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got[0].Cancelled)
	assert.False(t, got[1].Cancelled)
}

type recordingRecorder struct {
	mu         sync.Mutex
	dispatches []string
	handlers   []string
}

func (r *recordingRecorder) ObserveDispatch(eventType, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, eventType+"="+status)
}

func (r *recordingRecorder) ObserveHandler(handler string, _ Runtime, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler+"="+status)
}

func TestReactor_Recorder(t *testing.T) {
	rec := &recordingRecorder{}
	r, reg := newTestReactor(t, WithRecorder(rec))
	_, _ = reg.Subscribe("ok", AnyEvent(), 1, nopHandler())
	_, _ = reg.Subscribe("err", AnyEvent(), 2, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Result{}, errors.New("x")
	}))
	_, _ = reg.Subscribe("deny", AnyEvent(), 3, HandlerFunc(func(ctx context.Context, e Event) (Result, error) {
		return Cancel(), nil
	}))

	_, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "x", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"tool:before=cancelled"}, rec.dispatches)
	assert.Equal(t, []string{"ok=ok", "err=error", "deny=cancel"}, rec.handlers)
}

func TestReactor_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r, reg := newTestReactor(t, WithTracerProvider(tp))
	_, _ = reg.Subscribe("a", AnyEvent(), 1, nopHandler())
	_, _ = reg.Subscribe("b", AnyEvent(), 2, nopHandler())

	_, err := r.Dispatch(context.Background(), MustNew(TypeNoteCreated, "a.md", nil))
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "reactor.handler", spans[0].Name())
	assert.Equal(t, "reactor.handler", spans[1].Name())
	assert.Equal(t, "reactor.dispatch", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestReactor_Plan(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("b", ForType("note:*"), 2, nopHandler())
	_, _ = reg.Subscribe("a", ForType("note:*"), 1, nopHandler())
	_, _ = reg.Subscribe("t", ForType("tool:*"), 1, nopHandler())

	plan, err := r.Plan(MustNew(TypeNoteModified, "a.md", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(plan))
}

func TestReactor_ConcurrentDispatch(t *testing.T) {
	r, reg := newTestReactor(t)
	_, _ = reg.Subscribe("a", AnyEvent(), 1, appendHandler("a"))
	_, _ = reg.Subscribe("b", AnyEvent(), 2, appendHandler("b"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Dispatch(context.Background(), MustNew(TypeToolBefore, "x", nil))
			assert.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, trail(out.Event))
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(20), r.Stats().Dispatches)
}
