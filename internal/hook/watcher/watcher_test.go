package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/quill/internal/hook"
)

type recordingReloader struct {
	mu    sync.Mutex
	files []string
	dirs  []string
}

func (r *recordingReloader) ReloadFile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, path)
	return nil
}

func (r *recordingReloader) ReloadDir(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, dir)
	return nil
}

func (r *recordingReloader) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...), append([]string(nil), r.dirs...)
}

func newTestWatcher(t *testing.T, r Reloader, delay time.Duration) *Watcher {
	t.Helper()
	w, err := New(r, WithDelay(delay), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestDebounceCoalesces(t *testing.T) {
	r := &recordingReloader{}
	w := newTestWatcher(t, r, time.Hour)

	for range 5 {
		w.handle(fsnotify.Event{Name: "/hooks/a.lua", Op: fsnotify.Write})
	}
	w.handle(fsnotify.Event{Name: "/hooks/b.cue", Op: fsnotify.Create})
	w.handle(fsnotify.Event{Name: "/hooks/notes.md", Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: "/hooks/a.lua", Op: fsnotify.Chmod})
	w.handle(fsnotify.Event{Name: "/hooks/" + hook.ManifestFile, Op: fsnotify.Write})

	assert.Equal(t, 3, w.Stats().Pending)
	w.Flush()

	files, dirs := r.snapshot()
	assert.ElementsMatch(t, []string{"/hooks/a.lua", "/hooks/b.cue"}, files)
	assert.Equal(t, []string{"/hooks"}, dirs)

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.Reloads)
	assert.Zero(t, stats.Failures)
	assert.Zero(t, stats.Pending)
}

func TestDebounceFiresAfterDelay(t *testing.T) {
	r := &recordingReloader{}
	w := newTestWatcher(t, r, 10*time.Millisecond)

	w.handle(fsnotify.Event{Name: "/hooks/a.lua", Op: fsnotify.Write})
	assert.Eventually(t, func() bool {
		files, _ := r.snapshot()
		return len(files) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	r := &recordingReloader{}
	w := newTestWatcher(t, r, 20*time.Millisecond)
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, "guards.lua")
	require.NoError(t, os.WriteFile(path, []byte("-- v1"), 0o644))

	assert.Eventually(t, func() bool {
		files, _ := r.snapshot()
		return len(files) > 0
	}, 2*time.Second, 10*time.Millisecond)

	files, _ := r.snapshot()
	assert.Equal(t, path, files[0])

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, w.Add(dir), ErrWatcherClosed)
}
