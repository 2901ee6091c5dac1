package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func waitEvent(t *testing.T, w Watcher) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "event channel closed before an event arrived")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for filesystem event")
		return Event{}
	}
}

func TestWatchListBookkeeping(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.ts")
	b := filepath.Join(dir, "b.ts")
	writeFile(t, a, "export {};")
	writeFile(t, b, "export {};")

	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(b))
	require.NoError(t, w.Add(a))
	require.NoError(t, w.Add(a), "re-adding a watched path should be a no-op")
	assert.Equal(t, []string{a, b}, w.WatchList(), "watch list should be sorted")

	require.NoError(t, w.Remove(b))
	assert.Equal(t, []string{a}, w.WatchList())

	require.NoError(t, w.Remove(b), "removing an unwatched path should be a no-op")
}

func TestAddMissingPath(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	err = w.Add(filepath.Join(t.TempDir(), "does-not-exist.ts"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist.ts")
	assert.Empty(t, w.WatchList(), "a failed add must not be tracked")
}

func TestWriteEventDelivery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.tsx")
	writeFile(t, path, "export {};")

	w, err := New()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(path))

	writeFile(t, path, "export default 1;")

	ev := waitEvent(t, w)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, OpWrite, ev.Op)
}

func TestAtomicSaveKeepsWatchAlive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.tsx")
	writeFile(t, path, "export {};")

	w, err := New()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(path))

	// Save the way editors do: write a sibling, then rename it over the
	// original so the watched inode is replaced.
	tmp := filepath.Join(dir, "index.tsx.tmp")
	writeFile(t, tmp, "export default 1;")
	require.NoError(t, os.Rename(tmp, path))

	first := waitEvent(t, w)
	assert.Equal(t, path, first.Path)
	assert.NotEqual(t, OpWrite, first.Op, "replacing the inode should surface as remove or rename")

	// The watch must survive the replacement: a plain write afterwards
	// still has to produce an event.
	writeFile(t, path, "export default 2;")

	for {
		ev := waitEvent(t, w)
		require.Equal(t, path, ev.Path)
		if ev.Op == OpWrite {
			break
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.Add(t.TempDir())
	require.Error(t, err)
}

func TestOpMapping(t *testing.T) {
	assert.Equal(t, OpCreate, opFor(fsnotify.Create))
	assert.Equal(t, OpWrite, opFor(fsnotify.Write))
	assert.Equal(t, OpWrite, opFor(fsnotify.Write|fsnotify.Chmod))
	assert.Equal(t, OpRemove, opFor(fsnotify.Remove))
	assert.Equal(t, OpRename, opFor(fsnotify.Rename))
}
