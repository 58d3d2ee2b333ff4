//go:build linux || darwin

package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/require"
)

func collectEvent(t *testing.T, events <-chan notify.EventInfo, match func(notify.EventInfo) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			require.True(t, ok, "event channel closed")
			if match(event) {
				return
			}
		case <-deadline:
			t.Fatal("expected event never arrived")
		}
	}
}

func TestFileWatcherDeliversEvents(t *testing.T) {
	dir := t.TempDir()
	fw := NewFileWatcher(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))
	defer fw.Stop()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	collectEvent(t, fw.Events(), func(e notify.EventInfo) bool {
		return filepath.Base(e.Path()) == "a.txt"
	})
}

func TestFileWatcherRecursive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	fw := NewFileWatcher(dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))
	defer fw.Stop()

	path := filepath.Join(dir, "sub", "nested.txt")
	require.NoError(t, os.WriteFile(path, []byte("deep"), 0o644))

	collectEvent(t, fw.Events(), func(e notify.EventInfo) bool {
		return filepath.Base(e.Path()) == "nested.txt"
	})
}

func TestFileWatcherFilter(t *testing.T) {
	dir := t.TempDir()
	fw := NewFileWatcher(dir, func(absPath string) bool {
		return strings.HasSuffix(absPath, ".ignored")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop.ignored"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("y"), 0o644))

	// only the unfiltered path comes through
	collectEvent(t, fw.Events(), func(e notify.EventInfo) bool {
		require.False(t, strings.HasSuffix(e.Path(), ".ignored"), "filtered event leaked")
		return filepath.Base(e.Path()) == "keep.txt"
	})
}

func TestFileWatcherStopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	fw := NewFileWatcher(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	fw.Stop()
	select {
	case _, ok := <-fw.Events():
		require.False(t, ok, "events channel should be closed after Stop")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}
