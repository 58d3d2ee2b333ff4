package sync

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerInitialSyncOnStart(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(ws.AbsPath("a.txt"), []byte("hello"), 0o644))

	store := newFakeStore()
	m := NewManager(ws, store, Options{
		Clock:              clockwork.NewFakeClock(),
		PollInterval:       time.Hour,
		DirtyCheckInterval: time.Hour,
		Quiescence:         time.Hour,
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// empty remote: the startup pass initializes the archive
	assert.Equal(t, 1, store.uploads)
	assert.NotEmpty(t, m.Engine().LocalSnapshot())
}

func TestManagerDebouncedBackupAfterLocalChange(t *testing.T) {
	ws := newTestWorkspace(t)
	store := newFakeStore()
	clock := clockwork.NewFakeClock()
	m := NewManager(ws, store, Options{
		Clock:              clock,
		PollInterval:       time.Hour, // poll loop stays out of the way
		DirtyCheckInterval: time.Second,
		Quiescence:         time.Second,
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	require.Equal(t, 1, store.uploads)

	require.NoError(t, os.WriteFile(ws.AbsPath("new.txt"), []byte("change"), 0o644))

	// wait for the watcher to flip the dirty flag and for the burst of
	// create/write events to drain, then drive the debounce windows
	require.Eventually(t, m.debouncer.dirty.Load, 5*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)

	clock.BlockUntil(2) // debounce check + poll loop
	clock.Advance(time.Second)
	clock.BlockUntil(3) // quiescence wait armed
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.uploads >= 2
	}, 5*time.Second, 10*time.Millisecond)

	latest := m.Engine().LocalSnapshot()
	_, ok := store.snapshots[latest]["new.txt"]
	assert.True(t, ok, "changed file lands in the new snapshot")
}

func TestManagerPollPullsRemoteSnapshot(t *testing.T) {
	ws := newTestWorkspace(t)
	store := newFakeStore()
	clock := clockwork.NewFakeClock()
	m := NewManager(ws, store, Options{
		Clock:              clock,
		PollInterval:       20 * time.Second,
		DirtyCheckInterval: time.Hour, // debounce loop stays out of the way
		Quiescence:         time.Hour,
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	store.addSnapshot("2099-01-01T000001", map[string]fakeFile{
		"pulled.txt": {content: "from another client", mtime: 500},
	})

	clock.BlockUntil(2)
	clock.Advance(20 * time.Second)

	require.Eventually(t, func() bool {
		_, err := os.Stat(ws.AbsPath("pulled.txt"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	content, err := os.ReadFile(ws.AbsPath("pulled.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from another client", string(content))

	require.Eventually(t, func() bool {
		return m.Engine().LocalSnapshot() == "2099-01-01T000001"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerResumesPointerAcrossRestart(t *testing.T) {
	ws := newTestWorkspace(t)
	store := newFakeStore()
	opts := Options{
		Clock:              clockwork.NewFakeClock(),
		PollInterval:       time.Hour,
		DirtyCheckInterval: time.Hour,
		Quiescence:         time.Hour,
	}

	m := NewManager(ws, store, opts)
	require.NoError(t, m.Start(context.Background()))
	first := m.Engine().LocalSnapshot()
	require.NotEmpty(t, first)
	require.NoError(t, m.Stop())
	require.Equal(t, 1, store.uploads)

	opts.Clock = clockwork.NewFakeClock()
	restarted := NewManager(ws, store, opts)
	require.NoError(t, restarted.Start(context.Background()))
	defer restarted.Stop()

	// nothing changed while down: the startup pass compares and stays
	// put instead of re-initializing
	assert.Equal(t, 1, store.uploads)
	assert.Equal(t, first, restarted.Engine().LocalSnapshot())
}

func TestManagerStopWithoutActivity(t *testing.T) {
	ws := newTestWorkspace(t)
	m := NewManager(ws, newFakeStore(), Options{
		Clock:              clockwork.NewFakeClock(),
		PollInterval:       time.Hour,
		DirtyCheckInterval: time.Hour,
		Quiescence:         time.Hour,
	})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}
