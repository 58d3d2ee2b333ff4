package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/snapboxhq/snapbox/internal/remote"
	"github.com/snapboxhq/snapbox/internal/workspace"
)

// Options tune the manager's schedulers. Zero values fall back to the
// defaults from the config package semantics.
type Options struct {
	PollInterval       time.Duration
	Quiescence         time.Duration
	DirtyCheckInterval time.Duration
	Clock              clockwork.Clock

	// Ignore, when set, is the shared ignore list. The caller passes the
	// same list it wired into the store's upload skip, so scan view and
	// upload view always agree.
	Ignore *IgnoreList
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 20 * time.Second
	}
	if o.Quiescence <= 0 {
		o.Quiescence = time.Second
	}
	if o.DirtyCheckInterval <= 0 {
		o.DirtyCheckInterval = time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

func (o *Options) ignoreFor(ws *workspace.Workspace) *IgnoreList {
	if o.Ignore != nil {
		return o.Ignore
	}
	return NewIgnoreList(ws.Root)
}

// Manager wires the watcher, debouncer and poller to one engine and owns
// their lifecycle. One Manager serves one synced directory; independent
// directories get independent managers and may sync in parallel.
type Manager struct {
	ws        *workspace.Workspace
	journal   *Journal
	engine    *Engine
	watcher   *FileWatcher
	debouncer *Debouncer
	poller    *Poller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(ws *workspace.Workspace, store remote.Store, opts Options) *Manager {
	opts.withDefaults()

	ignore := opts.ignoreFor(ws)
	journal := NewJournal(ws.JournalPath())
	archiver := NewArchiver(ws)
	engine := NewEngine(ws, store, journal, archiver, ignore)

	m := &Manager{
		ws:      ws,
		journal: journal,
		engine:  engine,
	}

	m.watcher = NewFileWatcher(ws.Root, ScanFilter(ws, ignore))

	m.debouncer = NewDebouncer(opts.Clock, opts.DirtyCheckInterval, opts.Quiescence,
		engine.Busy,
		func() { m.dispatchBackup() })

	m.poller = NewPoller(opts.Clock, opts.PollInterval, store,
		engine.Busy,
		engine.LocalSnapshot,
		func(target string, skipComparison bool) { m.dispatchSync(target, skipComparison) })

	return m
}

// Engine exposes the engine for manual sync triggers.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Start opens the journal, runs one initial sync, then starts the
// watcher, the dirty-check loop and the remote poll loop.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	if err := m.journal.Open(); err != nil {
		return err
	}
	if err := m.engine.RestorePointer(); err != nil {
		return fmt.Errorf("restore snapshot pointer: %w", err)
	}

	// one full pass before watching, so a long-offline directory
	// converges before events start flowing
	if err := m.engine.Sync(ctx, "", false); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("initial sync failed, continuing", "error", err)
	}

	if err := m.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleWatcherEvents(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.debouncer.Run(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poller.Run(ctx)
	}()

	return nil
}

// Stop cancels the dirty-check and poll loops, stops the watcher, then
// waits for any in-flight sync to finish. No background work survives the
// call.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.watcher.Stop()
	m.wg.Wait()
	return m.journal.Close()
}

func (m *Manager) handleWatcherEvents(ctx context.Context) {
	events := m.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			m.debouncer.MarkDirty()
		}
	}
}

// dispatchBackup runs the debounced backup off the scheduler goroutine.
func (m *Manager) dispatchBackup() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.engine.PerformBackup(context.Background()); err != nil {
			if errors.Is(err, ErrSyncInFlight) {
				slog.Debug("backup dropped, sync in flight")
				return
			}
			slog.Warn("backup failed", "error", err)
		}
	}()
}

// dispatchSync runs a poll-triggered sync off the scheduler goroutine.
func (m *Manager) dispatchSync(target string, skipComparison bool) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.engine.Sync(context.Background(), target, skipComparison); err != nil {
			if errors.Is(err, ErrSyncInFlight) {
				slog.Debug("sync dropped, another in flight")
				return
			}
			slog.Warn("sync failed", "error", err)
		}
	}()
}
