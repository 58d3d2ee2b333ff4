package sync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rjeczalik/notify"
)

const eventBufferSize = 64

// FilterCallback returns true if the event for this absolute path should
// be dropped before it reaches the sync pipeline.
type FilterCallback func(absPath string) bool

// FileWatcher delivers change notifications for the watched root. Events
// under reserved subtrees are filtered out so archived copies never
// retrigger a sync.
type FileWatcher struct {
	watchDir string
	filter   FilterCallback
	events   chan notify.EventInfo
	raw      chan notify.EventInfo
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewFileWatcher(watchDir string, filter FilterCallback) *FileWatcher {
	return &FileWatcher{
		watchDir: watchDir,
		filter:   filter,
		done:     make(chan struct{}),
	}
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.raw = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := fw.watchDir + "/..."
	if err := notify.Watch(recursivePath, fw.raw, notify.All); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	close(fw.done)
	if fw.raw != nil {
		notify.Stop(fw.raw)
	}
	fw.wg.Wait()
	slog.Info("file watcher stop")
}

func (fw *FileWatcher) Events() <-chan notify.EventInfo {
	return fw.events
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		fw.wg.Done()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.raw:
			if !ok {
				return
			}
			if fw.filter != nil && fw.filter(event.Path()) {
				continue
			}
			select {
			case fw.events <- event:
				slog.Debug("file watcher", "event", event.Event(), "path", event.Path())
			default:
				slog.Warn("file watcher dropped", "reason", "channel full", "path", event.Path())
			}
		}
	}
}
