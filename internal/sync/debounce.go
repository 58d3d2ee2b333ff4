package sync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer converts a burst of local change notifications into a single
// backup trigger once the directory has been quiescent for a full window.
//
// A dirty flag is set on every change. The check loop inspects it every
// checkInterval; when set and no sync is in flight, the flag is cleared
// and a quiescence wait is armed. If no further change re-set the flag
// during the wait, the trigger fires; otherwise the cycle is skipped and
// a later check re-arms it. The two-phase check absorbs applications
// writing a file in many chunks without re-syncing on every write.
type Debouncer struct {
	clock         clockwork.Clock
	checkInterval time.Duration
	quiescence    time.Duration
	busy          func() bool
	trigger       func()

	dirty atomic.Bool
	wg    sync.WaitGroup
}

func NewDebouncer(clock clockwork.Clock, checkInterval, quiescence time.Duration, busy func() bool, trigger func()) *Debouncer {
	return &Debouncer{
		clock:         clock,
		checkInterval: checkInterval,
		quiescence:    quiescence,
		busy:          busy,
		trigger:       trigger,
	}
}

// MarkDirty records that a local change happened. Safe to call from any
// goroutine.
func (d *Debouncer) MarkDirty() {
	d.dirty.Store(true)
}

// Run drives the check loop until ctx is cancelled, then waits for any
// armed quiescence wait to unwind.
func (d *Debouncer) Run(ctx context.Context) {
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(d.checkInterval):
			d.check(ctx)
		}
	}
}

func (d *Debouncer) check(ctx context.Context) {
	if !d.dirty.Load() || d.busy() {
		return
	}
	d.dirty.Store(false)

	// quiescence wait runs off the check loop so ticks keep flowing
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(d.quiescence):
		}

		if d.dirty.Load() {
			// more writes arrived, let a later check retry
			slog.Debug("debounce skipped, directory still changing")
			return
		}
		d.trigger()
	}()
}
