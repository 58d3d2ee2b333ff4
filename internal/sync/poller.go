package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/snapboxhq/snapbox/internal/remote"
)

// Poller periodically asks the remote store for the newest snapshot in
// the archive namespace and dispatches a sync when it differs from the
// local pointer.
//
// Error policy: only a missing archive namespace triggers the
// first-backup initialization; transient failures wait for the next tick
// and fatal failures suspend polling until the operator reconfigures.
type Poller struct {
	clock    clockwork.Clock
	interval time.Duration
	store    remote.Store

	busy          func() bool
	localSnapshot func() string
	dispatch      func(target string, skipComparison bool)
}

func NewPoller(clock clockwork.Clock, interval time.Duration, store remote.Store,
	busy func() bool, localSnapshot func() string, dispatch func(target string, skipComparison bool)) *Poller {
	return &Poller{
		clock:         clock,
		interval:      interval,
		store:         store,
		busy:          busy,
		localSnapshot: localSnapshot,
		dispatch:      dispatch,
	}
}

// Run polls until ctx is cancelled or a fatal remote error suspends the
// loop.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
			if suspend := p.poll(ctx); suspend {
				slog.Error("remote polling suspended until reconfigured")
				return
			}
		}
	}
}

// poll performs one check. Returns true when polling must stop for good.
func (p *Poller) poll(ctx context.Context) bool {
	ids, err := p.store.ListArchive(ctx)

	switch {
	case err == nil:
	case remote.IsNotFound(err):
		slog.Info("no remote snapshots yet, scheduling first backup")
		p.dispatch("", true)
		return false
	case remote.IsTransient(err):
		slog.Warn("remote poll failed, will retry", "error", err)
		return false
	case remote.IsFatal(err):
		slog.Error("remote poll failed", "error", err)
		return true
	default:
		// context cancellation lands here
		slog.Debug("remote poll aborted", "error", err)
		return false
	}

	latest, ok := remote.LatestSnapshot(ids)
	if !ok {
		// namespace exists but holds nothing
		slog.Info("remote archive empty, scheduling first backup")
		p.dispatch("", true)
		return false
	}

	if latest != p.localSnapshot() && !p.busy() {
		slog.Debug("new remote snapshot", "snapshot", latest)
		p.dispatch(latest, false)
	}
	return false
}
