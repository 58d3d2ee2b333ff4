// Package daemon assembles the workspace, remote store and sync manager
// into the long-running snapbox process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapboxhq/snapbox/internal/config"
	"github.com/snapboxhq/snapbox/internal/remote"
	"github.com/snapboxhq/snapbox/internal/sync"
	"github.com/snapboxhq/snapbox/internal/workspace"
)

type Daemon struct {
	cfg *config.Config
	ws  *workspace.Workspace
	mgr *sync.Manager
}

func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ws, err := workspace.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	// uploads must skip exactly what local scans skip, or ignored paths
	// land in snapshots and get pulled back on every comparison
	ignore := sync.NewIgnoreList(ws.Root)
	skip := remote.SkipFunc(sync.ScanFilter(ws, ignore))

	httpStore := remote.NewHTTPStore(cfg.ServerURL, cfg.RemoteDir, remote.WithSkip(skip))
	store, err := remote.NewCachingStore(httpStore)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}

	mgr := sync.NewManager(ws, store, sync.Options{
		PollInterval:       cfg.PollInterval,
		Quiescence:         cfg.Quiescence,
		DirtyCheckInterval: cfg.DirtyCheckInterval,
		Ignore:             ignore,
	})

	return &Daemon{cfg: cfg, ws: ws, mgr: mgr}, nil
}

// Start runs until ctx is cancelled. The workspace lock is held for the
// whole lifetime so two daemons never sync the same directory.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("daemon start", "data", d.cfg.DataDir, "server", d.cfg.ServerURL)

	if err := d.ws.Setup(); err != nil {
		if errors.Is(err, workspace.ErrWorkspaceLocked) {
			return fmt.Errorf("%s is already being synced by another process", d.ws.Root)
		}
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.mgr.Start(egCtx); err != nil {
			return fmt.Errorf("start sync manager: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return d.stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

func (d *Daemon) stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- d.mgr.Stop()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("sync manager shutdown: %w", ctx.Err())
	}

	if unlockErr := d.ws.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}
