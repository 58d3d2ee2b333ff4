package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/snapboxhq/snapbox/internal/remote"
	"github.com/snapboxhq/snapbox/internal/utils"
	"github.com/snapboxhq/snapbox/internal/workspace"
)

// ErrSyncInFlight is returned when a sync is requested while another one
// is still running for the same directory. The caller drops the trigger;
// a later tick or poll retries.
var ErrSyncInFlight = errors.New("sync already in flight")

// Engine reconciles the local tree with one remote snapshot at a time.
// Cycles for the same directory are strictly serialized: a trigger
// arriving mid-cycle is rejected with ErrSyncInFlight, never interleaved.
type Engine struct {
	ws       *workspace.Workspace
	store    remote.Store
	journal  *Journal
	archiver *Archiver
	skip     FilterCallback

	muSync  sync.Mutex
	syncing atomic.Bool

	muPointer     sync.RWMutex
	localSnapshot string
}

func NewEngine(ws *workspace.Workspace, store remote.Store, journal *Journal, archiver *Archiver, ignore *IgnoreList) *Engine {
	return &Engine{
		ws:       ws,
		store:    store,
		journal:  journal,
		archiver: archiver,
		skip:     ScanFilter(ws, ignore),
	}
}

// Busy reports whether a sync cycle is currently running. The watcher's
// debounce check treats a busy directory as not ready for backup.
func (e *Engine) Busy() bool {
	return e.syncing.Load()
}

// LocalSnapshot returns the identifier of the snapshot this directory was
// last synchronized to, or "" before the first completed sync.
func (e *Engine) LocalSnapshot() string {
	e.muPointer.RLock()
	defer e.muPointer.RUnlock()
	return e.localSnapshot
}

func (e *Engine) setLocalSnapshot(id string) {
	e.muPointer.Lock()
	e.localSnapshot = id
	e.muPointer.Unlock()

	if err := e.journal.SetPointer(id); err != nil {
		slog.Error("journal pointer update failed", "error", err)
	}
}

// RestorePointer loads the persisted snapshot pointer, so a restarted
// daemon does not mistake an already-initialized directory for a fresh
// one.
func (e *Engine) RestorePointer() error {
	id, err := e.journal.Pointer()
	if err != nil {
		return err
	}
	if id != "" {
		e.muPointer.Lock()
		e.localSnapshot = id
		e.muPointer.Unlock()
		slog.Info("resuming from snapshot", "snapshot", id)
	}
	return nil
}

// Sync runs one reconciliation cycle against target (an archived snapshot
// identifier, or "" for the live tree). With skipComparison the local
// tree is unconditionally uploaded as a new snapshot; this is the
// first-time initialization path and the debounced local-change path,
// where local is authoritative.
func (e *Engine) Sync(ctx context.Context, target string, skipComparison bool) error {
	if !e.muSync.TryLock() {
		return ErrSyncInFlight
	}
	defer e.muSync.Unlock()

	e.syncing.Store(true)
	defer e.syncing.Store(false)

	rec := &CycleRecord{
		CycleID:   uuid.NewString(),
		Reason:    "compare",
		StartedAt: time.Now(),
	}
	if skipComparison {
		rec.Reason = "backup"
	}

	slog.Info("sync start", "cycle", rec.CycleID, "target", targetOrLatest(target), "skipComparison", skipComparison)

	var err error
	if skipComparison {
		err = e.uploadAll(ctx, rec)
	} else {
		err = e.compare(ctx, target, rec)
	}
	if err != nil {
		slog.Error("sync failed", "cycle", rec.CycleID, "error", err)
		return err
	}

	rec.SnapshotID = e.LocalSnapshot()
	rec.Duration = time.Since(rec.StartedAt)
	if err := e.journal.RecordCycle(rec); err != nil {
		slog.Error("journal record failed", "cycle", rec.CycleID, "error", err)
	}

	slog.Info("sync done", "cycle", rec.CycleID,
		"snapshot", rec.SnapshotID,
		"downloads", rec.Downloads,
		"archived", rec.Archived,
		"uploaded", rec.Uploaded,
		"took", rec.Duration)
	return nil
}

// PerformBackup is the debounced local-change entry point, mirroring the
// manual flow: when the remote has nothing newer than our pointer the
// cheapest correct action is a full upload; when it does, reconcile
// against the newer snapshot first.
func (e *Engine) PerformBackup(ctx context.Context) error {
	latest, err := e.latestSnapshotID(ctx)
	if err != nil {
		if remote.IsNotFound(err) {
			return e.Sync(ctx, "", true)
		}
		return fmt.Errorf("resolve latest snapshot: %w", err)
	}

	if latest == "" || latest == e.LocalSnapshot() {
		return e.Sync(ctx, "", true)
	}
	return e.Sync(ctx, latest, false)
}

// uploadAll pushes the full local tree as a new immutable snapshot and
// advances the pointer to it.
func (e *Engine) uploadAll(ctx context.Context, rec *CycleRecord) error {
	id, err := e.store.UploadTree(ctx, e.ws.Root)
	if err != nil {
		return fmt.Errorf("upload tree: %w", err)
	}

	rec.Uploaded = true
	e.setLocalSnapshot(id)
	return nil
}

func (e *Engine) compare(ctx context.Context, target string, rec *CycleRecord) error {
	ref := targetOrLatest(target)

	remoteTree, err := e.store.GetMetadata(ctx, ref)
	if err != nil {
		if remote.IsNotFound(err) {
			// nothing on the remote at all: initialize
			slog.Info("remote tree missing, performing first backup")
			return e.uploadAll(ctx, rec)
		}
		return fmt.Errorf("get remote metadata %s: %w", ref, err)
	}

	localTree, err := ScanTree(e.ws.Root, e.skip)
	if err != nil {
		return fmt.Errorf("scan local tree: %w", err)
	}

	// remote directories absent locally are created first so file
	// downloads always find their parents
	for _, relPath := range sortedPaths(remoteTree) {
		entry := remoteTree[relPath]
		if entry.Type != remote.EntryDir {
			continue
		}
		absPath := e.ws.AbsPath(relPath)
		if !utils.DirExists(absPath) {
			slog.Info("creating directory", "path", relPath)
			if err := utils.EnsureDir(absPath); err != nil {
				return fmt.Errorf("create directory %s: %w", relPath, err)
			}
		}
	}

	backupOwed := false
	var bytesDown uint64

	for _, relPath := range sortedPaths(remoteTree) {
		entry := remoteTree[relPath]
		if entry.Type != remote.EntryFile {
			continue
		}

		absPath := e.ws.AbsPath(relPath)
		remoteMtime := time.Unix(entry.Mtime, 0)

		local, exists := localTree[relPath]
		if !exists {
			// local is missing: download
			if err := e.store.Download(ctx, entry.ContentID, absPath, remoteMtime); err != nil {
				return fmt.Errorf("download %s: %w", relPath, err)
			}
			rec.Downloads++
			bytesDown += uint64(entry.Size)
			continue
		}

		switch {
		case entry.Mtime > local.MtimeSec():
			// remote is newer: archive the local version, then replace
			if _, err := e.archiver.MakeVersionedCopy(relPath, local.ModTime); err != nil {
				return err
			}
			rec.Archived++
			if err := e.store.Download(ctx, entry.ContentID, absPath, remoteMtime); err != nil {
				return fmt.Errorf("download %s: %w", relPath, err)
			}
			rec.Downloads++
			bytesDown += uint64(entry.Size)
		case entry.Mtime < local.MtimeSec():
			// local is newer: leave it alone, owe a backup
			backupOwed = true
		default:
			// equal at second granularity: in sync
		}
	}

	// anything local the snapshot lacks owes a backup. A path that was
	// deleted remotely looks identical to one created locally, so it is
	// re-uploaded rather than deleted (metadata-only design, no
	// tombstones).
	for relPath := range localTree {
		if _, ok := remoteTree[relPath]; !ok {
			slog.Debug("local-only path, backup owed", "path", relPath)
			backupOwed = true
			break
		}
	}

	if bytesDown > 0 {
		slog.Info("downloaded", "files", rec.Downloads, "bytes", humanize.Bytes(bytesDown))
	}

	if backupOwed {
		return e.uploadAll(ctx, rec)
	}

	// no upload happened; the pointer moves to the newest archived
	// snapshot so future polls compare against the right baseline
	latest, err := e.latestSnapshotID(ctx)
	if err != nil && !remote.IsNotFound(err) {
		return fmt.Errorf("resolve latest snapshot: %w", err)
	}
	if latest != "" {
		e.setLocalSnapshot(latest)
	}
	return nil
}

func (e *Engine) latestSnapshotID(ctx context.Context) (string, error) {
	ids, err := e.store.ListArchive(ctx)
	if err != nil {
		return "", err
	}
	latest, _ := remote.LatestSnapshot(ids)
	return latest, nil
}

func sortedPaths(tree remote.Tree) []string {
	paths := make([]string, 0, len(tree))
	for path := range tree {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func targetOrLatest(target string) string {
	if target == "" {
		return remote.Latest
	}
	return target
}
