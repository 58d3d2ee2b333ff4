// Package workspace defines the on-disk layout of a synced directory: the
// user tree, the reserved versions subtree holding archived file versions,
// and the internal metadata directory.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/snapboxhq/snapbox/internal/utils"
)

const (
	// VersionsDirName is the reserved subtree for versioned and conflicted
	// copies. Nothing under it is ever a sync input.
	VersionsDirName = ".snapbox-versions"

	metaDirName = ".snapbox"
	lockFile    = "snapbox.lock"
	journalFile = "journal.db"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

type Workspace struct {
	Root        string
	VersionsDir string
	MetaDir     string

	flock *flock.Flock
}

func New(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, metaDirName)

	return &Workspace{
		Root:        root,
		VersionsDir: filepath.Join(root, VersionsDirName),
		MetaDir:     metaDir,
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}, nil
}

// Setup creates the workspace directories and takes the single-instance
// lock.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.Root, w.MetaDir, w.VersionsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) Lock() error {
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// nothing to release when this process never held the lock
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// JournalPath is the sqlite file recording the local snapshot pointer and
// sync history.
func (w *Workspace) JournalPath() string {
	return filepath.Join(w.MetaDir, journalFile)
}

// AbsPath returns the absolute path of a workspace-relative path.
func (w *Workspace) AbsPath(relPath string) string {
	return filepath.Join(w.Root, filepath.FromSlash(relPath))
}

// RelPath returns the normalized workspace-relative path of an absolute
// path inside the root.
func (w *Workspace) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside workspace %s", absPath, w.Root)
	}
	return utils.NormPath(rel), nil
}

// IsReserved reports whether an absolute path falls under the versions
// subtree or the metadata directory.
func (w *Workspace) IsReserved(absPath string) bool {
	for _, dir := range []string{w.VersionsDir, w.MetaDir} {
		if absPath == dir || strings.HasPrefix(absPath, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
