package sync

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/snapboxhq/snapbox/internal/utils"
	"github.com/snapboxhq/snapbox/internal/workspace"
)

// tagTimeFormat is fixed width so archived copies of the same file sort
// chronologically by name.
const tagTimeFormat = "2006-01-02 15-04-05"

// Archiver produces versioned and conflicted copies of files that are
// about to be replaced. Copies preserve content and modification time and
// land where future scans never pick them up.
type Archiver struct {
	ws *workspace.Workspace
}

func NewArchiver(ws *workspace.Workspace) *Archiver {
	return &Archiver{ws: ws}
}

// MakeVersionedCopy archives the current content of relPath under the
// reserved versions subtree, tagged with the given mtime (the local mtime
// of the file being replaced). Returns the path of the created copy.
// Failure to create the destination directory is fatal to the sync cycle
// and is propagated.
func (a *Archiver) MakeVersionedCopy(relPath string, mtime time.Time) (string, error) {
	tag := fmt.Sprintf("(%s)", mtime.UTC().Format(tagTimeFormat))
	dest := filepath.Join(a.ws.VersionsDir, filepath.FromSlash(spliceTag(relPath, tag)))

	if err := utils.EnsureParent(dest); err != nil {
		return "", fmt.Errorf("create versions directory for %s: %w", relPath, err)
	}

	src := a.ws.AbsPath(relPath)
	if err := utils.CopyPreserve(src, dest); err != nil {
		return "", fmt.Errorf("archive %s: %w", relPath, err)
	}

	slog.Info("versioned copy", "path", relPath, "dest", dest)
	return dest, nil
}

// MakeConflictedCopy places a tagged copy of absPath next to the
// original, for divergences that need manual reconciliation.
func (a *Archiver) MakeConflictedCopy(absPath string, mtime time.Time) (string, error) {
	tag := fmt.Sprintf("(conflicted copy %s)", mtime.UTC().Format(tagTimeFormat))
	dest := spliceTag(absPath, tag)

	if err := utils.CopyPreserve(absPath, dest); err != nil {
		return "", fmt.Errorf("conflicted copy %s: %w", absPath, err)
	}

	slog.Info("conflicted copy", "path", absPath, "dest", dest)
	return dest, nil
}

// spliceTag inserts a tag between a file's base name and its extension:
// `docs/a.txt` + `(2024-01-02 03-04-05)` -> `docs/a.(2024-01-02 03-04-05).txt`.
func spliceTag(path, tag string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return base + "." + tag + ext
}
