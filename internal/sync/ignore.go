package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/snapboxhq/snapbox/internal/utils"
	"github.com/snapboxhq/snapbox/internal/workspace"
)

const ignoreFileName = ".snapboxignore"

var defaultIgnoreLines = []string{
	// snapbox internals
	workspace.VersionsDirName + "/",
	".snapbox/",
	ignoreFileName,
	// editors and tooling
	".git/",
	".vscode",
	".idea",
	"*.swp",
	"*.tmp",
	"*.partial",
	// OS droppings
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList filters workspace-relative paths out of sync: the reserved
// subtrees plus user rules from a gitignore-style .snapboxignore file at
// the workspace root.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

// NewIgnoreList compiles the rules eagerly; the returned list is
// immutable and safe for concurrent use by the watcher filter and the
// sync goroutines.
func NewIgnoreList(baseDir string) *IgnoreList {
	l := &IgnoreList{baseDir: baseDir}
	l.load()
	return l
}

func (l *IgnoreList) load() {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(l.baseDir, ignoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("ignore file open failed", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("ignore file read failed", "path", ignorePath, "error", err)
			} else {
				slog.Info("ignore file loaded", "path", ignorePath, "rules", rules)
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether a workspace-relative path is excluded.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	return l.ignore.MatchesPath(relPath)
}

// ScanFilter combines the reserved-subtree check and the ignore rules
// into one absolute-path predicate. Every view of the tree (local scans,
// watcher events, tree uploads) must use the same predicate, or the
// comparison sees paths the upload can never contain and churns forever.
func ScanFilter(ws *workspace.Workspace, ignore *IgnoreList) FilterCallback {
	return func(absPath string) bool {
		if ws.IsReserved(absPath) {
			return true
		}
		rel, err := ws.RelPath(absPath)
		if err != nil {
			return true
		}
		return ignore.ShouldIgnore(rel)
	}
}
