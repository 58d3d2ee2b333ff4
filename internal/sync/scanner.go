package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/snapboxhq/snapbox/internal/utils"
)

// ScanTree walks root and returns an entry for every directory and file
// below it, following symbolic links. Paths for which skip returns true
// are excluded along with everything beneath them. The walk is
// deterministic for identical filesystem state: directory entries are
// visited in name order. A directory whose real path was already walked
// is recorded but not descended into, so symlink cycles terminate.
func ScanTree(root string, skip func(absPath string) bool) (LocalTree, error) {
	tree := make(LocalTree)
	visited := make(map[string]bool)
	if real, err := filepath.EvalSymlinks(root); err == nil {
		visited[real] = true
	}
	if err := scanDir(root, root, skip, tree, visited); err != nil {
		return nil, err
	}
	return tree, nil
}

func scanDir(root, dir string, skip func(string) bool, tree LocalTree, visited map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		absPath := filepath.Join(dir, entry.Name())
		if skip != nil && skip(absPath) {
			continue
		}

		// Stat, not Lstat: symlinks resolve to their targets.
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", absPath, err)
		}

		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)

		if info.IsDir() {
			tree[rel] = &FileMetadata{RelPath: rel, IsDir: true}

			real, err := filepath.EvalSymlinks(absPath)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", absPath, err)
			}
			if visited[real] {
				continue
			}
			visited[real] = true

			if err := scanDir(root, absPath, skip, tree, visited); err != nil {
				return err
			}
			continue
		}

		tree[rel] = &FileMetadata{
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
	}

	return nil
}
