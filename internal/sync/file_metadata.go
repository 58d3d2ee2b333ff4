package sync

import (
	"time"
)

// FileMetadata is one entry of a local tree scan. Directory entries carry
// no size or mtime, matching the remote metadata shape.
type FileMetadata struct {
	RelPath string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// LocalTree maps normalized workspace-relative paths to scan entries.
// Rebuilt in full on every sync cycle, never persisted.
type LocalTree map[string]*FileMetadata

// MtimeSec returns the modification time truncated to whole seconds, the
// granularity at which local and remote mtimes are compared.
func (m *FileMetadata) MtimeSec() int64 {
	return m.ModTime.Unix()
}
