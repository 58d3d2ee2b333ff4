// Package remote defines the snapshot store capability consumed by the sync
// engine: listing archived snapshots, fetching per-snapshot metadata,
// downloading content blobs and uploading the full local tree as a new
// immutable snapshot.
package remote

import (
	"context"
	"slices"
	"time"
)

// Latest is the well-known alias the store resolves to the live
// (non-archived) tree.
const Latest = "Latest"

// EntryType discriminates metadata entries.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "directory"
)

// Entry describes one path inside a snapshot. Mtime is truncated to whole
// seconds by the server.
type Entry struct {
	Type      EntryType `json:"type"`
	Size      int64     `json:"size"`
	Mtime     int64     `json:"mtime"`
	ContentID string    `json:"content_id,omitempty"`
}

// Tree maps slash-separated relative paths to entries. Immutable once
// fetched for an archived snapshot.
type Tree map[string]Entry

// Store is the remote snapshot store capability.
type Store interface {
	// ListArchive returns the snapshot identifiers under the directory's
	// archive namespace, in no particular order. Returns a *NotFoundError
	// when the namespace does not exist yet.
	ListArchive(ctx context.Context) ([]string, error)

	// GetMetadata returns the recursive metadata tree for ref, which is
	// either the Latest alias or an archived snapshot identifier.
	GetMetadata(ctx context.Context, ref string) (Tree, error)

	// Download fetches a content blob to dest and sets its mtime.
	Download(ctx context.Context, contentID, dest string, mtime time.Time) error

	// UploadTree uploads the full local tree as a new immutable snapshot
	// and returns its identifier.
	UploadTree(ctx context.Context, localRoot string) (string, error)
}

// LatestSnapshot picks the most recent identifier from ids. Snapshot ids
// sort lexicographically, newest last; they are never parsed numerically.
func LatestSnapshot(ids []string) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	return slices.Max(ids), true
}
