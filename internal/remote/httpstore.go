package remote

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/imroc/req/v3"
	"github.com/klauspost/pgzip"

	"github.com/snapboxhq/snapbox/internal/utils"
	"github.com/snapboxhq/snapbox/internal/version"
)

const (
	defaultTimeout    = 2 * time.Minute
	retryCount        = 3
	retryBackoffMin   = 1 * time.Second
	retryBackoffMax   = 5 * time.Second
	uploadContentType = "application/x-tar+gzip"
)

type listArchiveResponse struct {
	Snapshots []string `json:"snapshots"`
}

type metadataResponse struct {
	Entries Tree `json:"entries"`
}

type backupResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// SkipFunc filters absolute paths out of tree uploads.
type SkipFunc func(absPath string) bool

// HTTPStore implements Store against the snapbox snapshot gateway. It is
// scoped to one remote directory namespace.
type HTTPStore struct {
	client *req.Client
	dir    string
	skip   SkipFunc
}

type HTTPOption func(*HTTPStore)

// WithSkip sets a filter applied during tree uploads, so reserved subtrees
// never reach the remote.
func WithSkip(skip SkipFunc) HTTPOption {
	return func(s *HTTPStore) {
		s.skip = skip
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPStore) {
		s.client.SetTimeout(d)
	}
}

func NewHTTPStore(baseURL, dir string, opts ...HTTPOption) *HTTPStore {
	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetUserAgent("Snapbox/" + version.Version).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonRetryCount(retryCount).
		SetCommonRetryBackoffInterval(retryBackoffMin, retryBackoffMax).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		})

	s := &HTTPStore{
		client: client,
		dir:    dir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPStore) ListArchive(ctx context.Context) ([]string, error) {
	var result listArchiveResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		Get(s.dirPath("archive"))

	if err := s.wrapError("list archive", "archive", resp, err); err != nil {
		return nil, err
	}
	return result.Snapshots, nil
}

func (s *HTTPStore) GetMetadata(ctx context.Context, ref string) (Tree, error) {
	var result metadataResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ref", ref).
		SetSuccessResult(&result).
		Get(s.dirPath("metadata"))

	if err := s.wrapError("get metadata", ref, resp, err); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

func (s *HTTPStore) Download(ctx context.Context, contentID, dest string, mtime time.Time) error {
	if err := utils.EnsureParent(dest); err != nil {
		return fmt.Errorf("create parent for %s: %w", dest, err)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetOutputFile(dest).
		Get("/api/v1/content/" + url.PathEscape(contentID))

	if err := s.wrapError("download", contentID, resp, err); err != nil {
		return err
	}

	return os.Chtimes(dest, mtime, mtime)
}

func (s *HTTPStore) UploadTree(ctx context.Context, localRoot string) (string, error) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.writeTreeArchive(pw, localRoot))
	}()

	var result backupResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetContentType(uploadContentType).
		SetBody(pr).
		SetRetryCount(0). // the body reader is not rewindable
		SetSuccessResult(&result).
		Post(s.dirPath("backup"))

	if err := s.wrapError("upload tree", localRoot, resp, err); err != nil {
		return "", err
	}
	return result.SnapshotID, nil
}

// writeTreeArchive streams the local tree as a gzipped tarball. The walk
// follows directory symlinks and applies the same skip as local scans, so
// snapshots contain exactly what comparisons expect. Already-visited real
// paths are not descended into again (symlink cycles).
func (s *HTTPStore) writeTreeArchive(w io.Writer, localRoot string) error {
	gz := pgzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	visited := make(map[string]bool)
	if real, err := filepath.EvalSymlinks(localRoot); err == nil {
		visited[real] = true
	}

	if err := s.archiveDir(tw, localRoot, localRoot, visited); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func (s *HTTPStore) archiveDir(tw *tar.Writer, root, dir string, visited map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if s.skip != nil && s.skip(path) {
			continue
		}

		info, err := os.Stat(path) // follows symlinks
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.IsDir() {
			real, err := filepath.EvalSymlinks(path)
			if err != nil {
				return err
			}
			if visited[real] {
				continue
			}
			visited[real] = true
			if err := s.archiveDir(tw, root, path, visited); err != nil {
				return err
			}
			continue
		}

		if err := s.archiveFile(tw, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *HTTPStore) archiveFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func (s *HTTPStore) dirPath(op string) string {
	return fmt.Sprintf("/api/v1/dirs/%s/%s", url.PathEscape(s.dir), op)
}

// wrapError maps transport and HTTP failures onto the error kinds the sync
// engine branches on. Only a 404 means "not found"; everything retryable
// stays transient so callers never mistake an outage for an empty archive.
func (s *HTTPStore) wrapError(op, ref string, resp *req.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &TransientError{Op: op, Err: err}
	}
	if !resp.IsErrorState() {
		return nil
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusNotFound:
		return &NotFoundError{Op: op, Ref: ref}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &FatalError{Op: op, Status: status, Err: errors.New(resp.String())}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("status %d: %s", status, resp.String())}
	default:
		return &FatalError{Op: op, Status: status, Err: errors.New(resp.String())}
	}
}

var _ Store = (*HTTPStore)(nil)
