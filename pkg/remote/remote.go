// Package remote moves files between the local export tree and blob storage
// (s3://, gs://, file://) through gocloud.dev buckets.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	volerrors "volexport/pkg/errors"
	"volexport/pkg/naming"
)

// Fetcher downloads a remote file verbatim to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, remotePath, dst string) error
}

// SplitURL separates a remote path into a bucket URL and an object key.
// For file:// paths the bucket is the parent directory.
func SplitURL(remotePath string) (bucketURL, key string, err error) {
	u, err := url.Parse(remotePath)
	if err != nil {
		return "", "", fmt.Errorf("bad remote path %q: %w", remotePath, err)
	}
	if u.Scheme == "" {
		return "", "", fmt.Errorf("remote path %q has no scheme", remotePath)
	}
	if u.Scheme == "file" {
		dir, file := path.Split(u.Path)
		if file == "" {
			return "", "", fmt.Errorf("remote path %q names no file", remotePath)
		}
		return "file://" + strings.TrimSuffix(dir, "/"), file, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("remote path %q needs a bucket and a key", remotePath)
	}
	bucketURL = u.Scheme + "://" + u.Host
	if u.RawQuery != "" {
		bucketURL += "?" + u.RawQuery
	}
	return bucketURL, key, nil
}

// classify marks retryable gocloud errors as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch gcerrors.Code(err) {
	case gcerrors.Unknown:
		return err
	case gcerrors.ResourceExhausted, gcerrors.DeadlineExceeded, gcerrors.Internal:
		return fmt.Errorf("%w: %v", volerrors.ErrRemoteUnavailable, err)
	}
	return err
}

// BlobFetcher fetches through gocloud.dev bucket URLs.
type BlobFetcher struct {
	Retry  volerrors.RetryConfig
	Logger *slog.Logger
}

// NewBlobFetcher returns a fetcher with the default retry policy.
func NewBlobFetcher(logger *slog.Logger) *BlobFetcher {
	return &BlobFetcher{Retry: volerrors.DefaultRetryConfig(), Logger: logger}
}

// Fetch downloads remotePath to dst. Nothing is left at dst on failure.
func (f *BlobFetcher) Fetch(ctx context.Context, remotePath, dst string) error {
	bucketURL, key, err := SplitURL(remotePath)
	if err != nil {
		return err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("error opening bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	attempt := 0
	return f.Retry.Do(ctx, func() error {
		attempt++
		if attempt > 1 && f.Logger != nil {
			f.Logger.Warn("retrying remote fetch", "remote", remotePath, "attempt", attempt)
		}
		return classify(download(ctx, bucket, key, dst))
	})
}

func download(ctx context.Context, bucket *blob.Bucket, key, dst string) error {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Uploader copies an export tree into a bucket under a collision-free folder name.
type Uploader struct {
	Retry  volerrors.RetryConfig
	Logger *slog.Logger
}

// NewUploader returns an uploader with the default retry policy.
func NewUploader(logger *slog.Logger) *Uploader {
	return &Uploader{Retry: volerrors.DefaultRetryConfig(), Logger: logger}
}

// TopLevelNames lists the folder names directly under the bucket root.
func TopLevelNames(ctx context.Context, bucket *blob.Bucket) ([]string, error) {
	return ChildNames(ctx, bucket, "")
}

// ChildNames lists the folder names directly under prefix, relative to it.
func ChildNames(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	iter := bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/"))
		}
	}
}

// freeFolder picks a collision-free folder name under parent ("" is the root).
func (u *Uploader) freeFolder(ctx context.Context, bucket *blob.Bucket, parent, name string) (string, error) {
	existing, err := ChildNames(ctx, bucket, parent)
	if err != nil {
		return "", fmt.Errorf("error listing bucket: %w", err)
	}
	free := naming.FreeName(existing, name)
	if free != name && u.Logger != nil {
		u.Logger.Warn("remote folder exists, renamed", "parent", parent, "name", name, "renamed", free)
	}
	return path.Join(parent, free), nil
}

// UploadDir uploads every file below localDir to <free-name>/<relative path> and
// returns the folder name used. A taken name gets a numeric suffix.
func (u *Uploader) UploadDir(ctx context.Context, localDir, bucketURL, name string) (string, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return "", fmt.Errorf("error opening bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	folder, err := u.freeFolder(ctx, bucket, "", name)
	if err != nil {
		return "", err
	}
	if err := u.uploadTree(ctx, bucket, localDir, folder); err != nil {
		return "", err
	}
	return folder, nil
}

// DatasetUpload describes the upload of one exported dataset.
type DatasetUpload struct {
	// Dir is the exported dataset directory
	Dir string

	// Dataset is the remote folder name wanted for the dataset
	Dataset string

	// Project, when set, nests the dataset folder as <project>/<dataset>
	Project string

	// Extra files are uploaded into the dataset folder next to the tree
	Extra []string
}

// UploadDataset uploads one dataset directory to <dataset> or <project>/<dataset>,
// renaming the dataset folder when it is taken, and returns the folder used.
func (u *Uploader) UploadDataset(ctx context.Context, bucketURL string, d DatasetUpload) (string, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return "", fmt.Errorf("error opening bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	folder, err := u.freeFolder(ctx, bucket, d.Project, d.Dataset)
	if err != nil {
		return "", err
	}
	if err := u.uploadTree(ctx, bucket, d.Dir, folder); err != nil {
		return "", err
	}
	for _, extra := range d.Extra {
		key := path.Join(folder, filepath.Base(extra))
		if err := u.Retry.Do(ctx, func() error { return classify(upload(ctx, bucket, extra, key)) }); err != nil {
			return "", err
		}
	}
	return folder, nil
}

func (u *Uploader) uploadTree(ctx context.Context, bucket *blob.Bucket, localDir, folder string) error {
	return filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := path.Join(folder, filepath.ToSlash(rel))
		return u.Retry.Do(ctx, func() error { return classify(upload(ctx, bucket, p, key)) })
	})
}

func upload(ctx context.Context, bucket *blob.Bucket, localPath, key string) error {
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
