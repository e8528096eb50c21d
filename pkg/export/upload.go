package export

import (
	"context"
	"fmt"

	"volexport/pkg/remote"
)

// UploadParams selects where an export lands in a bucket.
type UploadParams struct {
	BucketURL string

	// ProjectFolder nests a single exported dataset as <project>/<dataset>
	// instead of placing it at the bucket root.
	ProjectFolder bool
}

// Upload copies the result of a run into a bucket and returns the remote folder.
// A whole project goes to <project>. A single dataset goes to <dataset> or
// <project>/<dataset> together with the class index artifact.
func Upload(ctx context.Context, u *remote.Uploader, s *Summary, params UploadParams) (string, error) {
	if s.Dataset == "" {
		return u.UploadDir(ctx, s.OutputDir, params.BucketURL, s.ProjectName)
	}

	d := remote.DatasetUpload{Dir: s.DatasetDir, Dataset: s.Dataset}
	if params.ProjectFolder {
		d.Project = s.ProjectName
	}
	if s.ClassIndex != "" {
		d.Extra = append(d.Extra, s.ClassIndex)
	} else if u.Logger != nil {
		u.Logger.Warn("no class index to upload with dataset", "dataset", s.Dataset)
	}
	folder, err := u.UploadDataset(ctx, params.BucketURL, d)
	if err != nil {
		return "", fmt.Errorf("failed to upload dataset %s: %w", s.Dataset, err)
	}
	return folder, nil
}
