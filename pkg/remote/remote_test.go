package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volexport/pkg/logging"
)

func TestSplitURL(t *testing.T) {
	tests := []struct {
		in, bucket, key string
	}{
		{"s3://scans/lungs/axl_anatomic_1.nii.gz", "s3://scans", "lungs/axl_anatomic_1.nii.gz"},
		{"s3://scans/a.nrrd?region=us-east-1", "s3://scans?region=us-east-1", "a.nrrd"},
		{"gs://b/x/y.nii", "gs://b", "x/y.nii"},
		{"file:///tmp/data/vol.nrrd", "file:///tmp/data", "vol.nrrd"},
	}
	for _, tt := range tests {
		b, k, err := SplitURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, b, tt.in)
		assert.Equal(t, tt.key, k, tt.in)
	}

	for _, bad := range []string{"no-scheme/x", "s3://bucket-only", "file:///tmp/dir/"} {
		_, _, err := SplitURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchFromFileBucket(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "vol.nii.gz"), []byte("volume-bytes"), 0644))

	dst := filepath.Join(t.TempDir(), "out.nii.gz")
	f := NewBlobFetcher(logging.Discard())
	require.NoError(t, f.Fetch(context.Background(), "file://"+filepath.ToSlash(src)+"/vol.nii.gz", dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "volume-bytes", string(data))
}

func TestFetchMissingLeavesNothing(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out.nii.gz")
	f := NewBlobFetcher(logging.Discard())
	err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(src)+"/missing.nii.gz", dst)
	require.Error(t, err)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUploadDirRenamesOnCollision(t *testing.T) {
	bucketDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(bucketDir, "proj"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "proj", "old.txt"), []byte("old"), 0644))

	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "ds"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "ds", "a.nii.gz"), []byte("a"), 0644))

	u := NewUploader(logging.Discard())
	folder, err := u.UploadDir(context.Background(), local, "file://"+filepath.ToSlash(bucketDir), "proj")
	require.NoError(t, err)
	assert.Equal(t, "proj_1", folder)

	data, err := os.ReadFile(filepath.Join(bucketDir, "proj_1", "ds", "a.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestUploadDatasetNested(t *testing.T) {
	bucketDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(bucketDir, "proj", "lungs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "proj", "lungs", "old.txt"), []byte("old"), 0644))

	local := t.TempDir()
	ds := filepath.Join(local, "lungs")
	require.NoError(t, os.MkdirAll(ds, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ds, "axl_inference_1.nii.gz"), []byte("label"), 0644))
	colorMap := filepath.Join(local, "cls_color_map.txt")
	require.NoError(t, os.WriteFile(colorMap, []byte("1 tumor 255 0 0\n"), 0644))

	u := NewUploader(logging.Discard())
	folder, err := u.UploadDataset(context.Background(), "file://"+filepath.ToSlash(bucketDir), DatasetUpload{
		Dir: ds, Dataset: "lungs", Project: "proj", Extra: []string{colorMap},
	})
	require.NoError(t, err)
	assert.Equal(t, "proj/lungs_1", folder)

	data, err := os.ReadFile(filepath.Join(bucketDir, "proj", "lungs_1", "axl_inference_1.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, "label", string(data))
	data, err = os.ReadFile(filepath.Join(bucketDir, "proj", "lungs_1", "cls_color_map.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1 tumor 255 0 0\n", string(data))
}

func TestUploadDatasetAtRoot(t *testing.T) {
	bucketDir := t.TempDir()
	ds := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ds, "a.nrrd"), []byte("a"), 0644))

	folder, err := NewUploader(logging.Discard()).UploadDataset(context.Background(), "file://"+filepath.ToSlash(bucketDir), DatasetUpload{Dir: ds, Dataset: "lungs"})
	require.NoError(t, err)
	assert.Equal(t, "lungs", folder)
	assert.FileExists(t, filepath.Join(bucketDir, "lungs", "a.nrrd"))
}
