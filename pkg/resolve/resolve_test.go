package resolve

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/logging"
	"volexport/pkg/nifti"
	"volexport/pkg/nrrd"
	"volexport/pkg/remote"
)

// writeSource writes a 3x2x2 int16 LPS volume whose voxels hold their flat index.
func writeSource(t *testing.T, dir string) models.Item {
	t.Helper()
	h := nrrd.NewHeader(nrrd.Int16, [3]int{3, 2, 2})
	h.Directions = [3][3]float64{{0.5, 0, 0}, {0, 0.5, 0}, {0, 0, 2}}
	h.Origin = [3]float64{1, 2, 3}
	data := make([]byte, 2*12)
	for i := 0; i < 12; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(i))
	}
	p := filepath.Join(dir, "axl_anatomic_1.nrrd")
	require.NoError(t, nrrd.WriteFile(p, h, data))
	return models.Item{Name: "axl_anatomic_1.nrrd", VolumePath: p}
}

func newResolver(f remote.Fetcher) *Resolver {
	return &Resolver{Fetcher: f, Converter: NRRDToNIfTI{}, Logger: logging.Discard()}
}

func TestResolveConvertsToNIfTI(t *testing.T) {
	item := writeSource(t, t.TempDir())
	out := filepath.Join(t.TempDir(), "axl_anatomic_1.nii.gz")

	res, err := newResolver(nil).Resolve(context.Background(), item, "", out, models.NIfTI)
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.Equal(t, [3]int{3, 2, 2}, res.Shape)
	assert.Equal(t, [3]bool{true, true, false}, res.Canonical.Flip)
	assert.Empty(t, res.Remote)

	img, err := nifti.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, nifti.DTInt16, img.Datatype)
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(img.Data[14:]))
	assert.True(t, mat.EqualApprox(mat.NewDense(4, 4, []float64{
		-0.5, 0, 0, -1,
		0, -0.5, 0, -2,
		0, 0, 2, 3,
		0, 0, 0, 1,
	}), img.Affine, 1e-6))

	// canonical affine points +x/+y and moves the origin to the far corner
	assert.InDelta(t, 0.5, res.Affine.At(0, 0), 1e-6)
	assert.InDelta(t, -2.0, res.Affine.At(0, 3), 1e-6)
	assert.InDelta(t, -2.5, res.Affine.At(1, 3), 1e-6)
}

func TestResolveCopiesNRRD(t *testing.T) {
	item := writeSource(t, t.TempDir())
	out := filepath.Join(t.TempDir(), "axl_anatomic_1.nrrd")

	res, err := newResolver(nil).Resolve(context.Background(), item, "", out, models.NRRD)
	require.NoError(t, err)
	require.NotNil(t, res.Header)
	assert.Equal(t, "left-posterior-superior", res.Header.Space)

	src, err := os.ReadFile(item.VolumePath)
	require.NoError(t, err)
	dst, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, src, dst)
}

func TestResolvePassThroughOverridesExtension(t *testing.T) {
	srcDir := t.TempDir()
	item := writeSource(t, srcDir)
	remoteFile := filepath.Join(srcDir, "remote.nii")
	require.NoError(t, NRRDToNIfTI{}.Convert(item.VolumePath, remoteFile))

	outDir := t.TempDir()
	res, err := newResolver(remote.NewBlobFetcher(logging.Discard())).Resolve(context.Background(), item,
		"file://"+filepath.ToSlash(remoteFile), filepath.Join(outDir, "axl_anatomic_1.nii.gz"), models.NIfTI)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "axl_anatomic_1.nii"), res.Path)
	assert.Equal(t, [3]int{3, 2, 2}, res.Shape)
	assert.NotEmpty(t, res.Remote)
}

func TestResolvePassThroughKeepsExistingFile(t *testing.T) {
	srcDir := t.TempDir()
	item := writeSource(t, srcDir)
	remoteFile := filepath.Join(srcDir, "remote.nii")
	require.NoError(t, NRRDToNIfTI{}.Convert(item.VolumePath, remoteFile))

	outDir := t.TempDir()
	taken := filepath.Join(outDir, "axl_anatomic_1.nii")
	require.NoError(t, os.WriteFile(taken, []byte("earlier output"), 0644))

	res, err := newResolver(remote.NewBlobFetcher(logging.Discard())).Resolve(context.Background(), item,
		"file://"+filepath.ToSlash(remoteFile), filepath.Join(outDir, "axl_anatomic_1.nii.gz"), models.NIfTI)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "axl_anatomic_1_1.nii"), res.Path)

	data, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "earlier output", string(data))
}

func TestResolveIgnoresIncompatibleRemote(t *testing.T) {
	item := writeSource(t, t.TempDir())
	out := filepath.Join(t.TempDir(), "axl_anatomic_1.nrrd")
	res, err := newResolver(remote.NewBlobFetcher(logging.Discard())).Resolve(context.Background(), item,
		"s3://bucket/axl_anatomic_1.nii.gz", out, models.NRRD)
	require.NoError(t, err)
	assert.Empty(t, res.Remote)
	assert.Equal(t, out, res.Path)
}

func TestResolveFailuresAreFatal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "x.nii.gz")
	_, err := newResolver(nil).Resolve(context.Background(), models.Item{Name: "x.nrrd", VolumePath: "/does/not/exist.nrrd"}, "", out, models.NIfTI)
	require.Error(t, err)
	assert.True(t, volerrors.IsFatal(err))
	assert.True(t, errors.Is(err, volerrors.ErrVolumeResolve))
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))

	item := writeSource(t, t.TempDir())
	_, err = newResolver(remote.NewBlobFetcher(logging.Discard())).Resolve(context.Background(), item,
		"file:///does/not/exist/remote.nii.gz", out, models.NIfTI)
	require.Error(t, err)
	assert.True(t, volerrors.IsFatal(err))
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible("s3://b/a.nii.gz", models.NIfTI))
	assert.True(t, Compatible("s3://b/a.nii", models.NIfTI))
	assert.False(t, Compatible("s3://b/a.nrrd", models.NIfTI))
	assert.True(t, Compatible("s3://b/a.nrrd?v=1", models.NRRD))
	assert.False(t, Compatible("s3://b/a.nii.gz", models.NRRD))
}
