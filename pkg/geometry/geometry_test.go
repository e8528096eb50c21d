package geometry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/logging"
	"volexport/pkg/nrrd"
)

var shape = [3]int{2, 2, 2}

func writeMask(t *testing.T, dir, key string, on ...int) {
	t.Helper()
	data := make([]byte, 8)
	for _, i := range on {
		data[i] = 1
	}
	require.NoError(t, nrrd.WriteFile(filepath.Join(dir, key+MaskExt), nrrd.NewHeader(nrrd.Uint8, shape), data))
}

func TestMasksSkipsBadFigures(t *testing.T) {
	dir := t.TempDir()
	writeMask(t, dir, "aa11", 0, 7)
	writeMask(t, dir, "BB22", 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cc33.nrrd"), []byte("garbage"), 0644))
	require.NoError(t, nrrd.WriteFile(filepath.Join(dir, "dd44.nrrd"), nrrd.NewHeader(nrrd.Uint8, [3]int{1, 1, 1}), []byte{1}))

	figures := []models.Figure{
		{Key: "bb22", ClassName: "lung"},
		{Key: "missing", ClassName: "lung"},
		{Key: "aa11", ClassName: "tumor"},
		{Key: "cc33", ClassName: "tumor"},
		{Key: "dd44", ClassName: "tumor"},
	}
	d := &Decoder{Workers: 2, Logger: logging.Discard()}
	masks, skipped, err := d.Masks(context.Background(), dir, figures, shape)
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, masks, 2)

	// annotation order is preserved
	assert.Equal(t, "bb22", masks[0].Figure.Key)
	assert.Equal(t, []bool{false, false, false, true, false, false, false, false}, masks[0].Voxels)
	assert.Equal(t, "aa11", masks[1].Figure.Key)
	assert.True(t, masks[1].Voxels[0])
	assert.True(t, masks[1].Voxels[7])
}

func TestMasksSkipsOversizedHeader(t *testing.T) {
	dir := t.TempDir()
	writeMask(t, dir, "aa11", 1)
	header := "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 100000 100000 100000\nencoding: raw\n\n\x01"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ee55.nrrd"), []byte(header), 0644))

	figures := []models.Figure{{Key: "ee55", ClassName: "tumor"}, {Key: "aa11", ClassName: "tumor"}}
	d := &Decoder{Workers: 1, Logger: logging.Discard()}
	var masks []Mask
	var skipped int
	require.NotPanics(t, func() {
		var err error
		masks, skipped, err = d.Masks(context.Background(), dir, figures, shape)
		require.NoError(t, err)
	})
	assert.Equal(t, 1, skipped)
	require.Len(t, masks, 1)
	assert.Equal(t, "aa11", masks[0].Figure.Key)
}

func TestDecodeChecksShapeBeforeData(t *testing.T) {
	// a header for the wrong grid is rejected even when no data follows
	_, err := Decode([]byte("NRRD0004\ntype: uchar\ndimension: 3\nsizes: 4 4 4\nencoding: gzip\n\n"), shape)
	assert.ErrorIs(t, err, volerrors.ErrGeometryCorrupt)
	assert.Contains(t, err.Error(), "does not match")
}

func TestMasksWithoutDirectory(t *testing.T) {
	d := &Decoder{Logger: logging.Discard()}
	masks, skipped, err := d.Masks(context.Background(), "", []models.Figure{{Key: "aa"}}, shape)
	require.NoError(t, err)
	assert.Empty(t, masks)
	assert.Equal(t, 1, skipped)
}

func TestReadBatchKeys(t *testing.T) {
	dir := t.TempDir()
	writeMask(t, dir, "ABCD-ef01")
	paths, err := MaskPaths(dir)
	require.NoError(t, err)

	b, err := ReadBatch(context.Background(), append(paths, filepath.Join(dir, "gone.nrrd")), 0)
	require.NoError(t, err)
	assert.Contains(t, b.Blobs, "abcdef01")
	assert.Contains(t, b.Failed, "gone")
}

func TestReadBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadBatch(ctx, []string{"a.nrrd"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
