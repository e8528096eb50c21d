package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
datasets:
  lungs:
    axl_anatomic_1.nrrd: s3://bucket/lungs/axl_anatomic_1.nii.gz
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/lungs/axl_anatomic_1.nii.gz", m.RemotePath("lungs", "axl_anatomic_1.nrrd"))
	assert.Empty(t, m.RemotePath("lungs", "other.nrrd"))
	assert.Empty(t, m.RemotePath("missing", "axl_anatomic_1.nrrd"))

	var c Catalog = None{}
	assert.Empty(t, c.RemotePath("lungs", "axl_anatomic_1.nrrd"))
}

func TestLoadManifestErrors(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasets: [1, 2"), 0644))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}
