package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	volerrors "volexport/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const meta = `{"classes":[{"title":"tumor","color":"#FF8000","description":"pixel value: 3"},{"title":"lung","color":"#00ff00"}]}`

func TestOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "MyProject")
	writeFile(t, filepath.Join(dir, MetaFile), meta)
	writeFile(t, filepath.Join(dir, "ds1", VolumeDir, "b.nrrd"), "x")
	writeFile(t, filepath.Join(dir, "ds1", VolumeDir, "a.nrrd"), "x")
	writeFile(t, filepath.Join(dir, "ds1", MaskDir, "a.nrrd", "abc.nrrd"), "x")
	writeFile(t, filepath.Join(dir, "ds1", NestedDir, "child", AnnotationDir, "c.nrrd.json"), "{}")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-dataset"), 0755))

	p, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "MyProject", p.Name)
	require.Len(t, p.Classes, 2)
	assert.Equal(t, [3]uint8{255, 128, 0}, p.Classes[0].Color)
	assert.Equal(t, "pixel value: 3", p.Classes[0].Description)

	require.Len(t, p.Datasets, 2)
	assert.Equal(t, "ds1", p.Datasets[0].Name)
	assert.Equal(t, []string{"a.nrrd", "b.nrrd"}, p.Datasets[0].Items)
	assert.Equal(t, "ds1/child", p.Datasets[1].Name)
	assert.Equal(t, "child", p.Datasets[1].SimpleName())
	assert.Equal(t, filepath.Join("ds1", NestedDir, "child"), p.Datasets[1].RelDir)
	assert.Equal(t, []string{"c.nrrd"}, p.Datasets[1].Items)

	a := Item(p.Datasets[0], "a.nrrd")
	assert.Equal(t, filepath.Join(dir, "ds1", MaskDir, "a.nrrd"), a.MaskDir)
	assert.Empty(t, Item(p.Datasets[0], "b.nrrd").MaskDir)
}

func TestOpenRejectsBadMeta(t *testing.T) {
	for name, content := range map[string]string{
		"no classes": `{"projectType":"volumes"}`,
		"bad colour": `{"classes":[{"title":"x","color":"red"}]}`,
		"not json":   `{`,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, MetaFile), content)
			_, err := Open(dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, volerrors.ErrInvalidMeta))
		})
	}
}

func TestLoadAnnotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.nrrd.json")
	writeFile(t, path, `{
		"key": "k",
		"objects": [{"key": "OBJ-1", "classTitle": "tumor"}],
		"spatialFigures": [
			{"key": "AB-CD", "objectKey": "obj-1", "geometryType": "mask_3d", "custom_data": {"axl": {"3": 0.5}}},
			{"key": "ef", "objectKey": "missing", "geometryType": "mask_3d"}
		]
	}`)

	ann, err := LoadAnnotation(path)
	require.NoError(t, err)
	require.Len(t, ann.SpatialFigures, 2)
	assert.Equal(t, "abcd", ann.SpatialFigures[0].Key)
	assert.Equal(t, "tumor", ann.SpatialFigures[0].ClassName)
	assert.JSONEq(t, `{"3": 0.5}`, string(ann.SpatialFigures[0].CustomData["axl"]))
	assert.Empty(t, ann.SpatialFigures[1].ClassName)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#0a0B0c")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{10, 11, 12}, c)
	_, err = ParseColor("#zzzzzz")
	assert.Error(t, err)
}
