package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeBurnOverwrites(t *testing.T) {
	v := NewVolume([3]int{2, 1, 2})
	n, err := v.Burn([]bool{true, true, false, false}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = v.Burn([]bool{false, true, true, false}, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 5, 5, 0}, v.Data)
	assert.Equal(t, uint8(5), v.Max())
	assert.Equal(t, 3, v.Index(0, 0, 1)+1)

	_, err = v.Burn([]bool{true}, 1)
	assert.Error(t, err)
}

func TestStemAndExt(t *testing.T) {
	assert.Equal(t, "axl_anatomic_1", StripVolumeExt("axl_anatomic_1.nii.gz"))
	assert.Equal(t, "CTChest", Item{Name: "CTChest.nrrd"}.Stem())
	assert.Equal(t, "notes.txt", StripVolumeExt("notes.txt"))
	assert.Equal(t, ".nii.gz", VolumeExt("a.NII.GZ"))
	assert.Equal(t, ".nrrd", VolumeExt("a.nrrd"))
}

func TestParsePlanParts(t *testing.T) {
	f, err := ParseFormat("nrrd")
	require.NoError(t, err)
	assert.Equal(t, NRRD, f)
	_, err = ParseFormat("dicom")
	assert.Error(t, err)

	m, err := ParseSegmentationMode("instance")
	require.NoError(t, err)
	assert.Equal(t, Instance, m)

	p := Plan{Structure: Type2, Mode: Semantic, Format: NIfTI}
	assert.True(t, p.WantsScores())
	assert.Equal(t, "type2/semantic/nifti", p.String())
	assert.False(t, Plan{Structure: Type1}.WantsScores())
}
