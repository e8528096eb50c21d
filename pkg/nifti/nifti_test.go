package nifti

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func affine(vals ...float64) *mat.Dense {
	return mat.NewDense(4, 4, vals)
}

func rampImage(shape [3]int, a *mat.Dense) *Image {
	n := shape[0] * shape[1] * shape[2]
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &Image{Shape: shape, Datatype: DTUint8, Affine: a, Data: data, Description: "labels"}
}

func TestWriteReadRoundTrip(t *testing.T) {
	a := affine(
		-0.5, 0, 0, 10,
		0, -0.5, 0, 20,
		0, 0, 2, -30,
		0, 0, 0, 1,
	)
	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			img := rampImage([3]int{4, 3, 5}, a)
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteFile(path, img))

			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, img.Shape, got.Shape)
			assert.Equal(t, DTUint8, got.Datatype)
			assert.Equal(t, img.Data, got.Data)
			assert.Equal(t, "labels", got.Description)
			assert.True(t, mat.EqualApprox(a, got.Affine, 1e-6))
		})
	}
}

func TestWriteRejectsShortData(t *testing.T) {
	img := &Image{Shape: [3]int{2, 2, 2}, Datatype: DTInt16, Affine: affine(1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1), Data: make([]byte, 8)}
	var buf bytes.Buffer
	require.Error(t, Write(&buf, img, false))
}

func TestQuaternRoundTrip(t *testing.T) {
	// 90 degree rotation about z with a left-handed z axis
	a := affine(
		0, -1.5, 0, 1,
		1.5, 0, 0, 2,
		0, 0, -3, 3,
		0, 0, 0, 1,
	)
	q := affineToQuatern(a)
	assert.Equal(t, -1.0, q.qfac)

	got := mat.NewDense(4, 4, nil)
	q.fill(got)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, a.At(r, c), got.At(r, c), 1e-9, "r%d c%d", r, c)
		}
	}
}

func TestCanonicalIdentity(t *testing.T) {
	a := affine(1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1)
	assert.True(t, CanonicalTransform(a).IsIdentity())
}

func TestCanonicalFlipsLPS(t *testing.T) {
	shape := [3]int{4, 3, 2}
	a := affine(
		-1, 0, 0, 5,
		0, -1, 0, 6,
		0, 0, 1, 7,
		0, 0, 0, 1,
	)
	img := rampImage(shape, a)
	out, tr := Canonical(img)

	assert.Equal(t, [3]int{0, 1, 2}, tr.Perm)
	assert.Equal(t, [3]bool{true, true, false}, tr.Flip)
	assert.Equal(t, shape, out.Shape)

	want := affine(
		1, 0, 0, 2,
		0, 1, 0, 4,
		0, 0, 1, 7,
		0, 0, 0, 1,
	)
	assert.True(t, mat.EqualApprox(want, out.Affine, 1e-9))

	// output voxel (0,0,0) is input voxel (3,2,0)
	assert.Equal(t, img.Data[2*4+3], out.Data[0])
}

func TestCanonicalPermutes(t *testing.T) {
	// voxel axis 0 runs along world z, axis 2 along world x
	shape := [3]int{2, 3, 4}
	a := affine(
		0, 0, 1, 0,
		0, 1, 0, 0,
		1, 0, 0, 0,
		0, 0, 0, 1,
	)
	img := rampImage(shape, a)
	out, tr := Canonical(img)

	assert.Equal(t, [3]int{2, 1, 0}, tr.Perm)
	assert.Equal(t, [3]int{4, 3, 2}, out.Shape)
	assert.True(t, mat.EqualApprox(affine(1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1), out.Affine, 1e-9))

	// output (x=1, y=2, z=1) reads input (i=1, j=2, k=1)
	in := 1*2*3 + 2*2 + 1
	o := 1*4*3 + 2*4 + 1
	assert.Equal(t, img.Data[in], out.Data[o])
}
