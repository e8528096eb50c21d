package nifti

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Transform reorders and flips voxel axes. Output axis k reads input axis
// Perm[k], reversed when Flip[k] is set.
type Transform struct {
	Perm [3]int
	Flip [3]bool
}

// Identity is the transform that leaves a grid unchanged.
var Identity = Transform{Perm: [3]int{0, 1, 2}}

// IsIdentity reports whether t leaves a grid unchanged.
func (t Transform) IsIdentity() bool {
	return t == Identity
}

// CanonicalTransform finds the axis permutation and flips that bring a
// voxel-to-RAS affine closest to the RAS+ orientation.
func CanonicalTransform(affine *mat.Dense) Transform {
	type candidate struct {
		voxel, world int
		weight       float64
	}
	var cands []candidate
	for v := 0; v < 3; v++ {
		for w := 0; w < 3; w++ {
			cands = append(cands, candidate{voxel: v, world: w, weight: math.Abs(affine.At(w, v))})
		}
	}
	// strongest voxel/world pairing first; ties resolved by axis order
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].weight > cands[j].weight })

	var t Transform
	var voxelUsed, worldUsed [3]bool
	for _, c := range cands {
		if voxelUsed[c.voxel] || worldUsed[c.world] {
			continue
		}
		voxelUsed[c.voxel] = true
		worldUsed[c.world] = true
		t.Perm[c.world] = c.voxel
		t.Flip[c.world] = affine.At(c.world, c.voxel) < 0
	}
	return t
}

// Shape returns the grid shape after the transform.
func (t Transform) Shape(in [3]int) [3]int {
	return [3]int{in[t.Perm[0]], in[t.Perm[1]], in[t.Perm[2]]}
}

// Affine returns the voxel-to-world transform of the reoriented grid.
func (t Transform) Affine(affine *mat.Dense, in [3]int) *mat.Dense {
	// input index = M * output index + offset
	m := mat.NewDense(4, 4, nil)
	for k := 0; k < 3; k++ {
		if t.Flip[k] {
			m.Set(t.Perm[k], k, -1)
			m.Set(t.Perm[k], 3, float64(in[t.Perm[k]]-1))
		} else {
			m.Set(t.Perm[k], k, 1)
		}
	}
	m.Set(3, 3, 1)

	var out mat.Dense
	out.Mul(affine, m)
	return &out
}

// Apply reorders a flat voxel array with elemSize bytes per voxel.
func (t Transform) Apply(data []byte, elemSize int, in [3]int) []byte {
	if t.IsIdentity() {
		return append([]byte(nil), data...)
	}
	outShape := t.Shape(in)
	out := make([]byte, len(data))
	inStride := [3]int{1, in[0], in[0] * in[1]}

	var src [3]int
	dst := 0
	for z := 0; z < outShape[2]; z++ {
		for y := 0; y < outShape[1]; y++ {
			for x := 0; x < outShape[0]; x++ {
				o := [3]int{x, y, z}
				for k := 0; k < 3; k++ {
					if t.Flip[k] {
						src[t.Perm[k]] = in[t.Perm[k]] - 1 - o[k]
					} else {
						src[t.Perm[k]] = o[k]
					}
				}
				s := (src[0]*inStride[0] + src[1]*inStride[1] + src[2]*inStride[2]) * elemSize
				copy(out[dst:dst+elemSize], data[s:s+elemSize])
				dst += elemSize
			}
		}
	}
	return out
}

// Canonical returns img reoriented to closest RAS+ together with the transform used.
func Canonical(img *Image) (*Image, Transform) {
	t := CanonicalTransform(img.Affine)
	if t.IsIdentity() {
		return img, t
	}
	return &Image{
		Shape:       t.Shape(img.Shape),
		Datatype:    img.Datatype,
		Affine:      t.Affine(img.Affine, img.Shape),
		Data:        t.Apply(img.Data, img.Datatype.Size(), img.Shape),
		Description: img.Description,
	}, t
}
