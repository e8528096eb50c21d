package models

import "fmt"

// Volume is a dense 3D voxel grid stored as a 1D array with x varying fastest.
type Volume struct {
	// Data holds one byte per voxel
	Data []uint8

	// Width, Height, Depth are the grid sizes along the three voxel axes
	Width, Height, Depth int
}

// NewVolume allocates a zeroed volume of the given shape.
func NewVolume(shape [3]int) *Volume {
	return &Volume{
		Data:   make([]uint8, shape[0]*shape[1]*shape[2]),
		Width:  shape[0],
		Height: shape[1],
		Depth:  shape[2],
	}
}

// Shape returns the voxel grid shape.
func (v *Volume) Shape() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// Index returns the flat index of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Max returns the largest voxel value.
func (v *Volume) Max() uint8 {
	var m uint8
	for _, b := range v.Data {
		if b > m {
			m = b
		}
	}
	return m
}

// Burn sets every voxel covered by mask to value and returns how many voxels it set.
// Later burns overwrite earlier ones.
func (v *Volume) Burn(mask []bool, value uint8) (int, error) {
	if len(mask) != len(v.Data) {
		return 0, fmt.Errorf("mask has %d voxels, volume has %d", len(mask), len(v.Data))
	}
	n := 0
	for i, on := range mask {
		if on {
			v.Data[i] = value
			n++
		}
	}
	return n, nil
}
