// Package visualization renders preview slices of label volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"volexport/internal/models"
	"volexport/pkg/classindex"
)

// Palette maps a voxel value to a display colour. Zero is background.
type Palette func(v uint8) color.RGBA

var background = color.RGBA{A: 255}

// ClassPalette colours semantic label values with their class colour.
// Values no class owns are drawn white.
func ClassPalette(index *classindex.Map) Palette {
	colors := map[uint8]color.RGBA{}
	for _, e := range index.Entries() {
		colors[e.PixelValue] = color.RGBA{R: e.Color[0], G: e.Color[1], B: e.Color[2], A: 255}
	}
	return func(v uint8) color.RGBA {
		if v == 0 {
			return background
		}
		if c, ok := colors[v]; ok {
			return c
		}
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
}

// SolidPalette draws every non-zero value (an instance ordinal) in one colour.
func SolidPalette(rgb [3]uint8) Palette {
	c := color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}
	return func(v uint8) color.RGBA {
		if v == 0 {
			return background
		}
		return c
	}
}

// Viewer extracts coloured slices from a label volume.
type Viewer struct {
	volume  *models.Volume
	palette Palette
}

// NewViewer creates a viewer over vol.
func NewViewer(vol *models.Volume, palette Palette) *Viewer {
	return &Viewer{volume: vol, palette: palette}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.RGBA, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	w, h, d := v.volume.Width, v.volume.Height, v.volume.Depth

	var img *image.RGBA
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= w {
			return nil, fmt.Errorf("position %d exceeds width %d", position, w)
		}
		img = image.NewRGBA(image.Rect(0, 0, d, h))
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				img.SetRGBA(z, y, v.palette(v.volume.Data[v.volume.Index(position, y, z)]))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= h {
			return nil, fmt.Errorf("position %d exceeds height %d", position, h)
		}
		img = image.NewRGBA(image.Rect(0, 0, w, d))
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, z, v.palette(v.volume.Data[v.volume.Index(x, position, z)]))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= d {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d)
		}
		img = image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, v.palette(v.volume.Data[v.volume.Index(x, y, position)]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveMidSlices saves the middle slice along x, y and z as
// <outputDir>/<name>_<axis>.png and returns the written paths.
func (v *Viewer) SaveMidSlices(outputDir, name string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	mid := map[string]int{"x": v.volume.Width / 2, "y": v.volume.Height / 2, "z": v.volume.Depth / 2}
	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, mid[axis])
		if err != nil {
			return paths, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", name, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
