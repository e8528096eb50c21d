package rasterize

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"volexport/internal/models"
	"volexport/pkg/nifti"
	"volexport/pkg/nrrd"
	"volexport/pkg/resolve"
)

// Write saves a label volume next to its resolved source volume. NIfTI labels
// are reoriented to the canonical grid and carry the canonical affine; NRRD
// labels reuse the source header's space, directions and origin.
func Write(path string, vol *models.Volume, res *resolve.Resolved) error {
	if vol.Shape() != res.Shape {
		return fmt.Errorf("label shape %v does not match volume shape %v", vol.Shape(), res.Shape)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	switch res.Format {
	case models.NIfTI:
		return nifti.WriteFile(path, &nifti.Image{
			Shape:    res.Canonical.Shape(res.Shape),
			Datatype: nifti.DTUint8,
			Affine:   res.Affine,
			Data:     res.Canonical.Apply(vol.Data, 1, res.Shape),
		})
	case models.NRRD:
		if res.Header == nil {
			return fmt.Errorf("no source header to encode %s", path)
		}
		h := *res.Header
		h.Type = nrrd.Uint8
		h.Encoding = "gzip"
		h.Endian = binary.LittleEndian
		return nrrd.WriteFile(path, h, vol.Data)
	}
	return fmt.Errorf("unknown format %s", res.Format)
}
