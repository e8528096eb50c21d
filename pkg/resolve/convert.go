package resolve

import (
	"fmt"
	"io"
	"os"

	volerrors "volexport/pkg/errors"
	"volexport/pkg/nifti"
	"volexport/pkg/nrrd"
)

// Converter re-encodes a native volume into the interchange format.
type Converter interface {
	Convert(src, dst string) error
}

// NRRDToNIfTI converts NRRD volumes to NIfTI-1 keeping voxel order, datatype,
// spacing, direction and origin.
type NRRDToNIfTI struct{}

var niftiTypes = map[nrrd.DataType]nifti.Datatype{
	nrrd.Int8:    nifti.DTInt8,
	nrrd.Uint8:   nifti.DTUint8,
	nrrd.Int16:   nifti.DTInt16,
	nrrd.Uint16:  nifti.DTUint16,
	nrrd.Int32:   nifti.DTInt32,
	nrrd.Uint32:  nifti.DTUint32,
	nrrd.Float32: nifti.DTFloat32,
	nrrd.Float64: nifti.DTFloat64,
}

// Convert implements Converter.
func (NRRDToNIfTI) Convert(src, dst string) error {
	in, err := nrrd.ReadFile(src)
	if err != nil {
		return err
	}
	dt, ok := niftiTypes[in.Header.Type]
	if !ok {
		return fmt.Errorf("%w: nrrd type %s", volerrors.ErrUnsupported, in.Header.Type)
	}
	return nifti.WriteFile(dst, &nifti.Image{
		Shape:    in.Header.Sizes,
		Datatype: dt,
		Affine:   in.Header.RASAffine(),
		Data:     in.LittleEndianData(),
	})
}

// copyFile copies src to dst; dst is removed if the copy fails.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
