// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz)
// and computes the closest-canonical (RAS) reorientation of a voxel grid.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"
)

// Datatype is the NIfTI-1 datatype code.
type Datatype int16

const (
	DTUint8   Datatype = 2
	DTInt16   Datatype = 4
	DTInt32   Datatype = 8
	DTFloat32 Datatype = 16
	DTFloat64 Datatype = 64
	DTInt8    Datatype = 256
	DTUint16  Datatype = 512
	DTUint32  Datatype = 768
)

// Size returns the element size in bytes.
func (d Datatype) Size() int {
	switch d {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	}
	return 0
}

const (
	headerSize  = 348
	voxOffset   = 352
	codeScanner = 1
)

// header is the on-disk NIfTI-1 header; encoding/binary lays it out without padding.
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Image is a 3D NIfTI volume. Data is little-endian, x varying fastest.
type Image struct {
	Shape    [3]int
	Datatype Datatype

	// Affine is the 4x4 voxel-to-RAS transform
	Affine *mat.Dense

	Data []byte

	// Description is stored in the descrip header field (max 79 bytes)
	Description string
}

// NumVoxels returns the number of voxels.
func (img *Image) NumVoxels() int {
	return img.Shape[0] * img.Shape[1] * img.Shape[2]
}

// Spacing returns the voxel sizes implied by the affine columns.
func (img *Image) Spacing() [3]float64 {
	var s [3]float64
	for c := 0; c < 3; c++ {
		s[c] = math.Sqrt(img.Affine.At(0, c)*img.Affine.At(0, c) + img.Affine.At(1, c)*img.Affine.At(1, c) + img.Affine.At(2, c)*img.Affine.At(2, c))
	}
	return s
}

// IsCompressedPath reports whether a path should be gzip compressed.
func IsCompressedPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// WriteFile writes img to path, gzip compressing when the path ends in .gz.
func WriteFile(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = Write(f, img, IsCompressedPath(path))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// Write encodes img as a single-file NIfTI-1 stream.
func Write(w io.Writer, img *Image, compress bool) error {
	if img.Datatype.Size() == 0 {
		return fmt.Errorf("unsupported nifti datatype %d", img.Datatype)
	}
	if len(img.Data) != img.NumVoxels()*img.Datatype.Size() {
		return fmt.Errorf("data has %d bytes, shape expects %d", len(img.Data), img.NumVoxels()*img.Datatype.Size())
	}

	h := newHeader(img)

	var out io.Writer = w
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(w)
		out = zw
	}
	bw := bufio.NewWriter(out)
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return err
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	if _, err := bw.Write(img.Data); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

func newHeader(img *Image) *header {
	h := &header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  int16(img.Datatype),
		Bitpix:    int16(img.Datatype.Size() * 8),
		VoxOffset: voxOffset,
		SclSlope:  1,
		XyztUnits: 2, // millimetres
		QformCode: codeScanner,
		SformCode: codeScanner,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim[0] = 3
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(img.Shape[i])
	}
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
	}
	copy(h.Descrip[:79], img.Description)

	a := img.Affine
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(a.At(0, c))
		h.SrowY[c] = float32(a.At(1, c))
		h.SrowZ[c] = float32(a.At(2, c))
	}

	q := affineToQuatern(a)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(q.b), float32(q.c), float32(q.d)
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = float32(a.At(0, 3)), float32(a.At(1, 3)), float32(a.At(2, 3))
	h.Pixdim[0] = float32(q.qfac)
	h.Pixdim[1], h.Pixdim[2], h.Pixdim[3] = float32(q.dx), float32(q.dy), float32(q.dz)
	for i := 4; i < 8; i++ {
		h.Pixdim[i] = 1
	}
	return h
}

// ReadFile reads a .nii or .nii.gz file.
func ReadFile(path string) (*Image, error) {
	return readFile(path, true)
}

// ReadInfo reads only the header of a .nii or .nii.gz file; Data is left nil.
func ReadInfo(path string) (*Image, error) {
	return readFile(path, false)
}

func readFile(path string, withData bool) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := read(f, withData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Read decodes a NIfTI-1 stream, detecting gzip compression from its magic bytes.
func Read(r io.Reader) (*Image, error) {
	return read(r, true)
}

func read(r io.Reader, withData bool) (*Image, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("can't uncompress gzip data: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("can't read nifti header: %w", err)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != headerSize {
		if int32(binary.BigEndian.Uint32(raw)) != headerSize {
			return nil, fmt.Errorf("not a nifti-1 file")
		}
		order = binary.BigEndian
	}
	var h header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, err
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("only single-file nifti-1 is supported (magic %q)", h.Magic[:3])
	}
	if h.Dim[0] < 3 {
		return nil, fmt.Errorf("expected a 3D volume, got %d dimensions", h.Dim[0])
	}
	for i := 4; i <= int(h.Dim[0]) && i < 8; i++ {
		if h.Dim[i] > 1 {
			return nil, fmt.Errorf("expected a 3D volume, dim[%d]=%d", i, h.Dim[i])
		}
	}

	img := &Image{
		Shape:       [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])},
		Datatype:    Datatype(h.Datatype),
		Affine:      h.affine(),
		Description: strings.TrimRight(string(h.Descrip[:]), "\x00"),
	}
	size := img.Datatype.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported nifti datatype %d", h.Datatype)
	}
	if !withData {
		return img, nil
	}

	skip := int64(h.VoxOffset) - headerSize
	if skip < 0 {
		skip = voxOffset - headerSize
	}
	if _, err := io.CopyN(io.Discard, src, skip); err != nil {
		return nil, fmt.Errorf("can't skip to voxel data: %w", err)
	}
	img.Data = make([]byte, img.NumVoxels()*size)
	if _, err := io.ReadFull(src, img.Data); err != nil {
		return nil, fmt.Errorf("can't read voxel data: %w", err)
	}
	if order == binary.BigEndian && size > 1 {
		swapBytes(img.Data, size)
	}
	return img, nil
}

func swapBytes(data []byte, size int) {
	for i := 0; i < len(data); i += size {
		for a, b := i, i+size-1; a < b; a, b = a+1, b-1 {
			data[a], data[b] = data[b], data[a]
		}
	}
}

// affine picks sform, then qform, then plain pixdim scaling.
func (h *header) affine() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	a.Set(3, 3, 1)
	switch {
	case h.SformCode > 0:
		for c := 0; c < 4; c++ {
			a.Set(0, c, float64(h.SrowX[c]))
			a.Set(1, c, float64(h.SrowY[c]))
			a.Set(2, c, float64(h.SrowZ[c]))
		}
	case h.QformCode > 0:
		q := quatern{
			b: float64(h.QuaternB), c: float64(h.QuaternC), d: float64(h.QuaternD),
			dx: float64(h.Pixdim[1]), dy: float64(h.Pixdim[2]), dz: float64(h.Pixdim[3]),
			qfac: 1,
		}
		if h.Pixdim[0] < 0 {
			q.qfac = -1
		}
		q.fill(a)
		a.Set(0, 3, float64(h.QoffsetX))
		a.Set(1, 3, float64(h.QoffsetY))
		a.Set(2, 3, float64(h.QoffsetZ))
	default:
		for i := 0; i < 3; i++ {
			s := float64(h.Pixdim[i+1])
			if s == 0 {
				s = 1
			}
			a.Set(i, i, s)
		}
	}
	return a
}
