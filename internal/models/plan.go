package models

import "fmt"

// StructureType is the on-disk convention detected for a dataset.
type StructureType int

const (
	// Type1 is hierarchical: each item owns a directory of per-class label files
	Type1 StructureType = iota + 1
	// Type2 is flat: orientation-prefixed items with one label set per item in the dataset dir
	Type2
)

func (s StructureType) String() string {
	switch s {
	case Type1:
		return "type1"
	case Type2:
		return "type2"
	default:
		return "unknown"
	}
}

// SegmentationMode selects how masks are encoded into label voxels.
type SegmentationMode int

const (
	Semantic SegmentationMode = iota
	Instance
)

func (m SegmentationMode) String() string {
	if m == Instance {
		return "instance"
	}
	return "semantic"
}

// ParseSegmentationMode parses "semantic" or "instance".
func ParseSegmentationMode(s string) (SegmentationMode, error) {
	switch s {
	case "semantic", "":
		return Semantic, nil
	case "instance":
		return Instance, nil
	}
	return Semantic, fmt.Errorf("unknown segmentation mode %q", s)
}

// Format is the export target.
type Format int

const (
	NIfTI Format = iota
	NRRD
)

func (f Format) String() string {
	if f == NRRD {
		return "nrrd"
	}
	return "nifti"
}

// Ext returns the file extension written for volumes of this format.
func (f Format) Ext() string {
	if f == NRRD {
		return ".nrrd"
	}
	return ".nii.gz"
}

// ParseFormat parses "nifti" or "nrrd".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "nifti", "":
		return NIfTI, nil
	case "nrrd":
		return NRRD, nil
	}
	return NIfTI, fmt.Errorf("unknown export format %q", s)
}

// Plan is the export variant resolved once per dataset and passed down unchanged.
type Plan struct {
	Structure StructureType
	Mode      SegmentationMode
	Format    Format
}

func (p Plan) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Structure, p.Mode, p.Format)
}

// WantsScores reports whether score tables are emitted under this plan.
func (p Plan) WantsScores() bool {
	return p.Structure == Type2 && p.Mode == Semantic
}
