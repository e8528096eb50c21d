package models

import (
	"path"
	"strings"
)

// ObjectClass is one annotation class declared in the project meta.
type ObjectClass struct {
	// Name is the class title, unique within a project
	Name string

	// Color is the display colour as RGB
	Color [3]uint8

	// Description is free text; it may embed a pixel value override
	Description string
}

// Dataset is a named collection of items stored under one directory of the project.
type Dataset struct {
	// Name is the hierarchical dataset name, segments separated by "/"
	Name string

	// Dir is the dataset directory on disk
	Dir string

	// RelDir is Dir relative to the project root; the output tree mirrors it
	RelDir string

	// Items lists the item names in reader order
	Items []string
}

// SimpleName returns the last segment of the hierarchical dataset name.
func (d Dataset) SimpleName() string {
	return path.Base(strings.Trim(d.Name, "/"))
}

// Item is one logical scan: a source volume, its annotation and the mask side-car directory.
type Item struct {
	// Name is the volume file name, e.g. "axl_anatomic_1.nrrd"
	Name string

	// VolumePath is the source volume file
	VolumePath string

	// AnnotationPath is the JSON annotation document
	AnnotationPath string

	// MaskDir holds one geometry file per spatial figure; empty when absent
	MaskDir string
}

// Stem returns the item name without its volume extension.
func (it Item) Stem() string {
	return StripVolumeExt(it.Name)
}

// StripVolumeExt removes the known volume extensions from a file name.
func StripVolumeExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".nii.gz", ".nrrd", ".nii"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// VolumeExt returns the volume extension of a file name, treating ".nii.gz" as one extension.
func VolumeExt(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".nii.gz") {
		return ".nii.gz"
	}
	return path.Ext(lower)
}
