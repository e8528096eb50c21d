// Package structure detects which directory convention a dataset follows.
package structure

import (
	"path"
	"strings"

	"volexport/internal/models"
)

// Prefixes are the orientation tags that mark the flat (Type2) convention.
var Prefixes = []string{"axl", "cor", "sag"}

// Orientation returns the orientation tag of an item name, if any. The tag is
// an underscore-delimited token anywhere in the base name, so both
// "axl_anatomic_1.nrrd" and "pt01_axl_anatomic.nrrd" carry "axl".
func Orientation(itemName string) (string, bool) {
	base := strings.ToLower(models.StripVolumeExt(path.Base(itemName)))
	for _, token := range strings.Split(base, "_") {
		for _, p := range Prefixes {
			if token == p {
				return p, true
			}
		}
	}
	return "", false
}

// Classify decides the structure type of a dataset from its item names.
// Only the NIfTI export uses the flat layout, and only when every item is prefixed.
func Classify(itemNames []string, format models.Format) models.StructureType {
	if format != models.NIfTI || len(itemNames) == 0 {
		return models.Type1
	}
	if len(Unprefixed(itemNames)) > 0 {
		return models.Type1
	}
	return models.Type2
}

// Unprefixed lists the names without an orientation prefix.
func Unprefixed(itemNames []string) []string {
	var out []string
	for _, n := range itemNames {
		if _, ok := Orientation(n); !ok {
			out = append(out, n)
		}
	}
	return out
}

// IsMixed reports a dataset where some but not all items carry a prefix;
// such datasets fall back to Type1.
func IsMixed(itemNames []string) bool {
	n := len(Unprefixed(itemNames))
	return n > 0 && n < len(itemNames)
}
