package rasterize

import (
	"path/filepath"
	"strings"

	"volexport/internal/models"
	"volexport/pkg/naming"
)

const (
	sourceMarker = "anatomic"
	labelMarker  = "inference"
	scoreMarker  = "score"
)

// ReplaceMarker swaps the "anatomic" role marker of an item stem for role,
// or appends "_<role>" when the stem has no marker.
func ReplaceMarker(stem, role string) string {
	if strings.Contains(stem, sourceMarker) {
		return strings.Replace(stem, sourceMarker, role, 1)
	}
	return stem + "_" + role
}

// LabelStem is the Type2 label file stem of an item.
func LabelStem(itemStem string) string {
	return ReplaceMarker(itemStem, labelMarker)
}

// ScoreFileName is the score table file name of an item.
func ScoreFileName(itemStem string) string {
	return ReplaceMarker(itemStem, scoreMarker) + ".csv"
}

// safeName keeps class names usable as file names.
func safeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", string(filepath.Separator), "_").Replace(s)
}

// LabelPath derives the output path of a label before collision handling:
//
//	Type1: <datasetDir>/<item-stem>/<class><ext>
//	Type2: <datasetDir>/<label-stem><ext> or <datasetDir>/<label-stem>_<class><ext> (instance)
func LabelPath(plan models.Plan, datasetDir, itemStem string, l *Label) string {
	ext := plan.Format.Ext()
	if plan.Structure == models.Type1 {
		return filepath.Join(datasetDir, itemStem, safeName(l.Class)+ext)
	}
	stem := LabelStem(itemStem)
	if l.Class != "" {
		stem += "_" + safeName(l.Class)
	}
	return filepath.Join(datasetDir, stem+ext)
}

// FinalPath applies collision handling: Type2 names shared by several items get
// a numeric suffix; Type1 paths live in per-item directories and are used as is.
func FinalPath(plan models.Plan, p string) string {
	if plan.Structure == models.Type2 {
		return naming.FreePath(p, plan.Format.Ext())
	}
	return p
}
