// Package rasterize burns decoded figure masks into dense uint8 label volumes.
//
// Semantic mode writes the class pixel value into each voxel a mask covers.
// Instance mode writes a 1-based ordinal per object, counted separately for
// each output volume. Masks are applied in annotation order, so later masks
// overwrite earlier ones and reruns give identical output.
package rasterize

import (
	"fmt"
	"log/slog"
	"strconv"

	"volexport/internal/models"
	"volexport/pkg/classindex"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/geometry"
)

// Label is one output label volume.
type Label struct {
	// Class is the owning class; empty for the shared Type2 semantic volume
	Class string

	// PixelValue is the class value; 0 for the shared Type2 semantic volume
	PixelValue uint8

	Volume *models.Volume

	// Masks counts the masks burned into the volume
	Masks int
}

// Counters tracks the running maximum ordinal per output volume of one item.
type Counters map[string]uint8

// Next returns the ordinal following current.
func Next(current uint8) (uint8, error) {
	if current == classindex.MaxPixelValue {
		return 0, volerrors.ErrTooManyInstances
	}
	return current + 1, nil
}

// Rasterizer applies one Plan with one class index.
type Rasterizer struct {
	Plan   models.Plan
	Index  *classindex.Map
	Logger *slog.Logger
}

// BucketKey names the output volume a class contributes to under plan.
func BucketKey(plan models.Plan, e classindex.Entry) string {
	switch {
	case plan.Structure == models.Type2 && plan.Mode == models.Semantic:
		return ""
	case plan.Structure == models.Type2:
		return strconv.Itoa(int(e.PixelValue))
	default:
		return e.Name
	}
}

// Rasterize builds the label volumes of one item. Volumes are returned in the
// order their first mask appears. Masks whose class is not in the index are
// skipped and counted.
func (r *Rasterizer) Rasterize(masks []geometry.Mask, shape [3]int) ([]*Label, int, error) {
	var labels []*Label
	byKey := map[string]*Label{}
	counters := Counters{}
	skipped := 0

	for _, m := range masks {
		entry, ok := r.Index.Lookup(m.Figure.ClassName)
		if !ok {
			skipped++
			r.Logger.Warn("skipping figure of unknown class", "figure", m.Figure.Key, "class", m.Figure.ClassName)
			continue
		}

		key := BucketKey(r.Plan, entry)
		label, ok := byKey[key]
		if !ok {
			label = &Label{Volume: models.NewVolume(shape)}
			if key != "" {
				label.Class = entry.Name
				label.PixelValue = entry.PixelValue
			}
			byKey[key] = label
			labels = append(labels, label)
		}

		value := entry.PixelValue
		if r.Plan.Mode == models.Instance {
			next, err := Next(counters[key])
			if err != nil {
				return nil, skipped, fmt.Errorf("class %q: %w", entry.Name, err)
			}
			value = next
		}

		n, err := label.Volume.Burn(m.Voxels, value)
		if err != nil {
			return nil, skipped, fmt.Errorf("figure %s: %w", m.Figure.Key, err)
		}
		// the counter follows the volume maximum, so empty masks do not consume an ordinal
		if r.Plan.Mode == models.Instance && n > 0 {
			counters[key] = value
		}
		label.Masks++
	}
	return labels, skipped, nil
}
