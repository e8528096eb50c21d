package export

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/naming"
	"volexport/pkg/project"
	"volexport/pkg/rasterize"
	"volexport/pkg/scores"
	"volexport/pkg/structure"
	"volexport/pkg/visualization"
)

// exportItem runs the item pipeline: resolve the volume, decode masks,
// rasterize and persist labels, then emit scores and previews.
func (e *Exporter) exportItem(ctx context.Context, ds models.Dataset, dsOut string, plan models.Plan, name string) error {
	item := project.Item(ds, name)
	stem := item.Stem()
	log := e.log.With("dataset", ds.Name, "item", name)

	remotePath := e.env.Catalog.RemotePath(ds.SimpleName(), name)
	// a volume never replaces a label or volume written earlier in the dataset
	volOut := naming.FreePath(filepath.Join(dsOut, stem+plan.Format.Ext()), plan.Format.Ext())
	res, err := e.resolver.Resolve(ctx, item, remotePath, volOut, plan.Format)
	if err != nil {
		return err
	}
	e.addBytes(res.Path)

	ann, err := e.loadAnnotation(item)
	if err != nil {
		return err
	}

	masks, skipped, err := e.decoder.Masks(ctx, item.MaskDir, ann.SpatialFigures, res.Shape)
	if err != nil {
		return volerrors.WrapFatal(err, "export", "exportItem", "decode masks")
	}
	r := &rasterize.Rasterizer{Plan: plan, Index: e.index, Logger: log}
	labels, unknown, err := r.Rasterize(masks, res.Shape)
	if err != nil {
		return volerrors.WrapFatal(err, "export", "exportItem", "rasterize")
	}
	e.summary.FiguresSkipped += skipped + unknown
	e.env.Metrics.FiguresSkipped.Add(float64(skipped + unknown))

	for _, l := range labels {
		path := rasterize.FinalPath(plan, rasterize.LabelPath(plan, dsOut, stem, l))
		if err := rasterize.Write(path, l.Volume, res); err != nil {
			return volerrors.WrapFatal(err, "export", "exportItem", "write label")
		}
		log.Debug("wrote label", "path", path, "class", l.Class, "masks", l.Masks)
		e.summary.LabelsWritten++
		e.env.Metrics.LabelsWritten.WithLabelValues(plan.Format.String()).Inc()
		e.addBytes(path)

		if e.params.Previews {
			if err := e.savePreview(plan, ds, stem, path, l); err != nil {
				log.Warn("failed to save preview", "label", path, "error", err)
			}
		}
	}
	if len(labels) == 0 {
		log.Info("item has no labels")
	}

	if plan.WantsScores() {
		if err := e.writeScores(ann, dsOut, item, log); err != nil {
			return volerrors.WrapFatal(err, "export", "exportItem", "write scores")
		}
	}
	return nil
}

// loadAnnotation reads the item's annotation. A missing document means an
// unannotated item.
func (e *Exporter) loadAnnotation(item models.Item) (*models.Annotation, error) {
	ann, err := project.LoadAnnotation(item.AnnotationPath)
	if os.IsNotExist(err) {
		e.log.Warn("annotation missing, exporting volume only", "item", item.Name, "path", item.AnnotationPath)
		return &models.Annotation{}, nil
	}
	if err != nil {
		return nil, volerrors.WrapFatal(err, "export", "exportItem", "load annotation")
	}
	return ann, nil
}

func (e *Exporter) writeScores(ann *models.Annotation, dsOut string, item models.Item, log *slog.Logger) error {
	orientation, _ := structure.Orientation(item.Name)
	table := scores.Collect(ann.SpatialFigures, e.index, orientation, log)
	if len(table) == 0 {
		return nil
	}
	path := naming.FreePath(filepath.Join(dsOut, rasterize.ScoreFileName(item.Stem())), ".csv")
	if err := scores.WriteFile(path, table); err != nil {
		return err
	}
	log.Info("wrote score table", "path", path, "frames", len(table))
	e.addBytes(path)
	return nil
}

// savePreview renders the label's mid slices under
// <staging>/_previews/<dataset>/<item-stem>/<label-stem>_<axis>.png.
func (e *Exporter) savePreview(plan models.Plan, ds models.Dataset, stem, labelPath string, l *rasterize.Label) error {
	palette := visualization.ClassPalette(e.index)
	if plan.Mode == models.Instance {
		if entry, ok := e.index.Lookup(l.Class); ok {
			palette = visualization.SolidPalette(entry.Color)
		}
	}
	dir := filepath.Join(e.staging, PreviewDir, ds.RelDir, stem)
	name := strings.TrimSuffix(filepath.Base(labelPath), plan.Format.Ext())
	_, err := visualization.NewViewer(l.Volume, palette).SaveMidSlices(dir, name)
	return err
}
