// Package export converts a native volume project into NIfTI or NRRD label exports.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"volexport/internal/models"
	"volexport/pkg/catalog"
	"volexport/pkg/classindex"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/geometry"
	"volexport/pkg/metrics"
	"volexport/pkg/naming"
	"volexport/pkg/project"
	"volexport/pkg/remote"
	"volexport/pkg/resolve"
	"volexport/pkg/structure"
)

// PreviewDir is the directory under the output root that receives label previews.
const PreviewDir = "_previews"

// Params holds the export parameters.
type Params struct {
	// ProjectDir is the project in the native annotation layout.
	ProjectDir string

	// Dataset limits the export to one dataset, matched by its full or
	// simple name. Empty exports every dataset.
	Dataset string

	// Format is the target format of volumes and labels.
	Format models.Format

	// Mode selects semantic or instance label encoding.
	Mode models.SegmentationMode

	// NumCores bounds the concurrent mask file reads of one item.
	NumCores int

	// ContinueOnError logs a failed item and carries on with the next one.
	// By default the first failed item aborts the run.
	ContinueOnError bool

	// Previews saves PNG mid slices of every label volume under PreviewDir.
	Previews bool
}

// Env carries the collaborators of an export run.
type Env struct {
	// Catalog supplies remote volume locations; nil means none.
	Catalog catalog.Catalog

	// Fetcher downloads remote volumes; nil disables pass-through.
	Fetcher remote.Fetcher

	// Converter turns native volumes into NIfTI; nil uses resolve.NRRDToNIfTI.
	Converter resolve.Converter

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID       string
	ProjectName string
	OutputDir   string

	// Dataset and DatasetDir are set when a single dataset was exported
	Dataset    string
	DatasetDir string

	// ClassIndex is the class index artifact, or "" when none was written
	ClassIndex string

	Datasets       int
	Items          int
	FailedItems    int
	LabelsWritten  int
	FiguresSkipped int
	BytesWritten   uint64
	Duration       time.Duration
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d datasets, %d items (%d failed), %d labels, %d figures skipped, %s written in %s",
		s.Datasets, s.Items, s.FailedItems, s.LabelsWritten, s.FiguresSkipped,
		humanize.Bytes(s.BytesWritten), s.Duration.Round(time.Millisecond))
}

// Exporter converts one project.
//
// The export runs in these steps:
// 1. Opening the project and assigning the class index
// 2. Exporting every dataset into a staging directory next to the project
// 3. Moving the staging directory into place
type Exporter struct {
	params *Params
	env    Env

	resolver *resolve.Resolver
	decoder  *geometry.Decoder

	project *project.Project
	index   *classindex.Map
	staging string
	summary *Summary
	log     *slog.Logger
}

// NewExporter creates an exporter. Missing collaborators get defaults.
func NewExporter(params *Params, env Env) *Exporter {
	if env.Catalog == nil {
		env.Catalog = catalog.None{}
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Metrics == nil {
		env.Metrics = metrics.New()
	}
	return &Exporter{
		params: params,
		env:    env,
		resolver: &resolve.Resolver{
			Fetcher:   env.Fetcher,
			Converter: env.Converter,
			Logger:    env.Logger,
		},
		decoder: &geometry.Decoder{Workers: params.NumCores, Logger: env.Logger},
	}
}

// Process runs the complete export. On failure the original project is left
// untouched and the staging directory is removed.
func (e *Exporter) Process(ctx context.Context) (*Summary, error) {
	start := time.Now()
	e.summary = &Summary{RunID: uuid.NewString()}
	e.log = e.env.Logger.With("run", e.summary.RunID)
	defer func() {
		e.summary.Duration = time.Since(start)
		e.env.Metrics.ObserveRun(start)
	}()

	e.log.Info("step 1: opening project", "dir", e.params.ProjectDir)
	p, err := project.Open(e.params.ProjectDir)
	if err != nil {
		return nil, volerrors.WrapInvalid(err, "export", "Process", "open project")
	}
	e.project = p
	e.summary.ProjectName = p.Name
	if e.params.Dataset != "" {
		ds, err := selectDataset(p.Datasets, e.params.Dataset)
		if err != nil {
			return nil, volerrors.WrapInvalid(err, "export", "Process", "select dataset")
		}
		p.Datasets = []models.Dataset{ds}
		e.summary.Dataset = ds.SimpleName()
	}
	e.index, err = classindex.Assign(p.Classes)
	if err != nil {
		return nil, volerrors.WrapInvalid(err, "export", "Process", "assign class index")
	}
	for _, entry := range e.index.Entries() {
		e.log.Debug("class index", "class", entry.Name, "pixelValue", entry.PixelValue)
	}

	e.staging = naming.Free(filepath.Join(filepath.Dir(p.Dir), p.Name+"_"+e.params.Format.String()), "", naming.Exists)
	e.log.Info("step 2: exporting datasets", "datasets", len(p.Datasets), "staging", e.staging, "format", e.params.Format, "mode", e.params.Mode)
	if err := os.MkdirAll(e.staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %v", err)
	}
	for _, ds := range p.Datasets {
		if err := e.exportDataset(ctx, ds); err != nil {
			os.RemoveAll(e.staging)
			return nil, err
		}
	}

	e.log.Info("step 3: finalizing output")
	if err := e.finalize(); err != nil {
		return nil, err
	}
	e.log.Info("export completed", "output", e.summary.OutputDir)
	return e.summary, nil
}

// selectDataset finds a dataset by hierarchical name, falling back to a
// unique simple name.
func selectDataset(datasets []models.Dataset, name string) (models.Dataset, error) {
	var matches []models.Dataset
	for _, ds := range datasets {
		if ds.Name == name {
			return ds, nil
		}
		if ds.SimpleName() == name {
			matches = append(matches, ds)
		}
	}
	switch len(matches) {
	case 0:
		return models.Dataset{}, fmt.Errorf("dataset %q not found", name)
	case 1:
		return matches[0], nil
	}
	return models.Dataset{}, fmt.Errorf("dataset name %q is ambiguous, use the full name", name)
}

func (e *Exporter) exportDataset(ctx context.Context, ds models.Dataset) error {
	plan := models.Plan{
		Structure: structure.Classify(ds.Items, e.params.Format),
		Mode:      e.params.Mode,
		Format:    e.params.Format,
	}
	log := e.log.With("dataset", ds.Name)
	if e.params.Format == models.NIfTI && structure.IsMixed(ds.Items) {
		log.Warn("dataset mixes prefixed and unprefixed items, using per-item directories",
			"unprefixed", structure.Unprefixed(ds.Items))
	}
	log.Info("exporting dataset", "items", len(ds.Items), "plan", plan)

	dsOut := filepath.Join(e.staging, ds.RelDir)
	if err := os.MkdirAll(dsOut, 0755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %v", err)
	}
	if plan.Structure == models.Type2 {
		if err := e.writeClassIndex(); err != nil {
			return err
		}
	}
	e.summary.Datasets++
	e.env.Metrics.Datasets.WithLabelValues(plan.Structure.String()).Inc()

	for _, name := range ds.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.summary.Items++
		err := e.exportItem(ctx, ds, dsOut, plan, name)
		if err == nil {
			e.env.Metrics.Items.WithLabelValues(metrics.StatusConverted).Inc()
			continue
		}
		e.summary.FailedItems++
		e.env.Metrics.Items.WithLabelValues(metrics.StatusFailed).Inc()
		if !e.params.ContinueOnError {
			return fmt.Errorf("item %s/%s: %w", ds.Name, name, err)
		}
		log.Error("item failed, continuing", "item", name, "class", volerrors.Classify(err), "error", err)
	}
	return nil
}

// writeClassIndex writes the class index artifact once per run.
func (e *Exporter) writeClassIndex() error {
	path := filepath.Join(e.staging, classindex.FileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := e.index.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write class index: %v", err)
	}
	e.log.Info("wrote class index", "path", path, "classes", e.index.Len())
	return nil
}

// finalize moves the staging tree into place. A NIfTI export replaces the
// original project directory; an NRRD export stays next to it.
func (e *Exporter) finalize() error {
	if e.params.Format != models.NIfTI {
		e.summary.OutputDir = e.staging
	} else {
		if err := os.RemoveAll(e.project.Dir); err != nil {
			return fmt.Errorf("failed to remove original project: %v", err)
		}
		if err := os.Rename(e.staging, e.project.Dir); err != nil {
			return fmt.Errorf("failed to move export into place: %v", err)
		}
		e.summary.OutputDir = e.project.Dir
	}

	if p := filepath.Join(e.summary.OutputDir, classindex.FileName); naming.Exists(p) {
		e.summary.ClassIndex = p
	}
	if e.params.Dataset != "" {
		e.summary.DatasetDir = filepath.Join(e.summary.OutputDir, e.project.Datasets[0].RelDir)
	}
	return nil
}

// addBytes records the size of a written file.
func (e *Exporter) addBytes(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	e.summary.BytesWritten += uint64(fi.Size())
	e.env.Metrics.BytesWritten.Add(float64(fi.Size()))
}
