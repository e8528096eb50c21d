// Package geometry loads the per-figure 3D mask files of an item and turns them
// into boolean voxel masks on the item's grid.
package geometry

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/nrrd"
	"volexport/pkg/project"
)

// MaskExt is the extension of mask geometry files.
const MaskExt = ".nrrd"

// Mask is a decoded figure geometry.
type Mask struct {
	Figure models.Figure
	Voxels []bool
}

// Batch is the result of reading a mask directory.
type Batch struct {
	// Blobs maps the hex figure key to the raw file bytes
	Blobs map[string][]byte

	// Failed maps keys whose file could not be read to the cause
	Failed map[string]error
}

// MaskPaths lists the geometry files of a mask directory. A missing directory has none.
func MaskPaths(maskDir string) ([]string, error) {
	if maskDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(maskDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), MaskExt) {
			paths = append(paths, filepath.Join(maskDir, e.Name()))
		}
	}
	return paths, nil
}

// KeyOf returns the normalized hex key encoded in a mask file name.
func KeyOf(path string) string {
	base := filepath.Base(path)
	return project.NormalizeKey(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ReadBatch reads all files concurrently with at most workers readers. Individual
// read failures are reported in Batch.Failed; only cancellation returns an error.
func ReadBatch(ctx context.Context, paths []string, workers int) (*Batch, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	b := &Batch{Blobs: make(map[string][]byte, len(paths)), Failed: map[string]error{}}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			key := KeyOf(p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.Failed[key] = err
			} else {
				b.Blobs[key] = data
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode parses a mask blob and checks it covers a grid of the given shape.
func Decode(raw []byte, shape [3]int) ([]bool, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := nrrd.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volerrors.ErrGeometryCorrupt, err)
	}
	// the shape check comes first so a corrupt header never sizes an allocation
	if h.Sizes != shape {
		return nil, fmt.Errorf("%w: mask shape %v does not match volume shape %v", volerrors.ErrGeometryCorrupt, h.Sizes, shape)
	}
	data, err := nrrd.ReadData(br, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volerrors.ErrGeometryCorrupt, err)
	}
	img := &nrrd.Image{Header: *h, Data: data}
	return img.Nonzero(), nil
}

// Decoder turns an item's spatial figures into masks, skipping figures whose
// geometry is missing or unreadable.
type Decoder struct {
	Workers int
	Logger  *slog.Logger
}

// Masks returns the decoded masks in annotation order and the number of skipped figures.
func (d *Decoder) Masks(ctx context.Context, maskDir string, figures []models.Figure, shape [3]int) ([]Mask, int, error) {
	if len(figures) == 0 {
		return nil, 0, nil
	}
	paths, err := MaskPaths(maskDir)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing masks in %s: %w", maskDir, err)
	}
	batch, err := ReadBatch(ctx, paths, d.Workers)
	if err != nil {
		return nil, 0, err
	}

	var masks []Mask
	skipped := 0
	for _, f := range figures {
		voxels, err := d.decodeFigure(batch, f, shape)
		if err != nil {
			if !volerrors.IsRecoverable(err) {
				return nil, skipped, err
			}
			skipped++
			d.Logger.Warn("skipping figure", "figure", f.Key, "class", f.ClassName, "error", err)
			continue
		}
		masks = append(masks, Mask{Figure: f, Voxels: voxels})
	}
	return masks, skipped, nil
}

func (d *Decoder) decodeFigure(batch *Batch, f models.Figure, shape [3]int) ([]bool, error) {
	key := project.NormalizeKey(f.Key)
	if cause, ok := batch.Failed[key]; ok {
		return nil, volerrors.WrapRecoverable(fmt.Errorf("%w: %v", volerrors.ErrGeometryCorrupt, cause), "geometry", "Masks", "read")
	}
	raw, ok := batch.Blobs[key]
	if !ok {
		return nil, volerrors.WrapRecoverable(volerrors.ErrGeometryMissing, "geometry", "Masks", "lookup")
	}
	voxels, err := Decode(raw, shape)
	if err != nil {
		return nil, volerrors.WrapRecoverable(err, "geometry", "Masks", "decode")
	}
	return voxels, nil
}
