// Package resolve produces the exported volume file of an item, either by fetching
// a remote copy that is already in the target format or by converting/copying
// the local source volume.
package resolve

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"gonum.org/v1/gonum/mat"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/naming"
	"volexport/pkg/nifti"
	"volexport/pkg/nrrd"
	"volexport/pkg/remote"
)

// Resolved describes the volume file written for an item. Path is authoritative:
// it may differ from the requested output path when a remote file was fetched.
type Resolved struct {
	Path   string
	Format models.Format

	// Shape is the voxel grid of the written file, in file order
	Shape [3]int

	// Remote is the remote path fetched, or "" for a local conversion
	Remote string

	// Canonical reorders file-order voxels into closest-RAS order (NIfTI only)
	Canonical nifti.Transform

	// Affine is the voxel-to-RAS transform of the canonical grid (NIfTI only)
	Affine *mat.Dense

	// Header is the source header used to encode labels (NRRD only)
	Header *nrrd.Header
}

// Resolver resolves item volumes.
type Resolver struct {
	Fetcher   remote.Fetcher
	Converter Converter
	Logger    *slog.Logger
}

// Compatible reports whether a remote file can be passed through for format.
func Compatible(remotePath string, format models.Format) bool {
	ext := strings.ToLower(path.Ext(strings.SplitN(remotePath, "?", 2)[0]))
	switch format {
	case models.NIfTI:
		return ext == ".nii" || ext == ".gz"
	case models.NRRD:
		return ext == ".nrrd"
	}
	return false
}

// Resolve writes the item's volume at outPath (or at outPath with the remote
// file's extension) and reads back the geometry labels need. Any failure is
// fatal for the item and leaves no file behind.
func (r *Resolver) Resolve(ctx context.Context, item models.Item, remotePath, outPath string, format models.Format) (*Resolved, error) {
	res := &Resolved{Path: outPath, Format: format}

	if remotePath != "" && r.Fetcher != nil && Compatible(remotePath, format) {
		remoteName := path.Base(strings.SplitN(remotePath, "?", 2)[0])
		if ext := models.VolumeExt(remoteName); ext != models.VolumeExt(outPath) {
			res.Path = naming.FreePath(models.StripVolumeExt(outPath)+ext, ext)
			r.Logger.Debug("output extension follows remote file", "item", item.Name, "path", res.Path)
		}
		r.Logger.Info("fetching remote volume", "item", item.Name, "remote", remotePath)
		if err := r.Fetcher.Fetch(ctx, remotePath, res.Path); err != nil {
			return nil, r.fail(res.Path, err, "fetch")
		}
		res.Remote = remotePath
	} else {
		var err error
		switch format {
		case models.NIfTI:
			conv := r.Converter
			if conv == nil {
				conv = NRRDToNIfTI{}
			}
			err = conv.Convert(item.VolumePath, res.Path)
		case models.NRRD:
			err = copyFile(item.VolumePath, res.Path)
		default:
			err = fmt.Errorf("%w: %s", volerrors.ErrUnsupported, format)
		}
		if err != nil {
			return nil, r.fail(res.Path, err, "convert")
		}
	}

	if err := res.readBack(); err != nil {
		return nil, r.fail(res.Path, err, "read back")
	}
	return res, nil
}

func (r *Resolver) fail(path string, err error, action string) error {
	os.Remove(path)
	return volerrors.WrapFatal(fmt.Errorf("%w: %v", volerrors.ErrVolumeResolve, err), "resolve", "Resolve", action)
}

// readBack loads the geometry from the written file.
func (res *Resolved) readBack() error {
	switch res.Format {
	case models.NIfTI:
		img, err := nifti.ReadInfo(res.Path)
		if err != nil {
			return err
		}
		res.Shape = img.Shape
		res.Canonical = nifti.CanonicalTransform(img.Affine)
		res.Affine = res.Canonical.Affine(img.Affine, img.Shape)
	case models.NRRD:
		f, err := os.Open(res.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		h, err := nrrd.ReadHeader(bufio.NewReader(f))
		if err != nil {
			return err
		}
		res.Shape = h.Sizes
		res.Header = h
	}
	return nil
}
