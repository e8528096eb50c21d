// Package project reads a volume project stored in the native annotation layout:
//
//	<project>/meta.json
//	<project>/<dataset>/volume/<item>
//	<project>/<dataset>/ann/<item>.json
//	<project>/<dataset>/mask/<item>/<figure-key>.nrrd
//	<project>/<dataset>/datasets/<child-dataset>/...
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
)

const (
	MetaFile      = "meta.json"
	VolumeDir     = "volume"
	AnnotationDir = "ann"
	MaskDir       = "mask"
	NestedDir     = "datasets"
)

const metaSchema = `
{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "volume project meta",
  "type": "object",
  "required": ["classes"],
  "properties": {
    "classes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": { "type": "string", "minLength": 1 },
          "color": { "type": "string", "pattern": "^#[0-9A-Fa-f]{6}$" },
          "description": { "type": "string" },
          "shape": { "type": "string" }
        }
      }
    }
  }
}`

var compiledMetaSchema = jsonschema.MustCompileString("meta.schema.json", metaSchema)

type metaJSON struct {
	Classes []struct {
		Title       string `json:"title"`
		Color       string `json:"color"`
		Description string `json:"description"`
	} `json:"classes"`
}

// Project is an opened project directory.
type Project struct {
	Dir      string
	Name     string
	Classes  []models.ObjectClass
	Datasets []models.Dataset
}

// Open reads the project meta and discovers datasets and items.
func Open(dir string) (*Project, error) {
	dir = filepath.Clean(dir)
	classes, err := readMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}

	p := &Project{Dir: dir, Name: filepath.Base(dir), Classes: classes}
	if err := p.discover(dir, ""); err != nil {
		return nil, err
	}
	return p, nil
}

func readMeta(path string) ([]models.ObjectClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading project meta: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", volerrors.ErrInvalidMeta, err)
	}
	if err := compiledMetaSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", volerrors.ErrInvalidMeta, err)
	}

	var meta metaJSON
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", volerrors.ErrInvalidMeta, err)
	}
	classes := make([]models.ObjectClass, 0, len(meta.Classes))
	for _, c := range meta.Classes {
		color, err := ParseColor(c.Color)
		if err != nil {
			return nil, fmt.Errorf("%w: class %q: %v", volerrors.ErrInvalidMeta, c.Title, err)
		}
		classes = append(classes, models.ObjectClass{Name: c.Title, Color: color, Description: c.Description})
	}
	return classes, nil
}

// ParseColor parses "#RRGGBB". An empty string is black.
func ParseColor(s string) ([3]uint8, error) {
	var rgb [3]uint8
	if s == "" {
		return rgb, nil
	}
	if len(s) != 7 || s[0] != '#' {
		return rgb, fmt.Errorf("bad colour %q", s)
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(s[1+2*i:3+2*i], 16, 8)
		if err != nil {
			return rgb, fmt.Errorf("bad colour %q", s)
		}
		rgb[i] = uint8(v)
	}
	return rgb, nil
}

func isDatasetDir(dir string) bool {
	for _, sub := range []string{VolumeDir, AnnotationDir} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}

// discover walks dir for datasets; parent is the hierarchical name prefix.
func (p *Project) discover(dir, parent string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dsDir := filepath.Join(dir, e.Name())
		if !isDatasetDir(dsDir) && !dirExists(filepath.Join(dsDir, NestedDir)) {
			continue
		}
		name := e.Name()
		if parent != "" {
			name = parent + "/" + e.Name()
		}
		rel, err := filepath.Rel(p.Dir, dsDir)
		if err != nil {
			return err
		}

		if isDatasetDir(dsDir) {
			items, err := listItems(dsDir)
			if err != nil {
				return fmt.Errorf("dataset %s: %w", name, err)
			}
			p.Datasets = append(p.Datasets, models.Dataset{Name: name, Dir: dsDir, RelDir: rel, Items: items})
		}
		if nested := filepath.Join(dsDir, NestedDir); dirExists(nested) {
			if err := p.discover(nested, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// listItems lists volume files, falling back to annotation names.
func listItems(dsDir string) ([]string, error) {
	var names []string
	if entries, err := os.ReadDir(filepath.Join(dsDir, VolumeDir)); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	if len(names) > 0 {
		return names, nil
	}
	entries, err := os.ReadDir(filepath.Join(dsDir, AnnotationDir))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Item returns the file locations of one item. MaskDir is empty when the item has no masks.
func Item(ds models.Dataset, name string) models.Item {
	it := models.Item{
		Name:           name,
		VolumePath:     filepath.Join(ds.Dir, VolumeDir, name),
		AnnotationPath: filepath.Join(ds.Dir, AnnotationDir, name+".json"),
	}
	if md := filepath.Join(ds.Dir, MaskDir, name); dirExists(md) {
		it.MaskDir = md
	}
	return it
}

// LoadAnnotation decodes an annotation document and resolves each figure's class.
// Figures whose object is unknown keep an empty ClassName.
func LoadAnnotation(path string) (*models.Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ann models.Annotation
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, fmt.Errorf("error parsing annotation %s: %w", path, err)
	}
	classOf := make(map[string]string, len(ann.Objects))
	for _, o := range ann.Objects {
		classOf[NormalizeKey(o.Key)] = o.ClassName
	}
	for i := range ann.SpatialFigures {
		f := &ann.SpatialFigures[i]
		f.Key = NormalizeKey(f.Key)
		f.ClassName = classOf[NormalizeKey(f.ObjectKey)]
	}
	return &ann, nil
}

// NormalizeKey lower-cases a hex key and strips UUID dashes.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "-", ""))
}
