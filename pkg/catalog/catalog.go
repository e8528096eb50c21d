// Package catalog answers where an item's volume already lives in remote storage.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog looks up the remote back-reference of an item. Datasets are matched
// by their simple (last segment) name.
type Catalog interface {
	RemotePath(dataset, item string) string
}

// None is a catalog without any remote references.
type None struct{}

// RemotePath always returns "".
func (None) RemotePath(string, string) string { return "" }

// Manifest is a catalog loaded from a YAML document:
//
//	datasets:
//	  lungs:
//	    axl_anatomic_1.nrrd: s3://bucket/lungs/axl_anatomic_1.nii.gz
type Manifest struct {
	Datasets map[string]map[string]string `yaml:"datasets"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog: %w", err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing catalog: %w", err)
	}
	return m, nil
}

// RemotePath returns the remote path recorded for an item, or "".
func (m *Manifest) RemotePath(dataset, item string) string {
	if m == nil {
		return ""
	}
	return m.Datasets[dataset][item]
}
