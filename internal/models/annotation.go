package models

import "encoding/json"

// VolumeObject is an instance of an ObjectClass inside one item's annotation.
type VolumeObject struct {
	Key       string `json:"key"`
	ClassName string `json:"classTitle"`
}

// Figure is one annotated geometry referencing a VolumeObject.
type Figure struct {
	Key          string `json:"key"`
	ObjectKey    string `json:"objectKey"`
	GeometryType string `json:"geometryType"`

	// CustomData is free-form; per-frame scores live under orientation tags
	// as {"<frame>": <score>} objects
	CustomData map[string]json.RawMessage `json:"custom_data,omitempty"`

	// ClassName is resolved from the referenced object after loading
	ClassName string `json:"-"`
}

// Annotation is the decoded annotation document of one item.
type Annotation struct {
	Key            string         `json:"key"`
	Objects        []VolumeObject `json:"objects"`
	SpatialFigures []Figure       `json:"spatialFigures"`
}

// ScoreTable maps frame index to "Label-<n>" column to score.
type ScoreTable map[int]map[string]float64
