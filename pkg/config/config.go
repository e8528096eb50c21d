// Package config provides configuration loading and management for volexport.
// It handles loading configuration from YAML (or TOML) files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
	"volexport/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	// Input locations
	Input struct {
		// ProjectDir is the native project to export
		ProjectDir string `yaml:"projectDir" toml:"projectDir"`

		// Catalog is an optional YAML manifest of remote volume locations
		Catalog string `yaml:"catalog" toml:"catalog"`

		// Dataset limits the export to one dataset; empty exports all
		Dataset string `yaml:"dataset" toml:"dataset"`
	} `yaml:"input" toml:"input"`

	// Export parameters
	Export struct {
		// Format is the target format: nifti or nrrd
		Format string `yaml:"format" toml:"format"`

		// Mode is the label encoding: semantic or instance
		Mode string `yaml:"mode" toml:"mode"`

		// ContinueOnError logs failed items and moves on instead of aborting the run
		ContinueOnError bool `yaml:"continueOnError" toml:"continueOnError"`

		// Previews saves PNG mid slices of every label volume
		Previews bool `yaml:"previews" toml:"previews"`
	} `yaml:"export" toml:"export"`

	// Processing parameters
	Processing struct {
		// NumCores bounds how many mask files are read concurrently
		NumCores int `yaml:"numCores" toml:"numCores"`
	} `yaml:"processing" toml:"processing"`

	// Remote storage
	Remote struct {
		// Fetch enables pass-through download of catalogued volumes
		Fetch bool `yaml:"fetch" toml:"fetch"`

		// UploadBucket, when set, receives the exported tree, e.g. s3://bucket
		UploadBucket string `yaml:"uploadBucket" toml:"uploadBucket"`

		// CreateProjectFolder uploads a single dataset as <project>/<dataset>
		CreateProjectFolder bool `yaml:"createProjectFolder" toml:"createProjectFolder"`
	} `yaml:"remote" toml:"remote"`

	Logging struct {
		Level      string `yaml:"level" toml:"level"`
		File       string `yaml:"file" toml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
		MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
	} `yaml:"logging" toml:"logging"`

	Metrics struct {
		// Textfile receives the run metrics in Prometheus text format
		Textfile string `yaml:"textfile" toml:"textfile"`
	} `yaml:"metrics" toml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Export.Format = models.NIfTI.String()
	cfg.Export.Mode = models.Semantic.String()

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Remote.Fetch = true

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxAgeDays = 28

	return cfg
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML file, or a TOML file when the
// path ends in .toml. If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML (or TOML) file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer f.Close()

	if isTOML(configPath) {
		err = toml.NewEncoder(f).Encode(cfg)
	} else {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		err = enc.Encode(cfg)
		if err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	return f.Close()
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	if c.Input.ProjectDir == "" {
		return fmt.Errorf("%w: input.projectDir is required", volerrors.ErrInvalidConfig)
	}
	if _, err := c.Format(); err != nil {
		return fmt.Errorf("%w: %v", volerrors.ErrInvalidConfig, err)
	}
	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("%w: %v", volerrors.ErrInvalidConfig, err)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("%w: processing.numCores must be positive", volerrors.ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", volerrors.ErrInvalidConfig, err)
	}
	return nil
}

// Format returns the parsed export format.
func (c *Config) Format() (models.Format, error) {
	return models.ParseFormat(strings.ToLower(c.Export.Format))
}

// Mode returns the parsed segmentation mode.
func (c *Config) Mode() (models.SegmentationMode, error) {
	return models.ParseSegmentationMode(strings.ToLower(c.Export.Mode))
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
