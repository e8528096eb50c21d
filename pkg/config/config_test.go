package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volexport/internal/models"
	volerrors "volexport/pkg/errors"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input:
  projectDir: /data/lungs
  dataset: lungs/left
export:
  format: nrrd
  mode: instance
  continueOnError: true
processing:
  numCores: 3
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/lungs", cfg.Input.ProjectDir)
	assert.Equal(t, "lungs/left", cfg.Input.Dataset)
	assert.True(t, cfg.Export.ContinueOnError)
	assert.Equal(t, 3, cfg.Processing.NumCores)
	assert.Equal(t, "info", cfg.Logging.Level, "unset fields keep defaults")

	f, err := cfg.Format()
	require.NoError(t, err)
	assert.Equal(t, models.NRRD, f)
	m, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, models.Instance, m)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[input]
projectDir = "/data/lungs"

[remote]
uploadBucket = "s3://exports"
createProjectFolder = true

[logging]
level = "debug"
file = "/var/log/volexport.log"
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "s3://exports", cfg.Remote.UploadBucket)
	assert.True(t, cfg.Remote.CreateProjectFolder)
	assert.Equal(t, "/var/log/volexport.log", cfg.LoggingConfig().File)
	assert.Equal(t, "debug", cfg.LoggingConfig().Level)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"out/config.yaml", "out/config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Input.ProjectDir = "/data/p"
			cfg.Export.Previews = true
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), volerrors.ErrInvalidConfig)

	cfg.Input.ProjectDir = "/data/p"
	require.NoError(t, cfg.Validate())

	cfg.Export.Format = "dicom"
	assert.ErrorIs(t, cfg.Validate(), volerrors.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Input.ProjectDir = "/data/p"
	cfg.Processing.NumCores = 0
	assert.ErrorIs(t, cfg.Validate(), volerrors.ErrInvalidConfig)

	cfg.Processing.NumCores = 1
	cfg.Logging.Level = "loud"
	assert.ErrorIs(t, cfg.Validate(), volerrors.ErrInvalidConfig)
}
