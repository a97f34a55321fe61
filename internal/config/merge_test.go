package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/slidetiler/internal/config"
)

// writeOverlay is a test helper that writes YAML content to a temp file
// and returns its path.
func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestMergeYAMLFile_PartialSection(t *testing.T) {
	target := config.Default()
	overlay := writeOverlay(t, `
tiler:
  timeout: 5m
  params:
    patch_size: 256
`)

	require.NoError(t, config.MergeYAMLFile(target, overlay))

	assert.Equal(t, 5*time.Minute, target.Tiler.Timeout)
	assert.Equal(t, 256, target.Tiler.Params.PatchSize)

	// Fields absent from the overlay keep their values.
	assert.Equal(t, "python3", target.Tiler.Command)
	assert.InDelta(t, 0.4, target.Tiler.Params.ContentThreshold, 1e-9)
	assert.Equal(t, "1010", target.Tiler.Params.Corners)
	assert.Equal(t, "fraction", target.Batch.Strategy)
}

func TestMergeYAMLFile_MultipleSections(t *testing.T) {
	target := config.Default()
	overlay := writeOverlay(t, `
batch:
  strategy: fixed
  size: 3
input:
  extensions: [ndpi]
logging:
  level: debug
`)

	require.NoError(t, config.MergeYAMLFile(target, overlay))

	assert.Equal(t, "fixed", target.Batch.Strategy)
	assert.Equal(t, 3, target.Batch.Size)
	assert.Equal(t, []string{"ndpi"}, target.Input.Extensions, "lists are replaced")
	assert.Equal(t, "debug", target.Logging.Level)
	assert.Equal(t, "console", target.Logging.Format)
}

func TestMergeYAMLFile_UnknownKeysIgnored(t *testing.T) {
	target := config.Default()
	overlay := writeOverlay(t, `
dashboard:
  foo: bar
output:
  report: true
`)

	require.NoError(t, config.MergeYAMLFile(target, overlay))
	assert.True(t, target.Output.Report)
	assert.True(t, target.Output.RenameTiles)
}

func TestMergeYAMLFile_EmptyFile(t *testing.T) {
	target := config.Default()
	before := *target

	require.NoError(t, config.MergeYAMLFile(target, writeOverlay(t, "# nothing\n")))
	assert.Equal(t, before, *target)
}

func TestMergeYAMLFile_Errors(t *testing.T) {
	require.Error(t, config.MergeYAMLFile(nil, "x"))

	err := config.MergeYAMLFile(config.Default(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading overlay file")

	err = config.MergeYAMLFile(config.Default(), writeOverlay(t, "tiler: [unclosed"))
	require.Error(t, err)

	err = config.MergeYAMLFile(config.Default(), writeOverlay(t, "batch:\n  size: many\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `overlay section "batch"`)
}
