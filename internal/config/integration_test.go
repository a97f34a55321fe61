package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalConfig(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	ResetGlobalConfigForTest()
	t.Cleanup(ResetGlobalConfigForTest)

	cfg := GetGlobalConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "fraction", cfg.Batch.Strategy)

	// Subsequent calls return the same instance
	assert.Same(t, cfg, GetGlobalConfig())

	ResetGlobalConfigForTest()
	assert.NotSame(t, cfg, GetGlobalConfig())

	replacement := Default()
	SetGlobalConfig(replacement)
	assert.Same(t, replacement, GetGlobalConfig())
}

func TestConfigGetters(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	ResetGlobalConfigForTest()
	t.Cleanup(ResetGlobalConfigForTest)

	cfg := GetGlobalConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.File = "/tmp/test.log"

	assert.Equal(t, "debug", GetLogLevel())
	assert.Equal(t, "/tmp/test.log", GetLogFile())

	lc := GetLoggingConfig()
	loggingCfg := lc.ToLoggingConfig()
	assert.Equal(t, "file", loggingCfg.Output)
	assert.Equal(t, "/tmp/test.log", loggingCfg.File)

	lc.File = ""
	assert.Equal(t, "stderr", lc.ToLoggingConfig().Output)
}

func TestEnsureConfigDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "custom")
	t.Setenv(EnvHome, home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(home)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetConfigDir_DefaultsUnderHome(t *testing.T) {
	t.Setenv(EnvHome, "")
	t.Setenv("HOME", "/home/tester")

	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".slidetiler"), dir)
}

func TestEnsureLogDir(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	ResetGlobalConfigForTest()
	t.Cleanup(ResetGlobalConfigForTest)

	logFile := filepath.Join(t.TempDir(), "nested", "logs", "tile_processing.log")
	GetGlobalConfig().Logging.File = logFile

	require.NoError(t, EnsureLogDir())
	_, err := os.Stat(filepath.Dir(logFile))
	require.NoError(t, err)
}
