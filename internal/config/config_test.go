package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)

	cfg := Default()
	assert.Equal(t, filepath.Join(home, "config.yaml"), cfg.ConfigPath())
	assert.Equal(t, filepath.Join(home, "history.db"), cfg.History.Path)
	assert.Equal(t, 512, cfg.Tiler.Params.PatchSize)
	assert.Equal(t, "0000", cfg.Tiler.Params.Borders)
	assert.Equal(t, 2048, cfg.Tiler.ErrorTail)
	assert.InDelta(t, 0.2, cfg.Batch.Fraction, 1e-9)
	assert.Equal(t, []string{"svs", "tiff", "tif"}, cfg.Input.Extensions)
	require.NoError(t, cfg.Validate())
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())

	cfg := Default()
	cfg.SetConfigPath(filepath.Join(t.TempDir(), "sub", "config.yaml"))
	cfg.Tiler.Timeout = 90 * time.Second
	cfg.Batch.Strategy = "cpu"
	cfg.Publish.S3 = S3Config{Enabled: true, Endpoint: "localhost:9000", Bucket: "tiles"}
	require.NoError(t, cfg.Save())

	data, err := os.ReadFile(cfg.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 1m30s")

	loaded := Default()
	loaded.SetConfigPath(cfg.ConfigPath())
	require.NoError(t, loaded.Load())
	assert.Equal(t, 90*time.Second, loaded.Tiler.Timeout)
	assert.Equal(t, "cpu", loaded.Batch.Strategy)
	assert.Equal(t, "tiles", loaded.Publish.S3.Bucket)
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg := Default()
	cfg.SetConfigPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, cfg.Load())
	assert.Equal(t, "python3", cfg.Tiler.Command)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiler: [\n"), 0o600))

	cfg := Default()
	cfg.SetConfigPath(path)
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestNew_ReadsHomeConfigAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(`
tiler:
  script: /opt/pyhist/pyhist.py
batch:
  fraction: 0.5
`), 0o600))
	t.Setenv(EnvBatchFraction, "0.25")
	t.Setenv(EnvLogLevel, "warn")

	cfg := New()
	assert.Equal(t, "/opt/pyhist/pyhist.py", cfg.Tiler.Script)
	assert.InDelta(t, 0.25, cfg.Batch.Fraction, 1e-9, "env overrides the file")
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogFormat:     "json",
		EnvTilerCommand:  "/usr/bin/python3.11",
		EnvTilerScript:   "/srv/pyhist.py",
		EnvTilerTimeout:  "45s",
		EnvBatchFraction: "not-a-number",
		EnvWorkspace:     "/scratch",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.ApplyEnv(lookup)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/usr/bin/python3.11", cfg.Tiler.Command)
	assert.Equal(t, "/srv/pyhist.py", cfg.Tiler.Script)
	assert.Equal(t, 45*time.Second, cfg.Tiler.Timeout)
	assert.InDelta(t, 0.2, cfg.Batch.Fraction, 1e-9, "unparsable values are ignored")
	assert.Equal(t, "/scratch", cfg.Workspace.Root)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "fraction above one", mutate: func(c *Config) { c.Batch.Fraction = 1.2 }, wantErr: ErrInvalidFraction},
		{name: "unknown strategy", mutate: func(c *Config) { c.Batch.Strategy = "gpu" }, wantErr: ErrInvalidStrategy},
		{
			name:    "fixed needs size",
			mutate:  func(c *Config) { c.Batch.Strategy = "fixed" },
			wantErr: ErrInvalidBatchSize,
		},
		{name: "cpu", mutate: func(c *Config) { c.Batch.Strategy = "cpu" }},
		{name: "negative timeout", mutate: func(c *Config) { c.Tiler.Timeout = -time.Second }, wantErr: ErrInvalidTimeout},
		{name: "no extensions", mutate: func(c *Config) { c.Input.Extensions = nil }, wantErr: ErrNoExtensions},
		{name: "no command", mutate: func(c *Config) { c.Tiler.Command = " " }, wantErr: ErrMissingCommand},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: ErrInvalidLogFormat},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Publish.S3 = S3Config{Enabled: true, Endpoint: "s3:9000"} },
			wantErr: ErrMissingEndpoint,
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.Notify.Kafka.Enabled = true },
			wantErr: ErrMissingBrokers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
