// Package config loads slidetiler settings from ~/.slidetiler/config.yaml, an
// optional overlay file and SLIDETILER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by Load.
const (
	EnvHome          = "SLIDETILER_HOME"
	EnvLogLevel      = "SLIDETILER_LOG_LEVEL"
	EnvLogFormat     = "SLIDETILER_LOG_FORMAT"
	EnvTilerCommand  = "SLIDETILER_TILER_COMMAND"
	EnvTilerScript   = "SLIDETILER_TILER_SCRIPT"
	EnvTilerTimeout  = "SLIDETILER_TILER_TIMEOUT"
	EnvBatchFraction = "SLIDETILER_BATCH_FRACTION"
	EnvWorkspace     = "SLIDETILER_WORKSPACE"
)

const (
	configFileName = "config.yaml"
	outputTypeFile = "file"

	defaultTimeout      = 30 * time.Minute
	defaultWaitDelay    = 10 * time.Second
	defaultErrorTail    = 2 << 10
	defaultMaxEntrySize = 16 << 30
	defaultRetention    = 24 * time.Hour
	defaultFraction     = 0.2
)

// Validation errors.
var (
	ErrInvalidFraction  = errors.New("batch.fraction must be in (0, 1]")
	ErrInvalidStrategy  = errors.New("batch.strategy must be fraction, cpu or fixed")
	ErrInvalidBatchSize = errors.New("batch.size must be positive for the fixed strategy")
	ErrInvalidTimeout   = errors.New("tiler.timeout must not be negative")
	ErrNoExtensions     = errors.New("input.extensions must not be empty")
	ErrMissingCommand   = errors.New("tiler.command must be set")
	ErrMissingEndpoint  = errors.New("publish.s3 requires endpoint and bucket when enabled")
	ErrMissingBrokers   = errors.New("notify.kafka requires brokers and topic when enabled")
	ErrInvalidLogFormat = errors.New("logging.format must be json, console or text")
)

// Config is the full slidetiler configuration.
type Config struct {
	Tiler     TilerConfig     `yaml:"tiler"`
	Batch     BatchConfig     `yaml:"batch"`
	Input     InputConfig     `yaml:"input"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
	Publish   PublishConfig   `yaml:"publish"`
	Notify    NotifyConfig    `yaml:"notify"`

	configPath string
}

// TilerConfig describes how the external tiling tool is run.
type TilerConfig struct {
	Command   string        `yaml:"command"`
	Script    string        `yaml:"script"`
	Timeout   time.Duration `yaml:"timeout"`
	WaitDelay time.Duration `yaml:"wait_delay"`
	ErrorTail int           `yaml:"error_tail"`
	TileGlob  string        `yaml:"tile_glob"`
	Params    TilerParams   `yaml:"params"`
	ExtraArgs []string      `yaml:"extra_args,omitempty"`
}

// TilerParams are passed through to the tool unchanged.
type TilerParams struct {
	PatchSize            int     `yaml:"patch_size"`
	ContentThreshold     float64 `yaml:"content_threshold"`
	OutputDownsample     int     `yaml:"output_downsample"`
	Borders              string  `yaml:"borders"`
	Corners              string  `yaml:"corners"`
	PercentageBC         float64 `yaml:"percentage_bc"`
	KConst               int     `yaml:"k_const"`
	MinimumSegmentSize   int     `yaml:"minimum_segment_size"`
	SavePatches          bool    `yaml:"save_patches"`
	SaveTilecrossedImage bool    `yaml:"save_tilecrossed_image"`
	Info                 string  `yaml:"info"`
}

// BatchConfig selects the batch sizing strategy.
type BatchConfig struct {
	Strategy string  `yaml:"strategy"`
	Fraction float64 `yaml:"fraction"`
	Size     int     `yaml:"size"`
}

// InputConfig controls which files are treated as images.
type InputConfig struct {
	Extensions   []string `yaml:"extensions"`
	MaxEntrySize int64    `yaml:"max_entry_size"`
}

// WorkspaceConfig controls scratch directories.
type WorkspaceConfig struct {
	Root      string        `yaml:"root"`
	Keep      bool          `yaml:"keep"`
	Retention time.Duration `yaml:"retention"`
}

// OutputConfig controls the output archive contents.
type OutputConfig struct {
	Path        string `yaml:"path"`
	RenameTiles bool   `yaml:"rename_tiles"`
	Report      bool   `yaml:"report"`
}

// LoggingConfig controls log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
	Caller bool   `yaml:"caller,omitempty"`
}

// HistoryConfig controls the local run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PublishConfig holds archive publishers.
type PublishConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config targets an S3-compatible bucket.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NotifyConfig holds run completion notifiers.
type NotifyConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig targets a Kafka topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	dir, err := GetConfigDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), ".slidetiler")
	}

	return &Config{
		Tiler: TilerConfig{
			Command:   "python3",
			Script:    "pyhist.py",
			Timeout:   defaultTimeout,
			WaitDelay: defaultWaitDelay,
			ErrorTail: defaultErrorTail,
			TileGlob:  "*.png",
			Params: TilerParams{
				PatchSize:            512,
				ContentThreshold:     0.4,
				OutputDownsample:     4,
				Borders:              "0000",
				Corners:              "1010",
				PercentageBC:         1,
				KConst:               1000,
				MinimumSegmentSize:   1000,
				SavePatches:          true,
				SaveTilecrossedImage: true,
				Info:                 "verbose",
			},
		},
		Batch: BatchConfig{
			Strategy: "fraction",
			Fraction: defaultFraction,
		},
		Input: InputConfig{
			Extensions:   []string{"svs", "tiff", "tif"},
			MaxEntrySize: defaultMaxEntrySize,
		},
		Workspace: WorkspaceConfig{
			Root:      filepath.Join(os.TempDir(), "slidetiler"),
			Retention: defaultRetention,
		},
		Output: OutputConfig{
			Path:        "tiles.zip",
			RenameTiles: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "history.db"),
		},
		Notify: NotifyConfig{
			Kafka: KafkaConfig{Topic: "slidetiler.runs"},
		},
		configPath: filepath.Join(dir, configFileName),
	}
}

// New returns the default configuration overlaid with the user's config file
// and environment variables. A missing or unreadable file leaves the defaults.
func New() *Config {
	cfg := Default()
	_ = cfg.Load()
	cfg.ApplyEnv(os.LookupEnv)
	return cfg
}

// ConfigPath returns the file Load and Save use.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// SetConfigPath changes the file Load and Save use.
func (c *Config) SetConfigPath(path string) {
	c.configPath = path
}

// Load decodes the config file on top of the current values. A missing file
// is not an error.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", c.configPath, err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", c.configPath, err)
	}
	return nil
}

// Save writes the configuration to its config path.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err = os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", c.configPath, err)
	}
	return nil
}

// ApplyEnv applies SLIDETILER_* overrides. Values that do not parse are ignored.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) {
	if v, ok := lookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookupEnv(EnvLogFormat); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := lookupEnv(EnvTilerCommand); ok && v != "" {
		c.Tiler.Command = v
	}
	if v, ok := lookupEnv(EnvTilerScript); ok && v != "" {
		c.Tiler.Script = v
	}
	if v, ok := lookupEnv(EnvTilerTimeout); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Tiler.Timeout = d
		}
	}
	if v, ok := lookupEnv(EnvBatchFraction); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Batch.Fraction = f
		}
	}
	if v, ok := lookupEnv(EnvWorkspace); ok && v != "" {
		c.Workspace.Root = v
	}
}

// Validate checks the configuration for values no run could use.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Tiler.Command) == "" {
		errs = append(errs, ErrMissingCommand)
	}
	if c.Tiler.Timeout < 0 || c.Tiler.WaitDelay < 0 {
		errs = append(errs, ErrInvalidTimeout)
	}

	switch c.Batch.Strategy {
	case "", "fraction":
		if c.Batch.Fraction < 0 || c.Batch.Fraction > 1 {
			errs = append(errs, ErrInvalidFraction)
		}
	case "cpu":
	case "fixed":
		if c.Batch.Size <= 0 {
			errs = append(errs, ErrInvalidBatchSize)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidStrategy, c.Batch.Strategy))
	}

	if len(c.Input.Extensions) == 0 {
		errs = append(errs, ErrNoExtensions)
	}

	switch c.Logging.Format {
	case "", "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidLogFormat, c.Logging.Format))
	}

	if s3 := c.Publish.S3; s3.Enabled && (s3.Endpoint == "" || s3.Bucket == "") {
		errs = append(errs, ErrMissingEndpoint)
	}
	if k := c.Notify.Kafka; k.Enabled && (len(k.Brokers) == 0 || k.Topic == "") {
		errs = append(errs, ErrMissingBrokers)
	}

	return errors.Join(errs...)
}
