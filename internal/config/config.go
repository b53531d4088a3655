package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultIngestURL is the RTMP base that stream keys are appended to.
const DefaultIngestURL = "rtmp://a.rtmp.youtube.com/live2/"

type Config struct {
	// DataDir holds the per-instance stream databases
	DataDir string `yaml:"data_dir"`

	// InstanceID selects the database file (streams_<first 8 chars>.db).
	// Empty means "default".
	InstanceID string `yaml:"instance_id"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// IngestURL is the RTMP base URL; the destination key is appended verbatim
	IngestURL string `yaml:"ingest_url"`

	// Listen is the HTTP listen address for the API (default ":8080")
	Listen string `yaml:"listen"`

	// LogLevel controls logging verbosity: debug, info, warn, error (default: info)
	LogLevel string `yaml:"log_level"`

	// LogFormat selects the log handler: text, json or journal (default: text)
	LogFormat string `yaml:"log_format"`

	// DetectEncoders probes `ffmpeg -encoders` at startup and skips
	// hardware variants the binary does not list
	DetectEncoders bool `yaml:"detect_encoders"`

	// VAAPIDevice is the render node used by the vaapi variant
	VAAPIDevice string `yaml:"vaapi_device"`

	// MonitorInterval is how often dead encoder processes are reconciled
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// StartGrace is how long start waits before re-checking the process
	StartGrace time.Duration `yaml:"start_grace"`

	// StopTimeout is how long a stop waits for a graceful exit before killing
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:         "data",
		InstanceID:      "default",
		FFmpegPath:      "ffmpeg",
		IngestURL:       DefaultIngestURL,
		Listen:          ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		DetectEncoders:  true,
		VAAPIDevice:     "/dev/dri/renderD128",
		MonitorInterval: 3 * time.Second,
		StartGrace:      2 * time.Second,
		StopTimeout:     3 * time.Second,
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.InstanceID == "" {
		c.InstanceID = d.InstanceID
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.IngestURL == "" {
		c.IngestURL = d.IngestURL
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.VAAPIDevice == "" {
		c.VAAPIDevice = d.VAAPIDevice
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.StartGrace <= 0 {
		c.StartGrace = d.StartGrace
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
}

// ApplyEnv overrides fields from RESTREAMER_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RESTREAMER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RESTREAMER_INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}
	if v := os.Getenv("RESTREAMER_FFMPEG_PATH"); v != "" {
		c.FFmpegPath = v
	}
	if v := os.Getenv("RESTREAMER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RESTREAMER_LISTEN"); v != "" {
		c.Listen = v
	}
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DatabasePath returns the database file for an instance id.
// Only the first 8 characters of the id are used in the file name.
func (c *Config) DatabasePath(instanceID string) string {
	return filepath.Join(c.DataDir, DatabaseFile(instanceID))
}

// DatabaseFile returns streams_<prefix>.db for an instance id.
func DatabaseFile(instanceID string) string {
	id := strings.TrimSpace(instanceID)
	if id == "" {
		id = "default"
	}
	if r := []rune(id); len(r) > 8 {
		id = string(r[:8])
	}
	return "streams_" + id + ".db"
}
