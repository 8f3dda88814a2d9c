package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment override
const envPrefix = "BLOCKTALLY_"

// Config holds all configuration options for blocktally
type Config struct {
	Scan          ScanConfig         `yaml:"scan" json:"scan"`
	Workers       WorkersConfig      `yaml:"workers" json:"workers"`
	Memory        MemoryConfig       `yaml:"memory" json:"memory"`
	Checkpoint    CheckpointConfig   `yaml:"checkpoint" json:"checkpoint"`
	Export        ExportConfig       `yaml:"export" json:"export"`
	Mover         MoverConfig        `yaml:"mover" json:"mover"`
	Progress      ProgressConfig     `yaml:"progress" json:"progress"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics" json:"metrics"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// ScanConfig selects the region files and the vertical slice that gets counted
type ScanConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	Extension string `yaml:"extension" json:"extension"`
	// YStart is inclusive, YEnd exclusive
	YStart int `yaml:"y_start" json:"y_start"`
	YEnd   int `yaml:"y_end" json:"y_end"`
}

// WorkersConfig caps the two worker pools
type WorkersConfig struct {
	ChunkMax int `yaml:"chunk_max" json:"chunk_max"`
	MoverMax int `yaml:"mover_max" json:"mover_max"`
}

// MemoryConfig controls the admission gate in front of every region file
type MemoryConfig struct {
	// MaxUsagePercent of 100 disables the gate
	MaxUsagePercent float64       `yaml:"max_usage_percent" json:"max_usage_percent"`
	SampleInterval  time.Duration `yaml:"sample_interval" json:"sample_interval"`
}

// CheckpointConfig holds progress persistence settings
type CheckpointConfig struct {
	Path         string        `yaml:"path" json:"path"`
	SaveAttempts int           `yaml:"save_attempts" json:"save_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// Backoff is constant or exponential; exponential doubles from RetryDelay
	Backoff      string        `yaml:"backoff" json:"backoff"`
}

// ExportConfig holds result table settings
type ExportConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	Format    string `yaml:"format" json:"format"`
	// Name defaults to "<y_start>_<y_end>"
	Name string `yaml:"name" json:"name"`
}

// MoverConfig holds archive settings for processed region files
type MoverConfig struct {
	Destination string        `yaml:"destination" json:"destination"`
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`
}

// ProgressConfig selects how progress is presented
type ProgressConfig struct {
	Mode string `yaml:"mode" json:"mode"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnAbort    bool `yaml:"on_abort" json:"on_abort"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddress is set
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

var (
	validFormats       = map[string]bool{"csv": true, "markdown": true, "html": true, "table": true}
	validProgressModes = map[string]bool{"auto": true, "tui": true, "plain": true, "none": true}
	validBackoffs      = map[string]bool{"constant": true, "exponential": true}
	validLogLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "disabled": true}
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Scan: ScanConfig{
			Directory: ".",
			Extension: ".mca",
			YStart:    160,
			YEnd:      240,
		},
		Workers: WorkersConfig{
			ChunkMax: 16,
			MoverMax: 100,
		},
		Memory: MemoryConfig{
			MaxUsagePercent: 100,
			SampleInterval:  time.Second,
		},
		Checkpoint: CheckpointConfig{
			Path:         "progress.json",
			SaveAttempts: 3,
			RetryDelay:   200 * time.Millisecond,
			Backoff:      "exponential",
		},
		Export: ExportConfig{
			Directory: ".",
			Format:    "csv",
		},
		Mover: MoverConfig{
			GracePeriod: 5 * time.Second,
		},
		Progress: ProgressConfig{
			Mode: "auto",
		},
		Notifications: NotificationConfig{
			Enabled:    false,
			OnComplete: true,
			OnAbort:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ExportName returns the configured export name or the y-range default
func (c *Config) ExportName() string {
	if c.Export.Name != "" {
		return c.Export.Name
	}
	return fmt.Sprintf("%d_%d", c.Scan.YStart, c.Scan.YEnd)
}

// LoadFromEnv loads configuration from BLOCKTALLY_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString(envPrefix+"DIRECTORY", &c.Scan.Directory)
	setString(envPrefix+"EXTENSION", &c.Scan.Extension)
	setString(envPrefix+"CHECKPOINT", &c.Checkpoint.Path)
	setString(envPrefix+"EXPORT_DIR", &c.Export.Directory)
	setString(envPrefix+"EXPORT_FORMAT", &c.Export.Format)
	setString(envPrefix+"MOVE_DESTINATION", &c.Mover.Destination)
	setString(envPrefix+"PROGRESS", &c.Progress.Mode)
	setString(envPrefix+"METRICS_ADDR", &c.Metrics.ListenAddress)
	setString(envPrefix+"LOG_LEVEL", &c.Logging.Level)
	setString(envPrefix+"LOG_FILE", &c.Logging.File)

	errs = append(errs,
		setInt(envPrefix+"Y_START", &c.Scan.YStart),
		setInt(envPrefix+"Y_END", &c.Scan.YEnd),
		setInt(envPrefix+"WORKERS", &c.Workers.ChunkMax),
		setInt(envPrefix+"MOVER_WORKERS", &c.Workers.MoverMax),
	)

	if v := os.Getenv(envPrefix + "MAX_MEMORY_PERCENT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_MEMORY_PERCENT: %w", envPrefix, err))
		} else {
			c.Memory.MaxUsagePercent = f
		}
	}

	if v := os.Getenv(envPrefix + "NOTIFICATIONS"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}

	return errors.Join(errs...)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// LoadFromFile loads configuration from a YAML file. An empty path searches the
// default locations and is not an error when nothing is found.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile returns the first default config location that exists, or ""
func FindConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".blocktally.yaml",
		".blocktally.yml",
		filepath.Join(home, ".config", "blocktally", "config.yaml"),
		filepath.Join(home, ".blocktally.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Scan.Directory == "" {
		errs = append(errs, errors.New("scan directory is required"))
	}
	if !strings.HasPrefix(c.Scan.Extension, ".") {
		errs = append(errs, errors.New("scan extension must start with a dot"))
	}
	if c.Scan.YStart >= c.Scan.YEnd {
		errs = append(errs, fmt.Errorf("y_start (%d) must be below y_end (%d)", c.Scan.YStart, c.Scan.YEnd))
	}

	if c.Workers.ChunkMax <= 0 {
		errs = append(errs, errors.New("chunk worker limit must be positive"))
	}
	if c.Workers.MoverMax <= 0 || c.Workers.MoverMax > 100 {
		errs = append(errs, errors.New("mover worker limit must be between 1 and 100"))
	}

	if c.Memory.MaxUsagePercent <= 0 || c.Memory.MaxUsagePercent > 100 {
		errs = append(errs, errors.New("max memory usage percent must be in (0, 100]"))
	}
	if c.Memory.SampleInterval <= 0 {
		errs = append(errs, errors.New("memory sample interval must be positive"))
	}

	if c.Checkpoint.Path == "" {
		errs = append(errs, errors.New("checkpoint path is required"))
	}
	if c.Checkpoint.SaveAttempts <= 0 {
		errs = append(errs, errors.New("checkpoint save attempts must be positive"))
	}
	if !validBackoffs[strings.ToLower(c.Checkpoint.Backoff)] {
		errs = append(errs, fmt.Errorf("invalid checkpoint backoff %q", c.Checkpoint.Backoff))
	}

	if !validFormats[strings.ToLower(c.Export.Format)] {
		errs = append(errs, fmt.Errorf("invalid export format %q", c.Export.Format))
	}
	if c.Mover.GracePeriod < 0 {
		errs = append(errs, errors.New("mover grace period cannot be negative"))
	}
	if !validProgressModes[strings.ToLower(c.Progress.Mode)] {
		errs = append(errs, fmt.Errorf("invalid progress mode %q", c.Progress.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["directory"].(string); ok && v != "" {
		c.Scan.Directory = v
	}
	if v, ok := flags["y-start"].(int); ok {
		c.Scan.YStart = v
	}
	if v, ok := flags["y-end"].(int); ok {
		c.Scan.YEnd = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Workers.ChunkMax = v
	}
	if v, ok := flags["mover-workers"].(int); ok && v > 0 {
		c.Workers.MoverMax = v
	}
	if v, ok := flags["max-memory"].(float64); ok && v > 0 {
		c.Memory.MaxUsagePercent = v
	}
	if v, ok := flags["checkpoint"].(string); ok && v != "" {
		c.Checkpoint.Path = v
	}
	if v, ok := flags["export-dir"].(string); ok && v != "" {
		c.Export.Directory = v
	}
	if v, ok := flags["format"].(string); ok && v != "" {
		c.Export.Format = v
	}
	if v, ok := flags["destination"].(string); ok && v != "" {
		c.Mover.Destination = v
	}
	if v, ok := flags["progress"].(string); ok && v != "" {
		c.Progress.Mode = v
	}
	if v, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.ListenAddress = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line flags > environment > .env file > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".blocktally.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
