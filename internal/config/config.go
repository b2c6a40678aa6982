// Package config loads and validates the YAML configuration of the exporter.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-psd2img/internal/imageutil"
	"github.com/alnah/go-psd2img/internal/logging"
	"github.com/alnah/go-psd2img/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrInvalidConfig   = errors.New("invalid config")
)

// Processing modes.
const (
	ModeStandard   = "standard"
	ModeAggressive = "aggressive"
)

// Defaults.
const (
	DefaultOutputDir       = "public"
	DefaultQueueCapacity   = 100
	DefaultFullWait        = 5 * time.Second
	DefaultTaskTimeout     = 300 * time.Second
	DefaultZombieInterval  = 30 * time.Second
	DefaultCheckInterval   = 2 * time.Second
	DefaultRecoveryTimeout = 30 * time.Second
	DefaultMedium          = 0.7
	DefaultHigh            = 0.8
	DefaultCritical        = 0.9
)

// Config holds all configuration for an export run.
type Config struct {
	Output     OutputConfig     `yaml:"output"`
	Processing ProcessingConfig `yaml:"processing"`
	Queue      QueueConfig      `yaml:"queue"`
	Memory     MemoryConfig     `yaml:"memory"`
	Store      StoreConfig      `yaml:"store"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        LogConfig        `yaml:"log"`
}

// OutputConfig defines where assets are written.
type OutputConfig struct {
	Dir string `yaml:"dir"` // Assets go to <dir>/processed/<project-id>/
}

// ProcessingConfig defines how a document is exported.
type ProcessingConfig struct {
	Mode          string   `yaml:"mode"`          // "standard" or "aggressive"
	Scales        []string `yaml:"scales"`        // "1x", "2x", ...
	Cores         int      `yaml:"cores"`         // 0 = available-1
	OptimizeLanes *bool    `yaml:"optimizeLanes"` // nil = true
	ReloadBase    *bool    `yaml:"reloadBase"`    // nil = true
}

// QueueConfig defines the bounded task queue.
type QueueConfig struct {
	Capacity       int      `yaml:"capacity"`
	FullWait       Duration `yaml:"fullWait"`
	TaskTimeout    Duration `yaml:"taskTimeout"`
	ZombieInterval Duration `yaml:"zombieInterval"`
}

// MemoryConfig defines the memory guard thresholds, as fractions of system memory.
type MemoryConfig struct {
	CheckInterval   Duration `yaml:"checkInterval"`
	RecoveryTimeout Duration `yaml:"recoveryTimeout"`
	Medium          float64  `yaml:"medium"`
	High            float64  `yaml:"high"`
	Critical        float64  `yaml:"critical"`
}

// StoreConfig selects the catalog backend.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file; empty = in-memory catalog
}

// NotifyConfig selects the progress sink.
type NotifyConfig struct {
	Listen string `yaml:"listen"` // WebSocket listen address; empty = log only
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("5s", "1m30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LanesEnabled reports whether lane interleaving is on.
func (p ProcessingConfig) LanesEnabled() bool {
	return p.OptimizeLanes == nil || *p.OptimizeLanes
}

// ReloadEnabled reports whether upscales are produced from the reloaded 1x file.
func (p ProcessingConfig) ReloadEnabled() bool {
	return p.ReloadBase == nil || *p.ReloadBase
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero field with its default.
func (c *Config) ApplyDefaults() {
	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}
	if c.Processing.Mode == "" {
		c.Processing.Mode = ModeStandard
	}
	if len(c.Processing.Scales) == 0 {
		c.Processing.Scales = []string{"1x"}
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = DefaultQueueCapacity
	}
	setDuration(&c.Queue.FullWait, DefaultFullWait)
	setDuration(&c.Queue.TaskTimeout, DefaultTaskTimeout)
	setDuration(&c.Queue.ZombieInterval, DefaultZombieInterval)
	setDuration(&c.Memory.CheckInterval, DefaultCheckInterval)
	setDuration(&c.Memory.RecoveryTimeout, DefaultRecoveryTimeout)
	if c.Memory.Medium == 0 {
		c.Memory.Medium = DefaultMedium
	}
	if c.Memory.High == 0 {
		c.Memory.High = DefaultHigh
	}
	if c.Memory.Critical == 0 {
		c.Memory.Critical = DefaultCritical
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatText
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// Validate checks every field and returns the first problem found.
// Called automatically by LoadConfig, but available for callers that
// merge flags and environment variables on top of a loaded file.
func (c *Config) Validate() error {
	switch c.Processing.Mode {
	case ModeStandard, ModeAggressive:
	default:
		return fmt.Errorf("%w: processing.mode: %q (must be standard or aggressive)", ErrInvalidConfig, c.Processing.Mode)
	}
	scales, err := imageutil.ParseScales(c.Processing.Scales)
	if err != nil {
		return fmt.Errorf("%w: processing.scales: %v", ErrInvalidConfig, err)
	}
	c.Processing.Scales = imageutil.Labels(scales)

	if c.Processing.Cores < 0 {
		return fmt.Errorf("%w: processing.cores: must be >= 0, got %d", ErrInvalidConfig, c.Processing.Cores)
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("%w: queue.capacity: must be >= 1, got %d", ErrInvalidConfig, c.Queue.Capacity)
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"queue.fullWait", c.Queue.FullWait},
		{"queue.taskTimeout", c.Queue.TaskTimeout},
		{"queue.zombieInterval", c.Queue.ZombieInterval},
		{"memory.checkInterval", c.Memory.CheckInterval},
		{"memory.recoveryTimeout", c.Memory.RecoveryTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s: must be positive", ErrInvalidConfig, d.name)
		}
	}

	m := c.Memory
	if m.Medium <= 0 || m.Medium >= m.High || m.High >= m.Critical || m.Critical > 1 {
		return fmt.Errorf("%w: memory thresholds must satisfy 0 < medium < high < critical <= 1, got %.2f/%.2f/%.2f",
			ErrInvalidConfig, m.Medium, m.High, m.Critical)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("%w: log.format: %q (must be text or json)", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Returns error if the file is not found (no silent fallback).
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	configPath := nameOrPath
	if !isFilePath(nameOrPath) {
		var err error
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := yamlutil.ReadFile(configPath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// isFilePath returns true if the string looks like a file path.
func isFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\") || strings.HasSuffix(s, ".yaml") || strings.HasSuffix(s, ".yml")
}

// resolveConfigPath searches for a config file by name in standard locations.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, ~/.config/psd2img/
func resolveConfigPath(name string) (string, error) {
	extensions := []string{".yaml", ".yml"}
	triedPaths := make([]string, 0, len(extensions)*2)

	for _, ext := range extensions {
		localPath := name + ext
		if fileExists(localPath) {
			return localPath, nil
		}
		triedPaths = append(triedPaths, localPath)
	}

	if userConfigDir, err := os.UserConfigDir(); err == nil {
		for _, ext := range extensions {
			userPath := filepath.Join(userConfigDir, "psd2img", name+ext)
			if fileExists(userPath) {
				return userPath, nil
			}
			triedPaths = append(triedPaths, userPath)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(triedPaths, ", "))
}

// fileExists returns true if the path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
