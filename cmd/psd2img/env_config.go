package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alnah/go-psd2img/internal/config"
)

// envConfig holds configuration from environment variables.
// Provides CI/CD-friendly overrides without requiring YAML files.
type envConfig struct {
	ConfigPath string   // PSD2IMG_CONFIG: config file path
	OutputDir  string   // PSD2IMG_OUTPUT_DIR: output root
	Scales     []string // PSD2IMG_SCALES: comma list
	Mode       string   // PSD2IMG_MODE: standard or aggressive
	Cores      int      // PSD2IMG_CORES: worker count, -1 when unset
	DB         string   // PSD2IMG_DB: SQLite catalog path
	Listen     string   // PSD2IMG_LISTEN: WebSocket address
	LogLevel   string   // PSD2IMG_LOG_LEVEL: slog level
}

// knownEnvVars lists valid PSD2IMG_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	"PSD2IMG_CONFIG":     true,
	"PSD2IMG_OUTPUT_DIR": true,
	"PSD2IMG_SCALES":     true,
	"PSD2IMG_MODE":       true,
	"PSD2IMG_CORES":      true,
	"PSD2IMG_DB":         true,
	"PSD2IMG_LISTEN":     true,
	"PSD2IMG_LOG_LEVEL":  true,
}

// loadEnvConfig reads configuration from environment variables.
// Malformed numbers are ignored rather than reported.
func loadEnvConfig() *envConfig {
	cfg := &envConfig{
		ConfigPath: os.Getenv("PSD2IMG_CONFIG"),
		OutputDir:  os.Getenv("PSD2IMG_OUTPUT_DIR"),
		Mode:       os.Getenv("PSD2IMG_MODE"),
		Cores:      -1,
		DB:         os.Getenv("PSD2IMG_DB"),
		Listen:     os.Getenv("PSD2IMG_LISTEN"),
		LogLevel:   os.Getenv("PSD2IMG_LOG_LEVEL"),
	}

	if scales := os.Getenv("PSD2IMG_SCALES"); scales != "" {
		for _, s := range strings.Split(scales, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Scales = append(cfg.Scales, s)
			}
		}
	}

	if cores := os.Getenv("PSD2IMG_CORES"); cores != "" {
		if n, err := strconv.Atoi(cores); err == nil && n >= 0 {
			cfg.Cores = n
		}
	}

	return cfg
}

// warnUnknownEnvVars logs warnings for unrecognized PSD2IMG_* variables.
func warnUnknownEnvVars(w io.Writer) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "PSD2IMG_") {
			name := strings.SplitN(env, "=", 2)[0]
			if !knownEnvVars[name] {
				fmt.Fprintf(w, "warning: unknown environment variable %s (typo?)\n", name)
			}
		}
	}
}

// applyEnvConfig applies environment variable values on top of the loaded
// file. CLI flags are applied afterwards by mergeFlags, giving
// flags > env vars > config file > defaults.
func applyEnvConfig(env *envConfig, cfg *config.Config) {
	if env.OutputDir != "" {
		cfg.Output.Dir = env.OutputDir
	}
	if len(env.Scales) > 0 {
		cfg.Processing.Scales = env.Scales
	}
	if env.Mode != "" {
		cfg.Processing.Mode = env.Mode
	}
	if env.Cores >= 0 {
		cfg.Processing.Cores = env.Cores
	}
	if env.DB != "" {
		cfg.Store.Path = env.DB
	}
	if env.Listen != "" {
		cfg.Notify.Listen = env.Listen
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
}
